package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallStatus is the lifecycle state of a call.
// Transitions: waiting -> active -> {ended, skipped}. A call may also
// terminate straight from waiting when abandoned. Terminal states are
// immutable.
type CallStatus string

const (
	CallStatusWaiting CallStatus = "waiting"
	CallStatusActive  CallStatus = "active"
	CallStatusEnded   CallStatus = "ended"
	CallStatusSkipped CallStatus = "skipped"
)

// Terminal reports whether no further transitions are permitted.
func (s CallStatus) Terminal() bool {
	return s == CallStatusEnded || s == CallStatusSkipped
}

// MatchTier identifies which fallback bucket produced a match.
type MatchTier string

const (
	// MatchTierSeeking pairs with a user actively looking for a call.
	MatchTierSeeking MatchTier = "seeking"
	// MatchTierRecent pairs with a user active within the last few minutes.
	MatchTierRecent MatchTier = "recent"
	// MatchTierAnyOnline pairs with any online user, preempting their
	// current call if necessary.
	MatchTierAnyOnline MatchTier = "any_online"
)

// Call represents a one-on-one video call entity.
// Maps to CockroachDB calls table.
type Call struct {
	CallID        uuid.UUID  `json:"call_id" db:"call_id"`
	InitiatorID   uuid.UUID  `json:"initiator_id" db:"initiator_id"`
	ParticipantID *uuid.UUID `json:"participant_id,omitempty" db:"participant_id"`
	Status        CallStatus `json:"status" db:"status"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	Duration      int        `json:"duration" db:"duration"` // whole seconds, 0 until ended
}

// HasParty reports whether userID is the initiator or participant of the call.
func (c *Call) HasParty(userID uuid.UUID) bool {
	if c.InitiatorID == userID {
		return true
	}
	return c.ParticipantID != nil && *c.ParticipantID == userID
}

// Termination describes the outcome of a skip/end operation: the
// requester's terminated call plus the participant's mirrored call when
// one was bound.
type Termination struct {
	Call        *Call
	PartnerCall *Call
	PartnerID   *uuid.UUID
}

// CallResponse is the call representation returned to clients.
type CallResponse struct {
	CallID        uuid.UUID  `json:"call_id"`
	InitiatorID   uuid.UUID  `json:"initiator_id"`
	ParticipantID *uuid.UUID `json:"participant_id,omitempty"`
	Status        CallStatus `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	Duration      int        `json:"duration"`
}

// ToResponse converts Call to CallResponse.
func (c *Call) ToResponse() *CallResponse {
	return &CallResponse{
		CallID:        c.CallID,
		InitiatorID:   c.InitiatorID,
		ParticipantID: c.ParticipantID,
		Status:        c.Status,
		CreatedAt:     c.CreatedAt,
		StartedAt:     c.StartedAt,
		EndedAt:       c.EndedAt,
		Duration:      c.Duration,
	}
}
