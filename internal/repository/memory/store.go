// Package memory provides an in-process implementation of the user,
// call, match and message repositories. It backs limited mode, where
// the server runs without CockroachDB or Cassandra, and the service
// test suites.
//
// Concurrency follows the same shape as the SQL layer: every binding
// or termination locks the affected user entries in UUID order, then
// re-checks the availability predicates under the locks. There is no
// store-wide write lock on the hot path.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"randomtalk-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = domain.ErrNotFound

type userEntry struct {
	mu   sync.Mutex
	user domain.User
}

// Store holds all in-memory state.
type Store struct {
	mu       sync.RWMutex // guards map membership only
	users    map[uuid.UUID]*userEntry
	byName   map[string]uuid.UUID
	callsMu  sync.Mutex
	calls    map[uuid.UUID]*domain.Call
	msgMu    sync.Mutex
	messages map[uuid.UUID][]*domain.ChatMessage
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		users:    make(map[uuid.UUID]*userEntry),
		byName:   make(map[string]uuid.UUID),
		calls:    make(map[uuid.UUID]*domain.Call),
		messages: make(map[uuid.UUID][]*domain.ChatMessage),
	}
}

func (s *Store) entry(userID uuid.UUID) (*userEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.users[userID]
	return e, ok
}

// lockUsers locks the entries for the given IDs in UUID order and
// returns the unlock function. Duplicate IDs are collapsed.
func (s *Store) lockUsers(ids ...uuid.UUID) (func(), error) {
	seen := make(map[uuid.UUID]bool, len(ids))
	unique := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	sort.Slice(unique, func(i, j int) bool {
		return unique[i].String() < unique[j].String()
	})

	entries := make([]*userEntry, 0, len(unique))
	for _, id := range unique {
		e, ok := s.entry(id)
		if !ok {
			return nil, ErrNotFound
		}
		entries = append(entries, e)
	}
	for _, e := range entries {
		e.mu.Lock()
	}
	return func() {
		for i := len(entries) - 1; i >= 0; i-- {
			entries[i].mu.Unlock()
		}
	}, nil
}

func cloneUser(u domain.User) *domain.User {
	if u.CurrentCallID != nil {
		id := *u.CurrentCallID
		u.CurrentCallID = &id
	}
	return &u
}

func cloneCall(c domain.Call) *domain.Call {
	if c.ParticipantID != nil {
		id := *c.ParticipantID
		c.ParticipantID = &id
	}
	if c.StartedAt != nil {
		t := *c.StartedAt
		c.StartedAt = &t
	}
	if c.EndedAt != nil {
		t := *c.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// Create stores a new user.
func (s *Store) Create(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[user.Username]; exists {
		return domain.ErrUsernameExists
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	s.users[user.UserID] = &userEntry{user: *user}
	s.byName[user.Username] = user.UserID
	return nil
}

// GetByID retrieves a user by ID.
func (s *Store) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	e, ok := s.entry(userID)
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneUser(e.user), nil
}

// GetByUsername retrieves a user by username.
func (s *Store) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	userID, ok := s.byName[username]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.GetByID(ctx, userID)
}

// UsernameExists reports whether a username is taken.
func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byName[username]
	return ok, nil
}

// SetOnline marks the user online and refreshes last_seen.
func (s *Store) SetOnline(ctx context.Context, userID uuid.UUID, now time.Time) error {
	return s.updateUser(userID, func(u *domain.User) {
		u.Online = true
		u.LastSeen = now
	})
}

// SetOffline marks the user offline and clears the looking flag.
func (s *Store) SetOffline(ctx context.Context, userID uuid.UUID, now time.Time) error {
	return s.updateUser(userID, func(u *domain.User) {
		u.Online = false
		u.LookingForCall = false
		u.LastSeen = now
	})
}

// SetLookingForCall updates the looking flag and refreshes last_seen.
func (s *Store) SetLookingForCall(ctx context.Context, userID uuid.UUID, looking bool, now time.Time) error {
	return s.updateUser(userID, func(u *domain.User) {
		u.LookingForCall = looking
		u.LastSeen = now
	})
}

func (s *Store) updateUser(userID uuid.UUID, apply func(*domain.User)) error {
	e, ok := s.entry(userID)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	apply(&e.user)
	return nil
}

// ListSeeking returns online users actively looking for a call who hold
// a waiting call, in creation order.
func (s *Store) ListSeeking(ctx context.Context, exclude uuid.UUID) ([]*domain.User, error) {
	return s.listUsers(exclude, func(u *domain.User) bool {
		return u.LookingForCall && u.Online && u.CurrentCallID != nil
	}), nil
}

// ListRecentlyActive returns online users seen since the given instant
// who are not looking and hold no call.
func (s *Store) ListRecentlyActive(ctx context.Context, since time.Time, exclude uuid.UUID) ([]*domain.User, error) {
	return s.listUsers(exclude, func(u *domain.User) bool {
		return u.Online && !u.LastSeen.Before(since) && !u.LookingForCall && u.CurrentCallID == nil
	}), nil
}

// ListOnline returns every online user except the requester.
func (s *Store) ListOnline(ctx context.Context, exclude uuid.UUID) ([]*domain.User, error) {
	return s.listUsers(exclude, func(u *domain.User) bool {
		return u.Online
	}), nil
}

func (s *Store) listUsers(exclude uuid.UUID, match func(*domain.User) bool) []*domain.User {
	s.mu.RLock()
	entries := make([]*userEntry, 0, len(s.users))
	for _, e := range s.users {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var users []*domain.User
	for _, e := range entries {
		e.mu.Lock()
		if e.user.UserID != exclude && match(&e.user) {
			users = append(users, cloneUser(e.user))
		}
		e.mu.Unlock()
	}
	sort.Slice(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.Before(users[j].CreatedAt)
		}
		return users[i].UserID.String() < users[j].UserID.String()
	})
	return users
}

// GetCallByID retrieves a call by ID.
func (s *Store) GetCallByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	call, ok := s.calls[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCall(*call), nil
}

func (s *Store) putCall(call *domain.Call) {
	s.callsMu.Lock()
	s.calls[call.CallID] = call
	s.callsMu.Unlock()
}

// CreateCall inserts a new waiting call and claims the initiator's
// current-call slot. A user already holding a call gets
// domain.ErrAlreadyInCall.
func (s *Store) CreateCall(ctx context.Context, initiatorID uuid.UUID, now time.Time) (*domain.Call, error) {
	e, ok := s.entry(initiatorID)
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.user.CurrentCallID != nil {
		return nil, domain.ErrAlreadyInCall
	}

	call := &domain.Call{
		CallID:      uuid.New(),
		InitiatorID: initiatorID,
		Status:      domain.CallStatusWaiting,
		CreatedAt:   now,
	}
	s.putCall(call)

	callID := call.CallID
	e.user.CurrentCallID = &callID
	e.user.LookingForCall = true
	e.user.LastSeen = now
	return cloneCall(*call), nil
}

// Terminate moves the user's current call, and the bound participant's
// mirrored call when present, to the given terminal status. Both users'
// bindings are cleared.
func (s *Store) Terminate(ctx context.Context, userID uuid.UUID, status domain.CallStatus, now time.Time) (*domain.Termination, error) {
	e, ok := s.entry(userID)
	if !ok {
		return nil, ErrNotFound
	}

	// Learn both parties without holding any user lock, then lock in
	// order and re-verify, as the SQL layer does.
	for {
		e.mu.Lock()
		callID := e.user.CurrentCallID
		e.mu.Unlock()
		if callID == nil {
			return nil, domain.ErrNoActiveCall
		}

		lockIDs, ok := s.terminationParties(userID, *callID)
		if !ok {
			return nil, ErrNotFound
		}
		unlock, err := s.lockUsers(lockIDs...)
		if err != nil {
			return nil, err
		}

		// A concurrent bind may have given the call a participant
		// between the party snapshot and the lock acquisition. Restart
		// so the partner's entry joins the lock set before any write.
		current, ok := s.terminationParties(userID, *callID)
		if !ok {
			unlock()
			return nil, ErrNotFound
		}
		if !samePartySet(lockIDs, current) {
			unlock()
			continue
		}

		if e.user.CurrentCallID == nil || *e.user.CurrentCallID != *callID {
			unlock()
			return nil, domain.ErrNoActiveCall
		}

		result, err := s.terminateBound(e, userID, *callID, status, now)
		unlock()
		return result, err
	}
}

// terminationParties returns the user IDs whose entries must be locked
// to terminate the call: the requester plus the other party per the
// call's current participant set.
func (s *Store) terminationParties(userID, callID uuid.UUID) ([]uuid.UUID, bool) {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	call, ok := s.calls[callID]
	if !ok {
		return nil, false
	}
	ids := []uuid.UUID{userID}
	if call.ParticipantID != nil && *call.ParticipantID != userID {
		ids = append(ids, *call.ParticipantID)
	} else if call.InitiatorID != userID {
		ids = append(ids, call.InitiatorID)
	}
	return ids, true
}

func samePartySet(a, b []uuid.UUID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// terminateBound applies the terminal transition with both parties'
// entries locked.
func (s *Store) terminateBound(e *userEntry, userID, callID uuid.UUID, status domain.CallStatus, now time.Time) (*domain.Termination, error) {
	result := &domain.Termination{}
	var err error
	result.Call, err = s.terminateCall(callID, status, now)
	if err != nil {
		return nil, err
	}
	e.user.CurrentCallID = nil
	e.user.LookingForCall = false

	var partnerID *uuid.UUID
	if result.Call.InitiatorID != userID {
		id := result.Call.InitiatorID
		partnerID = &id
	} else if result.Call.ParticipantID != nil && *result.Call.ParticipantID != userID {
		id := *result.Call.ParticipantID
		partnerID = &id
	}
	if result.Call.ParticipantID != nil && partnerID != nil {
		result.PartnerID = partnerID
		if pe, ok := s.entry(*partnerID); ok && pe.user.CurrentCallID != nil {
			partnerCall, err := s.terminateCall(*pe.user.CurrentCallID, status, now)
			if err == nil {
				result.PartnerCall = partnerCall
			} else if !errors.Is(err, domain.ErrNoActiveCall) {
				return nil, err
			}
			pe.user.CurrentCallID = nil
			pe.user.LookingForCall = false
		}
	}

	return result, nil
}

func (s *Store) terminateCall(callID uuid.UUID, status domain.CallStatus, now time.Time) (*domain.Call, error) {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()

	call, ok := s.calls[callID]
	if !ok {
		return nil, ErrNotFound
	}
	if call.Status.Terminal() {
		return nil, domain.ErrNoActiveCall
	}
	call.Status = status
	endedAt := now
	call.EndedAt = &endedAt
	if status == domain.CallStatusEnded && call.StartedAt != nil {
		call.Duration = int(now.Sub(*call.StartedAt) / time.Second)
	}
	return cloneCall(*call), nil
}

// BindSeeking binds the requester's waiting call to a candidate's
// existing waiting call. Both calls move to active and both users stop
// looking.
func (s *Store) BindSeeking(ctx context.Context, requesterID, requesterCallID, candidateID, candidateCallID uuid.UUID, now time.Time) error {
	unlock, err := s.lockUsers(requesterID, candidateID)
	if err != nil {
		return domain.ErrMatchConflict
	}
	defer unlock()

	ce, _ := s.entry(candidateID)
	if !ce.user.Online || !ce.user.LookingForCall ||
		ce.user.CurrentCallID == nil || *ce.user.CurrentCallID != candidateCallID {
		return domain.ErrMatchConflict
	}

	if err := s.activateCall(requesterCallID, candidateID, now); err != nil {
		return err
	}
	if err := s.activateCall(candidateCallID, requesterID, now); err != nil {
		// Roll the requester's call back so retry predicates still hold.
		s.resetCall(requesterCallID)
		return err
	}

	ce.user.LookingForCall = false
	ce.user.LastSeen = now
	re, _ := s.entry(requesterID)
	re.user.LookingForCall = false
	return nil
}

// BindFresh creates a waiting call for a call-free candidate and binds
// it to the requester's call.
func (s *Store) BindFresh(ctx context.Context, requesterID, requesterCallID, candidateID uuid.UUID, now time.Time) (*domain.Call, error) {
	unlock, err := s.lockUsers(requesterID, candidateID)
	if err != nil {
		return nil, domain.ErrMatchConflict
	}
	defer unlock()

	return s.bindWithNewCall(requesterID, requesterCallID, candidateID, now)
}

// BindPreempt binds the requester to a candidate, forcibly ending the
// candidate's current call first when one exists.
func (s *Store) BindPreempt(ctx context.Context, requesterID, requesterCallID, candidateID uuid.UUID, now time.Time) (*domain.Call, *domain.Call, error) {
	unlock, err := s.lockUsers(requesterID, candidateID)
	if err != nil {
		return nil, nil, domain.ErrMatchConflict
	}
	defer unlock()

	ce, _ := s.entry(candidateID)
	if !ce.user.Online {
		return nil, nil, domain.ErrMatchConflict
	}

	var preempted *domain.Call
	if ce.user.CurrentCallID != nil {
		preempted, err = s.terminateCall(*ce.user.CurrentCallID, domain.CallStatusEnded, now)
		if err != nil && !errors.Is(err, domain.ErrNoActiveCall) {
			return nil, nil, err
		}
		ce.user.CurrentCallID = nil
		ce.user.LookingForCall = false
	}

	newCall, err := s.bindWithNewCall(requesterID, requesterCallID, candidateID, now)
	if err != nil {
		return nil, nil, err
	}
	return newCall, preempted, nil
}

// bindWithNewCall requires both user entries to be locked by the caller.
func (s *Store) bindWithNewCall(requesterID, requesterCallID, candidateID uuid.UUID, now time.Time) (*domain.Call, error) {
	ce, ok := s.entry(candidateID)
	if !ok {
		return nil, domain.ErrMatchConflict
	}
	if !ce.user.Online || ce.user.CurrentCallID != nil {
		return nil, domain.ErrMatchConflict
	}

	newCall := &domain.Call{
		CallID:      uuid.New(),
		InitiatorID: candidateID,
		Status:      domain.CallStatusWaiting,
		CreatedAt:   now,
	}
	s.putCall(newCall)

	if err := s.activateCall(requesterCallID, candidateID, now); err != nil {
		return nil, err
	}
	if err := s.activateCall(newCall.CallID, requesterID, now); err != nil {
		s.resetCall(requesterCallID)
		return nil, err
	}

	newCallID := newCall.CallID
	ce.user.CurrentCallID = &newCallID
	ce.user.LookingForCall = false
	ce.user.LastSeen = now

	re, _ := s.entry(requesterID)
	re.user.LookingForCall = false

	return s.GetCallByID(context.Background(), newCall.CallID)
}

func (s *Store) activateCall(callID, participantID uuid.UUID, now time.Time) error {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()

	call, ok := s.calls[callID]
	if !ok || call.Status != domain.CallStatusWaiting {
		return domain.ErrMatchConflict
	}
	pid := participantID
	startedAt := now
	call.ParticipantID = &pid
	call.Status = domain.CallStatusActive
	call.StartedAt = &startedAt
	return nil
}

func (s *Store) resetCall(callID uuid.UUID) {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	if call, ok := s.calls[callID]; ok && call.Status == domain.CallStatusActive {
		call.ParticipantID = nil
		call.Status = domain.CallStatusWaiting
		call.StartedAt = nil
	}
}

// Save appends a chat message to its call's history.
func (s *Store) Save(message *domain.ChatMessage) error {
	s.msgMu.Lock()
	defer s.msgMu.Unlock()
	m := *message
	s.messages[message.CallID] = append(s.messages[message.CallID], &m)
	return nil
}

// GetMessagesByCall returns a call's chat history in send order.
func (s *Store) GetMessagesByCall(callID uuid.UUID) ([]*domain.ChatMessage, error) {
	s.msgMu.Lock()
	defer s.msgMu.Unlock()
	stored := s.messages[callID]
	messages := make([]*domain.ChatMessage, len(stored))
	for i, m := range stored {
		msg := *m
		messages[i] = &msg
	}
	return messages, nil
}

// DeleteMessagesByCall removes a call's chat history.
func (s *Store) DeleteMessagesByCall(callID uuid.UUID) error {
	s.msgMu.Lock()
	defer s.msgMu.Unlock()
	delete(s.messages, callID)
	return nil
}
