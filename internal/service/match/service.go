// Package match implements the tiered matchmaking engine. Tier 1 pairs
// two users actively seeking, tier 2 pulls in a recently active idle
// user, tier 3 grabs any online user and preempts their current call.
package match

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"randomtalk-backend/internal/domain"
	"randomtalk-backend/pkg/constants"
	"randomtalk-backend/pkg/logger"
)

// ErrNoMatch is returned when every tier comes up empty or all bind
// attempts were lost to concurrent matches. The requester keeps their
// waiting call and stays in the seeking pool.
var ErrNoMatch = errors.New("no users available for matching")

// UserFinder lists match candidates per tier.
type UserFinder interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	ListSeeking(ctx context.Context, exclude uuid.UUID) ([]*domain.User, error)
	ListRecentlyActive(ctx context.Context, since time.Time, exclude uuid.UUID) ([]*domain.User, error)
	ListOnline(ctx context.Context, exclude uuid.UUID) ([]*domain.User, error)
}

// CallStore reads call state.
type CallStore interface {
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
}

// Binder runs the atomic pairing transactions. Every method returns
// domain.ErrMatchConflict when the candidate was claimed concurrently.
type Binder interface {
	BindSeeking(ctx context.Context, requesterID, requesterCallID, candidateID, candidateCallID uuid.UUID, now time.Time) error
	BindFresh(ctx context.Context, requesterID, requesterCallID, candidateID uuid.UUID, now time.Time) (*domain.Call, error)
	BindPreempt(ctx context.Context, requesterID, requesterCallID, candidateID uuid.UUID, now time.Time) (*domain.Call, *domain.Call, error)
}

// Recorder receives matchmaking metrics. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordMatch(tier string)
	RecordMatchConflict()
	RecordNoMatch()
}

// Result describes a successful match from the requester's perspective.
// Call is the requester's call, now active; its ID doubles as the relay
// room both parties join.
type Result struct {
	Call        *domain.Call
	Partner     *domain.User
	PartnerCall *domain.Call
	Tier        domain.MatchTier
	Preempted   *domain.Call
}

// Service handles matchmaking business logic
type Service struct {
	users   UserFinder
	calls   CallStore
	binder  Binder
	metrics Recorder

	// rng breaks ties in tiers 2 and 3. Seedable so matching outcomes
	// are reproducible in tests.
	rngMu sync.Mutex
	rng   *rand.Rand
	now   func() time.Time

	subsMu sync.Mutex
	subs   map[uuid.UUID][]chan *Result
}

// NewService creates a new match service
func NewService(users UserFinder, calls CallStore, binder Binder, metrics Recorder) *Service {
	return &Service{
		users:   users,
		calls:   calls,
		binder:  binder,
		metrics: metrics,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
		subs:    make(map[uuid.UUID][]chan *Result),
	}
}

// SetRandSource replaces the tie-breaking randomness source.
func (s *Service) SetRandSource(src rand.Source) {
	s.rngMu.Lock()
	s.rng = rand.New(src)
	s.rngMu.Unlock()
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) pick(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Intn(n)
}

// FindMatch pairs the requester with a partner, walking the tiers in
// order. The requester must already hold a waiting call, which marked
// them seeking at creation. A bind lost to a concurrent match
// re-evaluates the tiers, up to a bounded number of attempts. A run
// where every tier is empty writes nothing.
func (s *Service) FindMatch(ctx context.Context, userID uuid.UUID) (*Result, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load requester: %w", err)
	}
	if user.CurrentCallID == nil {
		return nil, domain.ErrNoActiveCall
	}
	callID := *user.CurrentCallID

	for attempt := 0; attempt < constants.MaxMatchAttempts; attempt++ {
		// A concurrent seeker may have bound us while we were scanning.
		call, err := s.calls.GetByID(ctx, callID)
		if err != nil {
			return nil, fmt.Errorf("failed to load requester call: %w", err)
		}
		if call.Status == domain.CallStatusActive && call.ParticipantID != nil {
			return s.resolveExisting(ctx, userID, call)
		}
		if call.Status.Terminal() {
			return nil, domain.ErrNoActiveCall
		}

		result, err := s.tryTiers(ctx, userID, callID)
		if err == nil && result == nil {
			// Every tier was empty; retrying will not help.
			s.recordNoMatch()
			return nil, ErrNoMatch
		}
		if err != nil {
			if errors.Is(err, domain.ErrMatchConflict) {
				s.recordConflict()
				logger.Debug("match attempt lost to concurrent bind",
					zap.String("user_id", userID.String()),
					zap.Int("attempt", attempt+1))
				continue
			}
			return nil, err
		}

		s.recordMatch(result.Tier)
		s.publish(userID, result)
		if result.Partner != nil {
			s.publish(result.Partner.UserID, result)
		}
		return result, nil
	}

	s.recordNoMatch()
	return nil, ErrNoMatch
}

// tryTiers walks the candidate tiers once. A nil result with nil error
// means no tier had any candidate.
func (s *Service) tryTiers(ctx context.Context, userID, callID uuid.UUID) (*Result, error) {
	now := s.now()

	// Tier 1: users actively seeking, in stable creation order.
	seeking, err := s.users.ListSeeking(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list seeking users: %w", err)
	}
	if len(seeking) > 0 {
		candidate := seeking[0]
		if candidate.CurrentCallID == nil {
			return nil, domain.ErrMatchConflict
		}
		if err := s.binder.BindSeeking(ctx, userID, callID, candidate.UserID, *candidate.CurrentCallID, now); err != nil {
			return nil, err
		}
		return s.buildResult(ctx, callID, candidate, domain.MatchTierSeeking, nil, nil)
	}

	// Tier 2: recently active users holding no call, random pick.
	recent, err := s.users.ListRecentlyActive(ctx, now.Add(-constants.RecentActivityWindow), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent users: %w", err)
	}
	if len(recent) > 0 {
		candidate := recent[s.pick(len(recent))]
		partnerCall, err := s.binder.BindFresh(ctx, userID, callID, candidate.UserID, now)
		if err != nil {
			return nil, err
		}
		return s.buildResult(ctx, callID, candidate, domain.MatchTierRecent, partnerCall, nil)
	}

	// Tier 3: any online user, preempting their current call if needed.
	online, err := s.users.ListOnline(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list online users: %w", err)
	}
	if len(online) > 0 {
		candidate := online[s.pick(len(online))]
		partnerCall, preempted, err := s.binder.BindPreempt(ctx, userID, callID, candidate.UserID, now)
		if err != nil {
			return nil, err
		}
		return s.buildResult(ctx, callID, candidate, domain.MatchTierAnyOnline, partnerCall, preempted)
	}

	return nil, nil
}

func (s *Service) buildResult(ctx context.Context, callID uuid.UUID, partner *domain.User, tier domain.MatchTier, partnerCall, preempted *domain.Call) (*Result, error) {
	call, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload requester call: %w", err)
	}
	logger.Info("match found",
		zap.String("call_id", call.CallID.String()),
		zap.String("partner_id", partner.UserID.String()),
		zap.String("tier", string(tier)))
	return &Result{
		Call:        call,
		Partner:     partner,
		PartnerCall: partnerCall,
		Tier:        tier,
		Preempted:   preempted,
	}, nil
}

// resolveExisting reports a binding that happened concurrently, from
// the other seeker's successful tier-1 match.
func (s *Service) resolveExisting(ctx context.Context, userID uuid.UUID, call *domain.Call) (*Result, error) {
	partnerID := call.InitiatorID
	if partnerID == userID && call.ParticipantID != nil {
		partnerID = *call.ParticipantID
	}
	partner, err := s.users.GetByID(ctx, partnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load partner: %w", err)
	}
	s.recordMatch(domain.MatchTierSeeking)
	return &Result{
		Call:    call,
		Partner: partner,
		Tier:    domain.MatchTierSeeking,
	}, nil
}

// Subscribe returns a channel receiving the user's future match
// results. The channel is buffered; a slow consumer drops events.
func (s *Service) Subscribe(userID uuid.UUID) <-chan *Result {
	ch := make(chan *Result, 1)
	s.subsMu.Lock()
	s.subs[userID] = append(s.subs[userID], ch)
	s.subsMu.Unlock()
	return ch
}

// Unsubscribe removes a channel obtained from Subscribe.
func (s *Service) Unsubscribe(userID uuid.UUID, ch <-chan *Result) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	channels := s.subs[userID]
	for i, sub := range channels {
		if (<-chan *Result)(sub) == ch {
			s.subs[userID] = append(channels[:i], channels[i+1:]...)
			close(sub)
			break
		}
	}
	if len(s.subs[userID]) == 0 {
		delete(s.subs, userID)
	}
}

func (s *Service) publish(userID uuid.UUID, result *Result) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs[userID] {
		select {
		case ch <- result:
		default:
		}
	}
}

func (s *Service) recordMatch(tier domain.MatchTier) {
	if s.metrics != nil {
		s.metrics.RecordMatch(string(tier))
	}
}

func (s *Service) recordConflict() {
	if s.metrics != nil {
		s.metrics.RecordMatchConflict()
	}
}

func (s *Service) recordNoMatch() {
	if s.metrics != nil {
		s.metrics.RecordNoMatch()
	}
}
