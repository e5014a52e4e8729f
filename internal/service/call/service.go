// Package call implements the call lifecycle: waiting on creation,
// active once matched, and exactly one terminal transition to ended or
// skipped. Duration accounting lives in the store's terminate path.
package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"randomtalk-backend/internal/domain"
	"randomtalk-backend/pkg/logger"
)

// CallStore is the slice of the call repository the lifecycle needs.
type CallStore interface {
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	CreateCall(ctx context.Context, initiatorID uuid.UUID, now time.Time) (*domain.Call, error)
	Terminate(ctx context.Context, userID uuid.UUID, status domain.CallStatus, now time.Time) (*domain.Termination, error)
}

// Recorder receives call outcome metrics. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordCallEnded(outcome string, duration time.Duration)
}

// Service handles call lifecycle business logic
type Service struct {
	calls   CallStore
	metrics Recorder
	now     func() time.Time
}

// NewService creates a new call service
func NewService(calls CallStore, metrics Recorder) *Service {
	return &Service{
		calls:   calls,
		metrics: metrics,
		now:     time.Now,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Create opens a new waiting call for the user and marks them seeking.
func (s *Service) Create(ctx context.Context, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.calls.CreateCall(ctx, userID, s.now())
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyInCall) {
			return nil, domain.ErrAlreadyInCall
		}
		return nil, fmt.Errorf("failed to create call: %w", err)
	}
	logger.Info("call created",
		zap.String("call_id", call.CallID.String()),
		zap.String("user_id", userID.String()))
	return call, nil
}

// Get retrieves a call by ID.
func (s *Service) Get(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	return s.calls.GetByID(ctx, callID)
}

// Authorize retrieves a call and verifies the user is one of its two
// parties.
func (s *Service) Authorize(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.HasParty(userID) {
		return nil, domain.ErrNotParticipant
	}
	return call, nil
}

// Skip terminates the user's current call as skipped. A skip is a
// non-connection, so duration stays zero regardless of elapsed time.
func (s *Service) Skip(ctx context.Context, userID uuid.UUID) (*domain.Termination, error) {
	return s.terminate(ctx, userID, domain.CallStatusSkipped)
}

// End terminates the user's current call as ended, with duration
// computed from started_at in whole seconds.
func (s *Service) End(ctx context.Context, userID uuid.UUID) (*domain.Termination, error) {
	return s.terminate(ctx, userID, domain.CallStatusEnded)
}

// EndCurrent ends the user's current call if one exists. Used on
// disconnect and logout, where no current call is not an error.
func (s *Service) EndCurrent(ctx context.Context, userID uuid.UUID) (*domain.Termination, error) {
	result, err := s.terminate(ctx, userID, domain.CallStatusEnded)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveCall) {
			return nil, nil
		}
		return nil, err
	}
	return result, nil
}

func (s *Service) terminate(ctx context.Context, userID uuid.UUID, status domain.CallStatus) (*domain.Termination, error) {
	result, err := s.calls.Terminate(ctx, userID, status, s.now())
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveCall) || errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNoActiveCall
		}
		return nil, fmt.Errorf("failed to terminate call: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordCallEnded(string(status), time.Duration(result.Call.Duration)*time.Second)
	}
	logger.Info("call terminated",
		zap.String("call_id", result.Call.CallID.String()),
		zap.String("user_id", userID.String()),
		zap.String("status", string(status)),
		zap.Int("duration_seconds", result.Call.Duration))
	return result, nil
}
