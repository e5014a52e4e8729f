package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"randomtalk-backend/internal/domain"
)

// MatchRepository executes the atomic binding transactions of the
// matchmaking engine. Every method runs a single transaction whose
// UPDATE predicates double as compare-and-set checks: when a predicate
// matches zero rows the candidate's availability changed since it was
// read, the transaction rolls back, and domain.ErrMatchConflict is
// returned so the engine can re-evaluate tiers.
type MatchRepository struct {
	pool *pgxpool.Pool
}

// NewMatchRepository creates a new MatchRepository
func NewMatchRepository(pool *pgxpool.Pool) *MatchRepository {
	return &MatchRepository{pool: pool}
}

// BindSeeking binds the requester's waiting call to a tier-1 candidate's
// existing waiting call. Both calls move to active with the same
// started_at and both users stop looking.
func (r *MatchRepository) BindSeeking(ctx context.Context, requesterID, requesterCallID, candidateID, candidateCallID uuid.UUID, now time.Time) error {
	return asConflict(r.bindSeeking(ctx, requesterID, requesterCallID, candidateID, candidateCallID, now))
}

func (r *MatchRepository) bindSeeking(ctx context.Context, requesterID, requesterCallID, candidateID, candidateCallID uuid.UUID, now time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// CAS on the candidate: still online, still looking, still holding
	// the call we read.
	tag, err := tx.Exec(ctx, `
		UPDATE users
		SET looking_for_call = false, last_seen = $3
		WHERE user_id = $1
		  AND current_call_id = $2
		  AND looking_for_call = true
		  AND online = true
	`, candidateID, candidateCallID, now)
	if err != nil {
		return fmt.Errorf("failed to claim candidate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMatchConflict
	}

	if err := activateCall(ctx, tx, requesterCallID, candidateID, now); err != nil {
		return err
	}
	if err := activateCall(ctx, tx, candidateCallID, requesterID, now); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE users SET looking_for_call = false WHERE user_id = $1`,
		requesterID); err != nil {
		return fmt.Errorf("failed to clear requester looking flag: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit binding: %w", err)
	}
	return nil
}

// BindFresh creates a fresh waiting call for a tier-2 candidate (a
// recently active user holding no call) and binds it to the requester's
// call. The claim is a compare-and-set on current_call_id IS NULL.
func (r *MatchRepository) BindFresh(ctx context.Context, requesterID, requesterCallID, candidateID uuid.UUID, now time.Time) (*domain.Call, error) {
	call, err := r.bindFresh(ctx, requesterID, requesterCallID, candidateID, now)
	return call, asConflict(err)
}

func (r *MatchRepository) bindFresh(ctx context.Context, requesterID, requesterCallID, candidateID uuid.UUID, now time.Time) (*domain.Call, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	newCall, err := bindWithNewCall(ctx, tx, requesterID, requesterCallID, candidateID, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit binding: %w", err)
	}
	return newCall, nil
}

// BindPreempt binds the requester to a tier-3 candidate, forcibly ending
// the candidate's current call first, when one exists. The preempted
// call id is returned so the caller can notify its room.
func (r *MatchRepository) BindPreempt(ctx context.Context, requesterID, requesterCallID, candidateID uuid.UUID, now time.Time) (*domain.Call, *domain.Call, error) {
	call, preempted, err := r.bindPreempt(ctx, requesterID, requesterCallID, candidateID, now)
	return call, preempted, asConflict(err)
}

func (r *MatchRepository) bindPreempt(ctx context.Context, requesterID, requesterCallID, candidateID uuid.UUID, now time.Time) (*domain.Call, *domain.Call, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the candidate row for the duration of the preempt-and-bind.
	var online bool
	var currentCallID *uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT online, current_call_id FROM users WHERE user_id = $1 FOR UPDATE`,
		candidateID).Scan(&online, &currentCallID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, domain.ErrMatchConflict
		}
		return nil, nil, fmt.Errorf("failed to lock candidate: %w", err)
	}
	if !online {
		return nil, nil, domain.ErrMatchConflict
	}

	var preempted *domain.Call
	if currentCallID != nil {
		// Forced end: no participant-side symmetry, the preempted call
		// may never have had an established relay.
		preempted, err = scanCall(tx.QueryRow(ctx, `
			UPDATE calls
			SET status = 'ended',
			    ended_at = $2,
			    duration = CASE
			        WHEN started_at IS NOT NULL THEN FLOOR(EXTRACT(EPOCH FROM ($2 - started_at)))::INT
			        ELSE 0
			    END
			WHERE call_id = $1 AND status IN ('waiting', 'active')
			RETURNING `+callColumns, *currentCallID, now))
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, nil, err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE users SET current_call_id = NULL, looking_for_call = false
			WHERE user_id = $1
		`, candidateID); err != nil {
			return nil, nil, fmt.Errorf("failed to clear preempted binding: %w", err)
		}
	}

	newCall, err := bindWithNewCall(ctx, tx, requesterID, requesterCallID, candidateID, now)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit binding: %w", err)
	}
	return newCall, preempted, nil
}

// bindWithNewCall creates a waiting call for the candidate, claims their
// free call slot, then activates both sides of the pair.
func bindWithNewCall(ctx context.Context, tx pgx.Tx, requesterID, requesterCallID, candidateID uuid.UUID, now time.Time) (*domain.Call, error) {
	newCallID := uuid.New()

	if _, err := tx.Exec(ctx,
		`INSERT INTO calls (call_id, initiator_id, status, created_at) VALUES ($1, $2, 'waiting', $3)`,
		newCallID, candidateID, now); err != nil {
		return nil, fmt.Errorf("failed to create candidate call: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE users
		SET current_call_id = $2, looking_for_call = false, last_seen = $3
		WHERE user_id = $1
		  AND current_call_id IS NULL
		  AND online = true
	`, candidateID, newCallID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to claim candidate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrMatchConflict
	}

	if err := activateCall(ctx, tx, requesterCallID, candidateID, now); err != nil {
		return nil, err
	}
	if err := activateCall(ctx, tx, newCallID, requesterID, now); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE users SET looking_for_call = false WHERE user_id = $1`,
		requesterID); err != nil {
		return nil, fmt.Errorf("failed to clear requester looking flag: %w", err)
	}

	return scanCall(tx.QueryRow(ctx,
		`SELECT `+callColumns+` FROM calls WHERE call_id = $1`, newCallID))
}

// activateCall moves a waiting call to active with the given participant
// and start time. A zero-row update means the call was bound or
// terminated concurrently.
func activateCall(ctx context.Context, tx pgx.Tx, callID, participantID uuid.UUID, now time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE calls
		SET participant_id = $2, status = 'active', started_at = $3
		WHERE call_id = $1 AND status = 'waiting'
	`, callID, participantID, now)
	if err != nil {
		return fmt.Errorf("failed to activate call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMatchConflict
	}
	return nil
}
