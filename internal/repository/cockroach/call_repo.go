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

const callColumns = `call_id, initiator_id, participant_id, status, created_at, started_at, ended_at, duration`

// CallRepository handles call data operations in CockroachDB.
// State transitions run inside transactions guarded by status predicates
// so a terminal call can never be mutated again.
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new CallRepository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

func scanCall(row pgx.Row) (*domain.Call, error) {
	call := &domain.Call{}
	err := row.Scan(
		&call.CallID,
		&call.InitiatorID,
		&call.ParticipantID,
		&call.Status,
		&call.CreatedAt,
		&call.StartedAt,
		&call.EndedAt,
		&call.Duration,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan call: %w", err)
	}
	return call, nil
}

// GetByID retrieves a call by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE call_id = $1`
	return scanCall(r.pool.QueryRow(ctx, query, callID))
}

// CreateCall inserts a new waiting call and claims the initiator's
// current-call slot in one transaction. The claim is a compare-and-set
// on current_call_id IS NULL; when the user already holds a call the
// whole transaction rolls back with domain.ErrAlreadyInCall.
func (r *CallRepository) CreateCall(ctx context.Context, initiatorID uuid.UUID, now time.Time) (*domain.Call, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	call := &domain.Call{
		CallID:      uuid.New(),
		InitiatorID: initiatorID,
		Status:      domain.CallStatusWaiting,
		CreatedAt:   now,
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO calls (call_id, initiator_id, status, created_at) VALUES ($1, $2, $3, $4)`,
		call.CallID, call.InitiatorID, call.Status, call.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create call: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE users
		SET current_call_id = $2, looking_for_call = true, last_seen = $3
		WHERE user_id = $1 AND current_call_id IS NULL
	`, initiatorID, call.CallID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to claim call slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrAlreadyInCall
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit call creation: %w", err)
	}

	return call, nil
}

// Terminate moves the user's current call (and the participant's
// mirrored call, when bound) to the given terminal status in one
// transaction. Duration is computed for ended calls with a started_at;
// skipped calls keep duration 0. Both users' bindings are cleared.
//
// User rows are locked in UUID order and the binding re-verified after
// locking, so two concurrent terminations of the same pair cannot
// deadlock or double-apply. A transaction the database aborts against a
// concurrent bind is retried.
func (r *CallRepository) Terminate(ctx context.Context, userID uuid.UUID, status domain.CallStatus, now time.Time) (*domain.Termination, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("terminate called with non-terminal status %q", status)
	}

	var lastErr error
	for attempt := 0; attempt < terminateAttempts; attempt++ {
		result, err := r.terminateTx(ctx, userID, status, now)
		if err = asConflict(err); !errors.Is(err, domain.ErrMatchConflict) {
			return result, err
		}
		lastErr = err
	}
	return nil, lastErr
}

const terminateAttempts = 3

func (r *CallRepository) terminateTx(ctx context.Context, userID uuid.UUID, status domain.CallStatus, now time.Time) (*domain.Termination, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Read the binding without locks first to learn both parties.
	var callID *uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT current_call_id FROM users WHERE user_id = $1`, userID).Scan(&callID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read current call: %w", err)
	}
	if callID == nil {
		return nil, domain.ErrNoActiveCall
	}

	call, err := scanCall(tx.QueryRow(ctx,
		`SELECT `+callColumns+` FROM calls WHERE call_id = $1`, *callID))
	if err != nil {
		return nil, err
	}

	// Lock both user rows in deterministic order, then re-verify the
	// requester's binding survived the wait for the locks.
	lockIDs := []uuid.UUID{userID}
	if call.ParticipantID != nil && *call.ParticipantID != userID {
		lockIDs = append(lockIDs, *call.ParticipantID)
	} else if call.InitiatorID != userID {
		lockIDs = append(lockIDs, call.InitiatorID)
	}
	if len(lockIDs) == 2 && lockIDs[1].String() < lockIDs[0].String() {
		lockIDs[0], lockIDs[1] = lockIDs[1], lockIDs[0]
	}
	for _, id := range lockIDs {
		if _, err := tx.Exec(ctx,
			`SELECT 1 FROM users WHERE user_id = $1 FOR UPDATE`, id); err != nil {
			return nil, fmt.Errorf("failed to lock user row: %w", err)
		}
	}

	var verifyCallID *uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT current_call_id FROM users WHERE user_id = $1`, userID).Scan(&verifyCallID)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read current call: %w", err)
	}
	if verifyCallID == nil || *verifyCallID != *callID {
		return nil, domain.ErrNoActiveCall
	}

	result := &domain.Termination{}

	result.Call, err = r.terminateCall(ctx, tx, *callID, status, now)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE users SET current_call_id = NULL, looking_for_call = false
		WHERE user_id = $1
	`, userID); err != nil {
		return nil, fmt.Errorf("failed to clear call binding: %w", err)
	}

	// Mirror onto the bound participant's own call, when present.
	partnerID := otherParty(result.Call, userID)
	if result.Call.ParticipantID != nil && partnerID != nil {
		result.PartnerID = partnerID

		var partnerCallID *uuid.UUID
		err = tx.QueryRow(ctx,
			`SELECT current_call_id FROM users WHERE user_id = $1`, *partnerID).Scan(&partnerCallID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to read partner call: %w", err)
		}
		if partnerCallID != nil {
			result.PartnerCall, err = r.terminateCall(ctx, tx, *partnerCallID, status, now)
			if err != nil {
				return nil, err
			}
			if _, err := tx.Exec(ctx, `
				UPDATE users SET current_call_id = NULL, looking_for_call = false
				WHERE user_id = $1
			`, *partnerID); err != nil {
				return nil, fmt.Errorf("failed to clear partner binding: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit termination: %w", err)
	}

	return result, nil
}

// terminateCall applies the terminal transition to a single call row.
// Duration is only computed for ended calls; a skip is a non-connection.
func (r *CallRepository) terminateCall(ctx context.Context, tx pgx.Tx, callID uuid.UUID, status domain.CallStatus, now time.Time) (*domain.Call, error) {
	var query string
	if status == domain.CallStatusEnded {
		query = `
			UPDATE calls
			SET status = $2,
			    ended_at = $3,
			    duration = CASE
			        WHEN started_at IS NOT NULL THEN FLOOR(EXTRACT(EPOCH FROM ($3 - started_at)))::INT
			        ELSE 0
			    END
			WHERE call_id = $1 AND status IN ('waiting', 'active')
			RETURNING ` + callColumns
	} else {
		query = `
			UPDATE calls
			SET status = $2, ended_at = $3
			WHERE call_id = $1 AND status IN ('waiting', 'active')
			RETURNING ` + callColumns
	}

	call, err := scanCall(tx.QueryRow(ctx, query, callID, status, now))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Already terminal; treat as lost race.
			return nil, domain.ErrNoActiveCall
		}
		return nil, err
	}
	return call, nil
}

func otherParty(call *domain.Call, userID uuid.UUID) *uuid.UUID {
	if call.InitiatorID != userID {
		id := call.InitiatorID
		return &id
	}
	if call.ParticipantID != nil && *call.ParticipantID != userID {
		id := *call.ParticipantID
		return &id
	}
	return nil
}
