package cockroach

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"randomtalk-backend/internal/domain"
)

// retrySQLStates are transaction aborts the caller handles by retrying:
// 40001 serialization_failure and 40P01 deadlock_detected. Symmetric
// concurrent binds touch the two call rows in opposite orders, so under
// serializable isolation the database aborts one side instead of a CAS
// predicate matching zero rows.
var retrySQLStates = map[string]bool{
	"40001": true,
	"40P01": true,
}

// asConflict translates retryable transaction aborts into
// domain.ErrMatchConflict and leaves every other error untouched.
func asConflict(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && retrySQLStates[pgErr.Code] {
		return domain.ErrMatchConflict
	}
	return err
}
