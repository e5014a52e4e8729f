package cockroach

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"randomtalk-backend/internal/domain"
)

func TestAsConflict_TranslatesRetryableAborts(t *testing.T) {
	for _, code := range []string{"40001", "40P01"} {
		err := asConflict(&pgconn.PgError{Code: code})
		assert.ErrorIs(t, err, domain.ErrMatchConflict, "code %s", code)
	}
}

func TestAsConflict_SeesThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("failed to commit binding: %w",
		&pgconn.PgError{Code: "40001"})
	assert.ErrorIs(t, asConflict(wrapped), domain.ErrMatchConflict)
}

func TestAsConflict_LeavesOtherErrorsUntouched(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505"}
	assert.Equal(t, error(unique), asConflict(unique))

	plain := fmt.Errorf("connection refused")
	assert.Equal(t, plain, asConflict(plain))

	assert.NoError(t, asConflict(nil))
}
