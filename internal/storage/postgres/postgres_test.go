package postgres

import (
	"fmt"
	"testing"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/xenking/mall-pos/internal/domain/order"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		conflict bool
	}{
		{"serialization failure", &pgconn.PgError{Code: codeSerializationFailure}, true},
		{"deadlock", &pgconn.PgError{Code: codeDeadlockDetected}, true},
		{"lock not available", fmt.Errorf("lock: %w", &pgconn.PgError{Code: codeLockNotAvailable}), true},
		{"unique violation", &pgconn.PgError{Code: codeUniqueViolation}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err)
			assert.Equal(t, tt.conflict, errors.Is(err, order.ErrConflict))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	if got := nullIfEmpty("key"); assert.NotNil(t, got) {
		assert.Equal(t, "key", *got)
	}
}
