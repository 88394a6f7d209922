package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/JonMunkholm/sheetsync/internal/core"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		conflict  bool
		retryable bool
		wantCode  string
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001", Message: "could not serialize access"}, true, true, "REC002"},
		{"deadlock", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "40P01"}), true, true, "REC002"},
		{"unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "applications_l2_id_key"}, true, false, "REC001"},
		{"foreign key", &pgconn.PgError{Code: "23503", Message: "insert or update on table \"subtasks\" violates foreign key constraint"}, false, false, "DB003"},
		{"plain error", errors.New("connection refused"), false, false, "DB004"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err)
			var ce *core.ConflictError
			assert.Equal(t, tt.conflict, errors.As(err, &ce))
			assert.Equal(t, tt.retryable, core.IsRetryable(err))
			assert.Equal(t, tt.wantCode, core.MapError(err).Code)
		})
	}
}

func TestClassifyNil(t *testing.T) {
	assert.NoError(t, classify(nil))
}
