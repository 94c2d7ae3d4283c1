package repository

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Run("nil error classifies to nil", func(t *testing.T) {
		assert.Nil(t, Classify(nil))
	})

	t.Run("no rows maps to not found", func(t *testing.T) {
		got := Classify(pgx.ErrNoRows)
		require.NotNil(t, got)
		assert.Equal(t, CategoryNotFound, got.Category)
		assert.ErrorIs(t, got, pgx.ErrNoRows)
	})

	t.Run("wrapped no rows still maps to not found", func(t *testing.T) {
		wrapped := errors.Join(errors.New("query failed"), pgx.ErrNoRows)
		got := Classify(wrapped)
		require.NotNil(t, got)
		assert.Equal(t, CategoryNotFound, got.Category)
	})

	t.Run("unique violation maps to conflict", func(t *testing.T) {
		got := Classify(&pgconn.PgError{Code: "23505", Message: "duplicate key"})
		require.NotNil(t, got)
		assert.Equal(t, CategoryConflict, got.Category)
	})

	t.Run("foreign key violation maps to invalid reference", func(t *testing.T) {
		got := Classify(&pgconn.PgError{Code: "23503", Message: "violates foreign key"})
		require.NotNil(t, got)
		assert.Equal(t, CategoryInvalidReference, got.Category)
	})

	t.Run("connection exception family maps to connection", func(t *testing.T) {
		for _, code := range []string{"08000", "08003", "08006"} {
			got := Classify(&pgconn.PgError{Code: code, Message: "connection failure"})
			require.NotNil(t, got)
			assert.Equalf(t, CategoryConnection, got.Category, "code %s", code)
		}
	})

	t.Run("unrecognized pg error code maps to unknown", func(t *testing.T) {
		got := Classify(&pgconn.PgError{Code: "42601", Message: "syntax error"})
		require.NotNil(t, got)
		assert.Equal(t, CategoryUnknown, got.Category)
	})

	t.Run("non-pg error maps to unknown", func(t *testing.T) {
		got := Classify(errors.New("boom"))
		require.NotNil(t, got)
		assert.Equal(t, CategoryUnknown, got.Category)
	})

	t.Run("Error and Unwrap report the cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		got := Classify(cause)
		assert.Contains(t, got.Error(), "UNKNOWN")
		assert.Contains(t, got.Error(), "connection refused")
		assert.Same(t, cause, got.Unwrap())
	})
}
