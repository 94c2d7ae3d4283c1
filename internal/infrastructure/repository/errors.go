package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Category is the persistence gateway's typed error taxonomy: the gateway
// never swallows an error silently, it reclassifies it into one of these.
type Category string

const (
	CategoryNotFound         Category = "NOT_FOUND"
	CategoryConflict         Category = "CONFLICT"
	CategoryInvalidReference Category = "INVALID_REFERENCE"
	CategoryConnection       Category = "CONNECTION"
	CategoryUnknown          Category = "UNKNOWN"
)

// Error wraps a database-layer failure with its gateway category.
type Error struct {
	Category Category
	Cause    error
}

func (e *Error) Error() string {
	return string(e.Category) + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// Classify maps a raw pgx/pgconn error into a gateway Category.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &Error{Category: CategoryNotFound, Cause: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return &Error{Category: CategoryConflict, Cause: err}
		case "23503": // foreign_key_violation
			return &Error{Category: CategoryInvalidReference, Cause: err}
		case "08000", "08003", "08006": // connection_exception family
			return &Error{Category: CategoryConnection, Cause: err}
		}
	}

	return &Error{Category: CategoryUnknown, Cause: err}
}
