package repositories

import (
	"database/sql"
	"errors"
)

var (
	// ErrNotFound is returned when a specific record is not found.
	// Owner-scoped lookups collapse "owned by someone else" into this error.
	ErrNotFound = errors.New("requested record not found")

	// ErrDatabaseError is returned for unexpected database errors.
	// It can be used to wrap more specific driver errors.
	ErrDatabaseError = errors.New("database error")

	// ErrDuplicateKey is returned when an insert/update violates a unique constraint.
	ErrDuplicateKey = errors.New("duplicate key value violates unique constraint")

	// ErrInsufficientStock is returned when a conditional decrement finds less
	// stock than requested. An expected business outcome, not a fault.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrAlreadyDeleted is returned when a conditional soft-delete targets a
	// record that is already soft-deleted.
	ErrAlreadyDeleted = errors.New("record already deleted")
)

// SQLExecutor defines an interface that can be satisfied by *sql.DB or *sql.Tx.
// Repository helpers that must run inside another method's transaction take it
// instead of a concrete handle.
type SQLExecutor interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	QueryRow(query string, args ...interface{}) *sql.Row
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

// scanner is an interface satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}
