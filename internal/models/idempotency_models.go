package models

import "time"

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "started"
	IdempotencyStatusSucceeded IdempotencyStatus = "succeeded"
	IdempotencyStatusFailed    IdempotencyStatus = "failed"
)

// IdempotencyRecord provides durable, DB-backed at-most-once execution for
// retried mutating calls. Unique constraint: (owner_id, operation_type, idem_key).
// A succeeded record stores the original response body for replay.
type IdempotencyRecord struct {
	ID            int64             `json:"id" db:"id"`
	OwnerID       int64             `json:"owner_id" db:"owner_id"`
	OperationType string            `json:"operation_type" db:"operation_type"`
	Key           string            `json:"idem_key" db:"idem_key"`
	Status        IdempotencyStatus `json:"status" db:"status"`
	ResponseBody  []byte            `json:"-" db:"response_body"`
	LastError     *string           `json:"last_error,omitempty" db:"last_error"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at" db:"updated_at"`
}
