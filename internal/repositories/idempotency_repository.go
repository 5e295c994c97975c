package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"stockledger_backend/internal/models"

	"github.com/lib/pq" // For pq.Error
)

// IdempotencyRepository persists at-most-once execution records. Claim relies
// on the (owner_id, operation_type, idem_key) unique constraint: exactly one
// concurrent caller wins the insert, everyone else observes the existing row.
type IdempotencyRepository interface {
	Claim(ownerID int64, operationType, key string) (record *models.IdempotencyRecord, claimed bool, err error)
	Get(ownerID int64, operationType, key string) (*models.IdempotencyRecord, error)
	Reclaim(recordID int64, fromStatus models.IdempotencyStatus, lastUpdatedAt time.Time) (reclaimed bool, err error)
	MarkSucceeded(recordID int64, responseBody []byte) error
	MarkFailed(recordID int64, cause string) error
	DeleteExpired(before time.Time) (int64, error)
}

type idempotencyRepository struct {
	db *sql.DB
}

// NewIdempotencyRepository creates a new instance of IdempotencyRepository.
func NewIdempotencyRepository(db *sql.DB) IdempotencyRepository {
	return &idempotencyRepository{db: db}
}

func (r *idempotencyRepository) Claim(ownerID int64, operationType, key string) (*models.IdempotencyRecord, bool, error) {
	record := &models.IdempotencyRecord{
		OwnerID:       ownerID,
		OperationType: operationType,
		Key:           key,
		Status:        models.IdempotencyStatusStarted,
	}
	currentTime := time.Now()
	err := r.db.QueryRow(
		`INSERT INTO idempotency_records (owner_id, operation_type, idem_key, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 RETURNING id, created_at, updated_at`,
		ownerID, operationType, key, record.Status, currentTime,
	).Scan(&record.ID, &record.CreatedAt, &record.UpdatedAt)
	if err == nil {
		return record, true, nil
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code.Name() != "unique_violation" {
		return nil, false, fmt.Errorf("%w: claiming idempotency record: %v", ErrDatabaseError, err)
	}

	existing, getErr := r.Get(ownerID, operationType, key)
	if getErr != nil {
		return nil, false, getErr
	}
	return existing, false, nil
}

func (r *idempotencyRepository) Get(ownerID int64, operationType, key string) (*models.IdempotencyRecord, error) {
	record := &models.IdempotencyRecord{}
	err := r.db.QueryRow(
		`SELECT id, owner_id, operation_type, idem_key, status, response_body, last_error, created_at, updated_at
		 FROM idempotency_records
		 WHERE owner_id = $1 AND operation_type = $2 AND idem_key = $3`,
		ownerID, operationType, key,
	).Scan(
		&record.ID, &record.OwnerID, &record.OperationType, &record.Key, &record.Status,
		&record.ResponseBody, &record.LastError, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: getting idempotency record: %v", ErrDatabaseError, err)
	}
	return record, nil
}

// Reclaim resets a failed or stale-started record so the caller may retry the
// operation under the same key. It is a compare-and-set on the status and
// updated_at the caller observed: when two retries race, exactly one matches
// the row and wins; the loser gets reclaimed=false and must wait on the new
// attempt instead of running its own.
func (r *idempotencyRepository) Reclaim(recordID int64, fromStatus models.IdempotencyStatus, lastUpdatedAt time.Time) (bool, error) {
	result, err := r.db.Exec(
		`UPDATE idempotency_records
		 SET status = $1, response_body = NULL, last_error = NULL, updated_at = $2
		 WHERE id = $3 AND status = $4 AND updated_at = $5`,
		models.IdempotencyStatusStarted, time.Now(), recordID, fromStatus, lastUpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("%w: reclaiming idempotency record ID %d: %v", ErrDatabaseError, recordID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: getting rows affected for idempotency reclaim ID %d: %v", ErrDatabaseError, recordID, err)
	}
	return rowsAffected == 1, nil
}

func (r *idempotencyRepository) MarkSucceeded(recordID int64, responseBody []byte) error {
	_, err := r.db.Exec(
		`UPDATE idempotency_records SET status = $1, response_body = $2, last_error = NULL, updated_at = $3 WHERE id = $4`,
		models.IdempotencyStatusSucceeded, responseBody, time.Now(), recordID,
	)
	if err != nil {
		return fmt.Errorf("%w: marking idempotency record ID %d succeeded: %v", ErrDatabaseError, recordID, err)
	}
	return nil
}

func (r *idempotencyRepository) MarkFailed(recordID int64, cause string) error {
	_, err := r.db.Exec(
		`UPDATE idempotency_records SET status = $1, last_error = $2, updated_at = $3 WHERE id = $4`,
		models.IdempotencyStatusFailed, cause, time.Now(), recordID,
	)
	if err != nil {
		return fmt.Errorf("%w: marking idempotency record ID %d failed: %v", ErrDatabaseError, recordID, err)
	}
	return nil
}

func (r *idempotencyRepository) DeleteExpired(before time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM idempotency_records WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("%w: deleting expired idempotency records: %v", ErrDatabaseError, err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: getting rows affected for idempotency purge: %v", ErrDatabaseError, err)
	}
	return deleted, nil
}
