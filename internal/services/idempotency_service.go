package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"stockledger_backend/internal/models"
	"stockledger_backend/internal/repositories"
	"stockledger_backend/pkg/utils"
)

// Operation types scope idempotency keys: a restock key and a sale-create key
// with the same string value are distinct.
const (
	OpRestock    = "inventory.restock"
	OpStockOut   = "inventory.stock_out"
	OpSaleCreate = "sale.create"
)

const MaxIdempotencyKeyLength = 128

var (
	ErrIdempotencyTimeout    = errors.New("timed out waiting for an in-flight duplicate request")
	ErrInvalidIdempotencyKey = errors.New("idempotency key exceeds maximum length")
)

// Retention and wait bounds. Records older than the retention window are
// purged; clients must not reuse a key beyond it. A started record older than
// the stale window is treated as abandoned and reclaimed.
const (
	idempotencyRetention   = 24 * time.Hour
	idempotencyStaleAfter  = 5 * time.Minute
	defaultInFlightTimeout = 10 * time.Second
	inFlightPollInterval   = 100 * time.Millisecond
	purgeInterval          = time.Hour
)

// IdempotencyGuard deduplicates retried mutating calls. Execute runs fn at
// most once per (owner, operationType, key): a concurrent duplicate waits for
// the first caller and receives its stored result; a sequential duplicate
// replays the stored result without re-invoking fn.
type IdempotencyGuard interface {
	Execute(ownerID int64, operationType, key string, fn func() (interface{}, error)) (json.RawMessage, bool, error)
}

type idempotencyGuard struct {
	repo            repositories.IdempotencyRepository
	inFlightTimeout time.Duration

	mu        sync.Mutex
	lastPurge time.Time
}

// NewIdempotencyGuard creates a new instance of IdempotencyGuard.
func NewIdempotencyGuard(repo repositories.IdempotencyRepository) IdempotencyGuard {
	return &idempotencyGuard{
		repo:            repo,
		inFlightTimeout: defaultInFlightTimeout,
	}
}

// Execute implements at-most-once execution. The second return value reports
// whether the payload was replayed from a prior successful call.
func (g *idempotencyGuard) Execute(ownerID int64, operationType, key string, fn func() (interface{}, error)) (json.RawMessage, bool, error) {
	if key == "" {
		payload, err := runAndMarshal(fn)
		return payload, false, err
	}
	if len(key) > MaxIdempotencyKeyLength {
		return nil, false, ErrInvalidIdempotencyKey
	}

	g.maybePurge()

	deadline := time.Now().Add(g.inFlightTimeout)
	for {
		record, claimed, err := g.repo.Claim(ownerID, operationType, key)
		if err != nil {
			return nil, false, fmt.Errorf("failed to claim idempotency record: %w", err)
		}
		if claimed {
			return g.run(record, fn)
		}

		switch record.Status {
		case models.IdempotencyStatusSucceeded:
			return json.RawMessage(record.ResponseBody), true, nil
		case models.IdempotencyStatusFailed:
			// A failed attempt is retryable under the same key. The reclaim
			// is a compare-and-set: when two retries race, only the winner
			// runs fn, the loser loops back into the in-flight wait.
			reclaimed, err := g.repo.Reclaim(record.ID, models.IdempotencyStatusFailed, record.UpdatedAt)
			if err != nil {
				return nil, false, fmt.Errorf("failed to reclaim idempotency record: %w", err)
			}
			if reclaimed {
				return g.run(record, fn)
			}
		case models.IdempotencyStatusStarted:
			if time.Since(record.UpdatedAt) > idempotencyStaleAfter {
				// The original worker died mid-operation. Same CAS rule:
				// only one caller inherits the abandoned record.
				reclaimed, err := g.repo.Reclaim(record.ID, models.IdempotencyStatusStarted, record.UpdatedAt)
				if err != nil {
					return nil, false, fmt.Errorf("failed to reclaim stale idempotency record: %w", err)
				}
				if reclaimed {
					return g.run(record, fn)
				}
				continue
			}
			if time.Now().After(deadline) {
				return nil, false, ErrIdempotencyTimeout
			}
			time.Sleep(inFlightPollInterval)
		default:
			return nil, false, fmt.Errorf("unexpected idempotency record status %q", record.Status)
		}
	}
}

func (g *idempotencyGuard) run(record *models.IdempotencyRecord, fn func() (interface{}, error)) (json.RawMessage, bool, error) {
	payload, err := runAndMarshal(fn)
	if err != nil {
		if markErr := g.repo.MarkFailed(record.ID, err.Error()); markErr != nil {
			utils.LogError(markErr, "Failed to mark idempotency record failed")
		}
		return nil, false, err
	}
	if markErr := g.repo.MarkSucceeded(record.ID, payload); markErr != nil {
		// The operation itself committed; a retry with the same key will
		// re-observe a started record and eventually reclaim it.
		utils.LogError(markErr, "Failed to mark idempotency record succeeded")
	}
	return payload, false, nil
}

func runAndMarshal(fn func() (interface{}, error)) (json.RawMessage, error) {
	result, err := fn()
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal operation result: %w", err)
	}
	return payload, nil
}

func (g *idempotencyGuard) maybePurge() {
	g.mu.Lock()
	due := time.Since(g.lastPurge) > purgeInterval
	if due {
		g.lastPurge = time.Now()
	}
	g.mu.Unlock()
	if !due {
		return
	}
	deleted, err := g.repo.DeleteExpired(time.Now().Add(-idempotencyRetention))
	if err != nil {
		utils.LogError(err, "Failed to purge expired idempotency records")
		return
	}
	if deleted > 0 {
		utils.LogDebug("Purged expired idempotency records", map[string]interface{}{"deleted": deleted})
	}
}
