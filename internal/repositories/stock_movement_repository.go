package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"stockledger_backend/internal/models"

	"github.com/lib/pq" // For pq.Error
)

// StockMovementRepository reads the append-only ledger of an item. Entries are
// written by the inventory repository inside its quantity-change transactions;
// they are never updated or deleted.
type StockMovementRepository interface {
	GetMovementsByItem(itemID int64) ([]models.StockMovement, error)
	GetRollups(itemID int64) (totalIn, totalOut float64, err error)
}

type stockMovementRepository struct {
	db *sql.DB
}

// NewStockMovementRepository creates a new instance of StockMovementRepository.
func NewStockMovementRepository(db *sql.DB) StockMovementRepository {
	return &stockMovementRepository{db: db}
}

// insertStockMovement appends one ledger entry. It takes an SQLExecutor so the
// inventory repository can run it inside the same transaction as the quantity
// change; the two must commit together or the replay invariant breaks.
func insertStockMovement(executor SQLExecutor, movement *models.StockMovement) error {
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now()
	}
	err := executor.QueryRow(
		`INSERT INTO stock_movements
		   (item_id, movement_type, quantity, signed_delta, reason, balance_after, value_after, idempotency_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		movement.ItemID, movement.MovementType, movement.Quantity, movement.SignedDelta,
		movement.Reason, movement.BalanceAfter, movement.ValueAfter, movement.IdempotencyKey,
		movement.CreatedAt,
	).Scan(&movement.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("%w: %s (constraint: %s)", ErrDuplicateKey, pqErr.Message, pqErr.Constraint)
		}
		return fmt.Errorf("%w: creating stock movement: %v", ErrDatabaseError, err)
	}
	return nil
}

func (r *stockMovementRepository) GetMovementsByItem(itemID int64) ([]models.StockMovement, error) {
	movements := []models.StockMovement{}
	rows, err := r.db.Query(
		`SELECT id, item_id, movement_type, quantity, signed_delta, reason, balance_after,
		        value_after, idempotency_key, created_at
		 FROM stock_movements WHERE item_id = $1
		 ORDER BY created_at DESC, id DESC`,
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: querying stock movements for item ID %d: %v", ErrDatabaseError, itemID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var m models.StockMovement
		if err := rows.Scan(
			&m.ID, &m.ItemID, &m.MovementType, &m.Quantity, &m.SignedDelta, &m.Reason,
			&m.BalanceAfter, &m.ValueAfter, &m.IdempotencyKey, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: scanning stock movement: %v", ErrDatabaseError, err)
		}
		movements = append(movements, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating stock movements: %v", ErrDatabaseError, err)
	}
	return movements, nil
}

func (r *stockMovementRepository) GetRollups(itemID int64) (float64, float64, error) {
	var totalIn, totalOut float64
	err := r.db.QueryRow(
		`SELECT COALESCE(SUM(quantity) FILTER (WHERE movement_type = 'in'), 0),
		        COALESCE(SUM(quantity) FILTER (WHERE movement_type = 'out'), 0)
		 FROM stock_movements WHERE item_id = $1`,
		itemID,
	).Scan(&totalIn, &totalOut)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: aggregating movement rollups for item ID %d: %v", ErrDatabaseError, itemID, err)
	}
	return totalIn, totalOut, nil
}
