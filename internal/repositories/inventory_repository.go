package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"stockledger_backend/internal/models"

	"github.com/lib/pq" // For pq.Error
)

// InventoryRepository defines the interface for inventory item database operations.
// The Apply* mutations commit the quantity change and its ledger entry in one
// transaction; the quantity check-and-decrement itself is a single conditional
// UPDATE so concurrent stock-outs on the same item serialize at the store.
type InventoryRepository interface {
	CreateItem(item *models.InventoryItem) (int64, error)
	GetItemByID(ownerID, itemID int64) (*models.InventoryItem, error)
	GetItems(ownerID int64, filters models.ItemFilters) ([]models.InventoryItem, int, error)
	ApplyStockIn(ownerID, itemID int64, quantity float64, reason, idempotencyKey *string) (*models.InventoryItem, *models.StockMovement, error)
	ApplyStockOut(ownerID, itemID int64, quantity float64, reason, idempotencyKey *string) (*models.InventoryItem, *models.StockMovement, error)
	ApplyAdjustment(ownerID, itemID int64, newQuantity float64, reason *string) (*models.InventoryItem, *models.StockMovement, error)
	SoftDeleteItem(ownerID, itemID int64) error
	GetStats(ownerID int64) (*models.InventoryStats, error)
}

type inventoryRepository struct {
	db *sql.DB
}

// NewInventoryRepository creates a new instance of InventoryRepository.
func NewInventoryRepository(db *sql.DB) InventoryRepository {
	return &inventoryRepository{db: db}
}

func (r *inventoryRepository) CreateItem(item *models.InventoryItem) (int64, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("%w: starting item create transaction: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	currentTime := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = currentTime
	}
	item.UpdatedAt = currentTime

	query := `INSERT INTO inventory_items
	            (owner_id, name, sku, category, kind, base_unit, cost_price, selling_price,
	             quantity, low_stock_threshold, is_deleted, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE, $11, $12)
	          RETURNING id`
	err = tx.QueryRow(query,
		item.OwnerID, item.Name, item.SKU, item.Category, item.Kind, item.BaseUnit,
		item.CostPrice, item.SellingPrice, item.Quantity, item.LowStockThreshold,
		item.CreatedAt, item.UpdatedAt,
	).Scan(&item.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return 0, fmt.Errorf("%w: %s (constraint: %s)", ErrDuplicateKey, pqErr.Message, pqErr.Constraint)
		}
		return 0, fmt.Errorf("%w: creating inventory item: %v", ErrDatabaseError, err)
	}

	for idx := range item.SellingUnits {
		su := &item.SellingUnits[idx]
		su.ItemID = item.ID
		err = tx.QueryRow(
			`INSERT INTO selling_units (item_id, name, conversion_factor, cost_price, selling_price, is_default)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			su.ItemID, su.Name, su.ConversionFactor, su.CostPrice, su.SellingPrice, su.IsDefault,
		).Scan(&su.ID)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
				return 0, fmt.Errorf("%w: %s (constraint: %s)", ErrDuplicateKey, pqErr.Message, pqErr.Constraint)
			}
			return 0, fmt.Errorf("%w: creating selling unit %q: %v", ErrDatabaseError, su.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: committing item create: %v", ErrDatabaseError, err)
	}
	return item.ID, nil
}

func (r *inventoryRepository) GetItemByID(ownerID, itemID int64) (*models.InventoryItem, error) {
	item, err := r.scanItem(r.db.QueryRow(
		`SELECT id, owner_id, name, sku, category, kind, base_unit, cost_price, selling_price,
		        quantity, low_stock_threshold, is_deleted, created_at, updated_at
		 FROM inventory_items WHERE id = $1 AND owner_id = $2`, itemID, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: getting item by ID %d: %v", ErrDatabaseError, itemID, err)
	}
	if err := r.loadSellingUnits(item); err != nil {
		return nil, err
	}
	item.Derive()
	return item, nil
}

func (r *inventoryRepository) GetItems(ownerID int64, filters models.ItemFilters) ([]models.InventoryItem, int, error) {
	items := []models.InventoryItem{}
	totalCount := 0

	var queryBuilder strings.Builder
	queryBuilder.WriteString(`SELECT id, owner_id, name, sku, category, kind, base_unit, cost_price, selling_price,
	                                 quantity, low_stock_threshold, is_deleted, created_at, updated_at,
	                                 COUNT(*) OVER() AS total_count
	                          FROM inventory_items`)

	conditions := []string{"owner_id = $1", "is_deleted = FALSE"}
	args := []interface{}{ownerID}
	argCount := 2

	if filters.Category != nil && *filters.Category != "" {
		conditions = append(conditions, fmt.Sprintf("category = $%d", argCount))
		args = append(args, *filters.Category)
		argCount++
	}
	if filters.LowStock {
		conditions = append(conditions, "quantity <= low_stock_threshold")
	}
	if filters.Search != nil && *filters.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR sku ILIKE $%d)", argCount, argCount))
		args = append(args, "%"+*filters.Search+"%")
		argCount++
	}

	queryBuilder.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	queryBuilder.WriteString(" ORDER BY name ASC")

	if filters.PageSize > 0 {
		queryBuilder.WriteString(fmt.Sprintf(" LIMIT $%d", argCount))
		args = append(args, filters.PageSize)
		argCount++
		if filters.Page > 0 {
			queryBuilder.WriteString(fmt.Sprintf(" OFFSET $%d", argCount))
			args = append(args, (filters.Page-1)*filters.PageSize)
		}
	}

	rows, err := r.db.Query(queryBuilder.String(), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: querying inventory items: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.InventoryItem
		if err := rows.Scan(
			&item.ID, &item.OwnerID, &item.Name, &item.SKU, &item.Category, &item.Kind, &item.BaseUnit,
			&item.CostPrice, &item.SellingPrice, &item.Quantity, &item.LowStockThreshold,
			&item.IsDeleted, &item.CreatedAt, &item.UpdatedAt, &totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("%w: scanning inventory item: %v", ErrDatabaseError, err)
		}
		item.Derive()
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: iterating inventory items: %v", ErrDatabaseError, err)
	}

	for idx := range items {
		if items[idx].Kind == models.ItemKindMultiUnit {
			if err := r.loadSellingUnits(&items[idx]); err != nil {
				return nil, 0, err
			}
		}
	}
	return items, totalCount, nil
}

func (r *inventoryRepository) ApplyStockIn(ownerID, itemID int64, quantity float64, reason, idempotencyKey *string) (*models.InventoryItem, *models.StockMovement, error) {
	return r.applyDelta(ownerID, itemID, models.MovementTypeIn, quantity, quantity, reason, idempotencyKey)
}

func (r *inventoryRepository) ApplyStockOut(ownerID, itemID int64, quantity float64, reason, idempotencyKey *string) (*models.InventoryItem, *models.StockMovement, error) {
	return r.applyDelta(ownerID, itemID, models.MovementTypeOut, quantity, -quantity, reason, idempotencyKey)
}

// applyDelta commits a relative quantity change and its ledger entry in one
// transaction. For stock-outs the UPDATE carries the "quantity >= requested"
// condition, so the check and the decrement are one atomic store operation.
func (r *inventoryRepository) applyDelta(ownerID, itemID int64, movementType string, magnitude, delta float64, reason, idempotencyKey *string) (*models.InventoryItem, *models.StockMovement, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: starting stock movement transaction: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	query := `UPDATE inventory_items
	          SET quantity = quantity + $1, updated_at = $2
	          WHERE id = $3 AND owner_id = $4 AND is_deleted = FALSE`
	if delta < 0 {
		query += ` AND quantity >= $5`
	}
	query += ` RETURNING quantity, cost_price`

	args := []interface{}{delta, time.Now(), itemID, ownerID}
	if delta < 0 {
		args = append(args, magnitude)
	}

	var newQuantity, costPrice float64
	err = tx.QueryRow(query, args...).Scan(&newQuantity, &costPrice)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, r.classifyNoRows(ownerID, itemID)
		}
		return nil, nil, fmt.Errorf("%w: applying stock movement to item ID %d: %v", ErrDatabaseError, itemID, err)
	}

	movement := &models.StockMovement{
		ItemID:         itemID,
		MovementType:   movementType,
		Quantity:       magnitude,
		SignedDelta:    delta,
		Reason:         reason,
		BalanceAfter:   newQuantity,
		ValueAfter:     newQuantity * costPrice,
		IdempotencyKey: idempotencyKey,
	}
	if err := insertStockMovement(tx, movement); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("%w: committing stock movement: %v", ErrDatabaseError, err)
	}

	item, err := r.GetItemByID(ownerID, itemID)
	if err != nil {
		return nil, nil, err
	}
	return item, movement, nil
}

func (r *inventoryRepository) ApplyAdjustment(ownerID, itemID int64, newQuantity float64, reason *string) (*models.InventoryItem, *models.StockMovement, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: starting adjustment transaction: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	var oldQuantity, costPrice float64
	err = tx.QueryRow(
		`SELECT quantity, cost_price FROM inventory_items
		 WHERE id = $1 AND owner_id = $2 AND is_deleted = FALSE FOR UPDATE`,
		itemID, ownerID,
	).Scan(&oldQuantity, &costPrice)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("%w: locking item ID %d for adjustment: %v", ErrDatabaseError, itemID, err)
	}

	var movement *models.StockMovement
	if newQuantity != oldQuantity {
		_, err = tx.Exec(
			`UPDATE inventory_items SET quantity = $1, updated_at = $2 WHERE id = $3`,
			newQuantity, time.Now(), itemID,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: adjusting quantity for item ID %d: %v", ErrDatabaseError, itemID, err)
		}

		delta := newQuantity - oldQuantity
		magnitude := delta
		if magnitude < 0 {
			magnitude = -magnitude
		}
		movement = &models.StockMovement{
			ItemID:       itemID,
			MovementType: models.MovementTypeAdjustment,
			Quantity:     magnitude,
			SignedDelta:  delta,
			Reason:       reason,
			BalanceAfter: newQuantity,
			ValueAfter:   newQuantity * costPrice,
		}
		if err := insertStockMovement(tx, movement); err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("%w: committing adjustment: %v", ErrDatabaseError, err)
	}

	item, err := r.GetItemByID(ownerID, itemID)
	if err != nil {
		return nil, nil, err
	}
	return item, movement, nil
}

func (r *inventoryRepository) SoftDeleteItem(ownerID, itemID int64) error {
	result, err := r.db.Exec(
		`UPDATE inventory_items SET is_deleted = TRUE, updated_at = $1
		 WHERE id = $2 AND owner_id = $3 AND is_deleted = FALSE`,
		time.Now(), itemID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("%w: soft-deleting item ID %d: %v", ErrDatabaseError, itemID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: getting rows affected for item delete ID %d: %v", ErrDatabaseError, itemID, err)
	}
	if rowsAffected == 0 {
		return r.classifyNoRows(ownerID, itemID)
	}
	return nil
}

func (r *inventoryRepository) GetStats(ownerID int64) (*models.InventoryStats, error) {
	stats := &models.InventoryStats{CategoryBreakdown: []models.CategoryBreakdown{}}

	err := r.db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(quantity * cost_price), 0),
		        COUNT(*) FILTER (WHERE quantity <= low_stock_threshold),
		        COUNT(*) FILTER (WHERE quantity = 0)
		 FROM inventory_items WHERE owner_id = $1 AND is_deleted = FALSE`,
		ownerID,
	).Scan(&stats.TotalItems, &stats.TotalValue, &stats.LowStockItems, &stats.OutOfStock)
	if err != nil {
		return nil, fmt.Errorf("%w: aggregating inventory stats: %v", ErrDatabaseError, err)
	}

	rows, err := r.db.Query(
		`SELECT COALESCE(category, 'Uncategorized'), COUNT(*), COALESCE(SUM(quantity * cost_price), 0)
		 FROM inventory_items WHERE owner_id = $1 AND is_deleted = FALSE
		 GROUP BY 1 ORDER BY 1`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: aggregating category breakdown: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	for rows.Next() {
		var cb models.CategoryBreakdown
		if err := rows.Scan(&cb.Category, &cb.Items, &cb.Value); err != nil {
			return nil, fmt.Errorf("%w: scanning category breakdown: %v", ErrDatabaseError, err)
		}
		stats.CategoryBreakdown = append(stats.CategoryBreakdown, cb)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating category breakdown: %v", ErrDatabaseError, err)
	}
	return stats, nil
}

// classifyNoRows distinguishes a missing/not-owned/deleted item from one that
// merely lacks stock, after a conditional UPDATE matched nothing.
func (r *inventoryRepository) classifyNoRows(ownerID, itemID int64) error {
	var exists bool
	err := r.db.QueryRow(
		`SELECT EXISTS (SELECT 1 FROM inventory_items WHERE id = $1 AND owner_id = $2 AND is_deleted = FALSE)`,
		itemID, ownerID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%w: probing item ID %d: %v", ErrDatabaseError, itemID, err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInsufficientStock
}

func (r *inventoryRepository) scanItem(row scanner) (*models.InventoryItem, error) {
	item := &models.InventoryItem{}
	err := row.Scan(
		&item.ID, &item.OwnerID, &item.Name, &item.SKU, &item.Category, &item.Kind, &item.BaseUnit,
		&item.CostPrice, &item.SellingPrice, &item.Quantity, &item.LowStockThreshold,
		&item.IsDeleted, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (r *inventoryRepository) loadSellingUnits(item *models.InventoryItem) error {
	rows, err := r.db.Query(
		`SELECT id, item_id, name, conversion_factor, cost_price, selling_price, is_default
		 FROM selling_units WHERE item_id = $1 ORDER BY is_default DESC, name ASC`,
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("%w: querying selling units for item ID %d: %v", ErrDatabaseError, item.ID, err)
	}
	defer rows.Close()

	units := []models.SellingUnit{}
	for rows.Next() {
		var su models.SellingUnit
		if err := rows.Scan(&su.ID, &su.ItemID, &su.Name, &su.ConversionFactor, &su.CostPrice, &su.SellingPrice, &su.IsDefault); err != nil {
			return fmt.Errorf("%w: scanning selling unit: %v", ErrDatabaseError, err)
		}
		units = append(units, su)
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("%w: iterating selling units: %v", ErrDatabaseError, err)
	}
	if len(units) > 0 {
		item.SellingUnits = units
	}
	return nil
}
