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

// SaleRepository defines the interface for sale-related database operations.
// A sale header and its lines are one logical record and commit in one
// transaction; cross-sale and sale-to-inventory atomicity is the coordinator's
// problem, not the store's.
type SaleRepository interface {
	CreateSale(sale *models.Sale) (int64, error)
	GetSaleByID(ownerID, saleID int64) (*models.Sale, error)
	GetSales(ownerID int64, filters models.SaleFilters) ([]models.Sale, int, error)
	SoftDeleteSale(ownerID, saleID int64) error
	GetSalesStats(ownerID int64, from, to time.Time) (*models.SalesStats, error)
	NextReferenceSeq(ownerID int64, windowStart time.Time) (int, error)
}

type saleRepository struct {
	db *sql.DB
}

// NewSaleRepository creates a new instance of SaleRepository.
func NewSaleRepository(db *sql.DB) SaleRepository {
	return &saleRepository{db: db}
}

func (r *saleRepository) CreateSale(sale *models.Sale) (int64, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("%w: starting sale create transaction: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	currentTime := time.Now()
	if sale.SaleDate.IsZero() {
		sale.SaleDate = currentTime
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = currentTime
	}
	sale.UpdatedAt = currentTime

	query := `INSERT INTO sales
	            (owner_id, customer_id, customer_name, reference_number, total_amount, total_cost,
	             profit, payment_method, payment_status, amount_paid, balance, is_deleted,
	             sale_date, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, FALSE, $12, $13, $14)
	          RETURNING id`
	err = tx.QueryRow(query,
		sale.OwnerID, sale.CustomerID, sale.CustomerName, sale.ReferenceNumber,
		sale.TotalAmount, sale.TotalCost, sale.Profit, sale.PaymentMethod, sale.PaymentStatus,
		sale.AmountPaid, sale.Balance, sale.SaleDate, sale.CreatedAt, sale.UpdatedAt,
	).Scan(&sale.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return 0, fmt.Errorf("%w: %s (constraint: %s)", ErrDuplicateKey, pqErr.Message, pqErr.Constraint)
		}
		return 0, fmt.Errorf("%w: creating sale: %v", ErrDatabaseError, err)
	}

	for idx := range sale.Lines {
		line := &sale.Lines[idx]
		line.SaleID = sale.ID
		err = tx.QueryRow(
			`INSERT INTO sale_lines (sale_id, item_id, name, quantity, unit_name, unit_price, cost_price, subtotal)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
			line.SaleID, line.ItemID, line.Name, line.Quantity, line.UnitName,
			line.UnitPrice, line.CostPrice, line.Subtotal,
		).Scan(&line.ID)
		if err != nil {
			return 0, fmt.Errorf("%w: creating sale line %q: %v", ErrDatabaseError, line.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: committing sale create: %v", ErrDatabaseError, err)
	}
	return sale.ID, nil
}

func (r *saleRepository) GetSaleByID(ownerID, saleID int64) (*models.Sale, error) {
	sale := &models.Sale{}
	err := r.db.QueryRow(
		`SELECT id, owner_id, customer_id, customer_name, reference_number, total_amount, total_cost,
		        profit, payment_method, payment_status, amount_paid, balance, is_deleted,
		        sale_date, created_at, updated_at
		 FROM sales WHERE id = $1 AND owner_id = $2`,
		saleID, ownerID,
	).Scan(
		&sale.ID, &sale.OwnerID, &sale.CustomerID, &sale.CustomerName, &sale.ReferenceNumber,
		&sale.TotalAmount, &sale.TotalCost, &sale.Profit, &sale.PaymentMethod, &sale.PaymentStatus,
		&sale.AmountPaid, &sale.Balance, &sale.IsDeleted, &sale.SaleDate, &sale.CreatedAt, &sale.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: getting sale by ID %d: %v", ErrDatabaseError, saleID, err)
	}

	lines, err := r.getSaleLines(saleID)
	if err != nil {
		return nil, err
	}
	sale.Lines = lines
	return sale, nil
}

func (r *saleRepository) getSaleLines(saleID int64) ([]models.SaleLine, error) {
	lines := []models.SaleLine{}
	rows, err := r.db.Query(
		`SELECT id, sale_id, item_id, name, quantity, unit_name, unit_price, cost_price, subtotal
		 FROM sale_lines WHERE sale_id = $1 ORDER BY id`,
		saleID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: querying sale lines for sale ID %d: %v", ErrDatabaseError, saleID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var line models.SaleLine
		if err := rows.Scan(
			&line.ID, &line.SaleID, &line.ItemID, &line.Name, &line.Quantity,
			&line.UnitName, &line.UnitPrice, &line.CostPrice, &line.Subtotal,
		); err != nil {
			return nil, fmt.Errorf("%w: scanning sale line: %v", ErrDatabaseError, err)
		}
		lines = append(lines, line)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating sale lines: %v", ErrDatabaseError, err)
	}
	return lines, nil
}

func (r *saleRepository) GetSales(ownerID int64, filters models.SaleFilters) ([]models.Sale, int, error) {
	sales := []models.Sale{}
	totalCount := 0

	var queryBuilder strings.Builder
	queryBuilder.WriteString(`SELECT id, owner_id, customer_id, customer_name, reference_number, total_amount,
	                                 total_cost, profit, payment_method, payment_status, amount_paid, balance,
	                                 is_deleted, sale_date, created_at, updated_at,
	                                 COUNT(*) OVER() AS total_count
	                          FROM sales`)

	conditions := []string{"owner_id = $1", "is_deleted = FALSE"}
	args := []interface{}{ownerID}
	argCount := 2

	if filters.CustomerID != nil {
		conditions = append(conditions, fmt.Sprintf("customer_id = $%d", argCount))
		args = append(args, *filters.CustomerID)
		argCount++
	}
	if filters.PaymentStatus != nil && *filters.PaymentStatus != "" {
		conditions = append(conditions, fmt.Sprintf("payment_status = $%d", argCount))
		args = append(args, *filters.PaymentStatus)
		argCount++
	}
	if filters.Date != nil && *filters.Date != "" {
		parsedDate, err := time.Parse("2006-01-02", *filters.Date)
		if err == nil {
			startOfDay := time.Date(parsedDate.Year(), parsedDate.Month(), parsedDate.Day(), 0, 0, 0, 0, parsedDate.Location())
			endOfDay := startOfDay.AddDate(0, 0, 1).Add(-time.Nanosecond)
			conditions = append(conditions, fmt.Sprintf("sale_date BETWEEN $%d AND $%d", argCount, argCount+1))
			args = append(args, startOfDay, endOfDay)
			argCount += 2
		}
	}

	queryBuilder.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	queryBuilder.WriteString(" ORDER BY sale_date DESC, id DESC")

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
		return nil, 0, fmt.Errorf("%w: querying sales: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	for rows.Next() {
		var s models.Sale
		if err := rows.Scan(
			&s.ID, &s.OwnerID, &s.CustomerID, &s.CustomerName, &s.ReferenceNumber, &s.TotalAmount,
			&s.TotalCost, &s.Profit, &s.PaymentMethod, &s.PaymentStatus, &s.AmountPaid, &s.Balance,
			&s.IsDeleted, &s.SaleDate, &s.CreatedAt, &s.UpdatedAt, &totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("%w: scanning sale: %v", ErrDatabaseError, err)
		}
		sales = append(sales, s)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: iterating sales: %v", ErrDatabaseError, err)
	}
	return sales, totalCount, nil
}

// SoftDeleteSale marks a sale deleted. The is_deleted condition makes the
// transition at-most-once under concurrent deletes: exactly one caller gets the
// row; later callers get ErrAlreadyDeleted.
func (r *saleRepository) SoftDeleteSale(ownerID, saleID int64) error {
	result, err := r.db.Exec(
		`UPDATE sales SET is_deleted = TRUE, updated_at = $1
		 WHERE id = $2 AND owner_id = $3 AND is_deleted = FALSE`,
		time.Now(), saleID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("%w: soft-deleting sale ID %d: %v", ErrDatabaseError, saleID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: getting rows affected for sale delete ID %d: %v", ErrDatabaseError, saleID, err)
	}
	if rowsAffected == 0 {
		var exists bool
		probeErr := r.db.QueryRow(
			`SELECT EXISTS (SELECT 1 FROM sales WHERE id = $1 AND owner_id = $2)`,
			saleID, ownerID,
		).Scan(&exists)
		if probeErr != nil {
			return fmt.Errorf("%w: probing sale ID %d: %v", ErrDatabaseError, saleID, probeErr)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrAlreadyDeleted
	}
	return nil
}

func (r *saleRepository) GetSalesStats(ownerID int64, from, to time.Time) (*models.SalesStats, error) {
	stats := &models.SalesStats{}
	err := r.db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(total_amount), 0),
		        COALESCE(SUM(total_cost), 0),
		        COALESCE(SUM(profit), 0)
		 FROM sales
		 WHERE owner_id = $1 AND is_deleted = FALSE AND sale_date >= $2 AND sale_date < $3`,
		ownerID, from, to,
	).Scan(&stats.SalesCount, &stats.TotalRevenue, &stats.TotalCost, &stats.TotalProfit)
	if err != nil {
		return nil, fmt.Errorf("%w: aggregating sales stats: %v", ErrDatabaseError, err)
	}
	return stats, nil
}

// NextReferenceSeq advances the owner's rate-window counter in one
// compare-and-reset upsert: a counter from an earlier window restarts at 1,
// otherwise it increments. No field is mutated outside this statement.
func (r *saleRepository) NextReferenceSeq(ownerID int64, windowStart time.Time) (int, error) {
	var seq int
	err := r.db.QueryRow(
		`INSERT INTO sale_counters (owner_id, count, window_reset_at)
		 VALUES ($1, 1, $2)
		 ON CONFLICT (owner_id) DO UPDATE SET
		   count = CASE WHEN sale_counters.window_reset_at < $2 THEN 1 ELSE sale_counters.count + 1 END,
		   window_reset_at = GREATEST(sale_counters.window_reset_at, $2)
		 RETURNING count`,
		ownerID, windowStart,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("%w: advancing sale counter for owner %d: %v", ErrDatabaseError, ownerID, err)
	}
	return seq, nil
}
