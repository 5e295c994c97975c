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

// CustomerRepository defines the interface for customer-related database
// operations. The aggregate mutations are single UPDATE statements; callers
// treat them as eventually-consistent rollups, not audit state.
type CustomerRepository interface {
	CreateCustomer(customer *models.Customer) (int64, error)
	GetCustomerByID(ownerID, customerID int64) (*models.Customer, error)
	GetCustomers(ownerID int64, page, pageSize int, searchTerm *string) ([]models.Customer, int, error)
	ApplySaleAggregate(ownerID, customerID int64, amount float64, purchasedAt time.Time) error
	ReverseSaleAggregate(ownerID, customerID int64, amount float64) error
}

type customerRepository struct {
	db *sql.DB
}

// NewCustomerRepository creates a new instance of CustomerRepository.
func NewCustomerRepository(db *sql.DB) CustomerRepository {
	return &customerRepository{db: db}
}

func (r *customerRepository) CreateCustomer(customer *models.Customer) (int64, error) {
	currentTime := time.Now()
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = currentTime
	}
	customer.UpdatedAt = currentTime

	err := r.db.QueryRow(
		`INSERT INTO customers (owner_id, full_name, phone_number, email, total_purchases, total_spent, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 0, 0, $5, $6)
		 RETURNING id`,
		customer.OwnerID, customer.FullName, customer.PhoneNumber, customer.Email,
		customer.CreatedAt, customer.UpdatedAt,
	).Scan(&customer.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return 0, fmt.Errorf("%w: %s (constraint: %s)", ErrDuplicateKey, pqErr.Message, pqErr.Constraint)
		}
		return 0, fmt.Errorf("%w: creating customer: %v", ErrDatabaseError, err)
	}
	return customer.ID, nil
}

func (r *customerRepository) GetCustomerByID(ownerID, customerID int64) (*models.Customer, error) {
	customer := &models.Customer{}
	var lastPurchase sql.NullTime
	err := r.db.QueryRow(
		`SELECT id, owner_id, full_name, phone_number, email, total_purchases, total_spent,
		        last_purchase_date, created_at, updated_at
		 FROM customers WHERE id = $1 AND owner_id = $2`,
		customerID, ownerID,
	).Scan(
		&customer.ID, &customer.OwnerID, &customer.FullName, &customer.PhoneNumber, &customer.Email,
		&customer.TotalPurchases, &customer.TotalSpent, &lastPurchase,
		&customer.CreatedAt, &customer.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: getting customer by ID %d: %v", ErrDatabaseError, customerID, err)
	}
	if lastPurchase.Valid {
		customer.LastPurchaseDate = &lastPurchase.Time
	}
	return customer, nil
}

func (r *customerRepository) GetCustomers(ownerID int64, page, pageSize int, searchTerm *string) ([]models.Customer, int, error) {
	customers := []models.Customer{}
	totalCount := 0

	var queryBuilder strings.Builder
	queryBuilder.WriteString(`SELECT id, owner_id, full_name, phone_number, email, total_purchases, total_spent,
	                                 last_purchase_date, created_at, updated_at, COUNT(*) OVER() AS total_count
	                          FROM customers`)

	conditions := []string{"owner_id = $1"}
	args := []interface{}{ownerID}
	argCount := 2

	if searchTerm != nil && *searchTerm != "" {
		conditions = append(conditions, fmt.Sprintf("(full_name ILIKE $%d OR phone_number ILIKE $%d)", argCount, argCount))
		args = append(args, "%"+*searchTerm+"%")
		argCount++
	}

	queryBuilder.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	queryBuilder.WriteString(" ORDER BY full_name ASC")

	if pageSize > 0 {
		queryBuilder.WriteString(fmt.Sprintf(" LIMIT $%d", argCount))
		args = append(args, pageSize)
		argCount++
		if page > 0 {
			queryBuilder.WriteString(fmt.Sprintf(" OFFSET $%d", argCount))
			args = append(args, (page-1)*pageSize)
		}
	}

	rows, err := r.db.Query(queryBuilder.String(), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: querying customers: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	for rows.Next() {
		var customer models.Customer
		var lastPurchase sql.NullTime
		if err := rows.Scan(
			&customer.ID, &customer.OwnerID, &customer.FullName, &customer.PhoneNumber, &customer.Email,
			&customer.TotalPurchases, &customer.TotalSpent, &lastPurchase,
			&customer.CreatedAt, &customer.UpdatedAt, &totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("%w: scanning customer: %v", ErrDatabaseError, err)
		}
		if lastPurchase.Valid {
			customer.LastPurchaseDate = &lastPurchase.Time
		}
		customers = append(customers, customer)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: iterating customers: %v", ErrDatabaseError, err)
	}
	return customers, totalCount, nil
}

func (r *customerRepository) ApplySaleAggregate(ownerID, customerID int64, amount float64, purchasedAt time.Time) error {
	result, err := r.db.Exec(
		`UPDATE customers
		 SET total_purchases = total_purchases + 1,
		     total_spent = total_spent + $1,
		     last_purchase_date = $2,
		     updated_at = $2
		 WHERE id = $3 AND owner_id = $4`,
		amount, purchasedAt, customerID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("%w: applying sale aggregate to customer ID %d: %v", ErrDatabaseError, customerID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: getting rows affected for customer aggregate ID %d: %v", ErrDatabaseError, customerID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *customerRepository) ReverseSaleAggregate(ownerID, customerID int64, amount float64) error {
	result, err := r.db.Exec(
		`UPDATE customers
		 SET total_purchases = GREATEST(total_purchases - 1, 0),
		     total_spent = GREATEST(total_spent - $1, 0),
		     updated_at = $2
		 WHERE id = $3 AND owner_id = $4`,
		amount, time.Now(), customerID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("%w: reversing sale aggregate for customer ID %d: %v", ErrDatabaseError, customerID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: getting rows affected for customer aggregate ID %d: %v", ErrDatabaseError, customerID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
