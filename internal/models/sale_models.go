package models

import "time"

// Payment statuses.
const (
	PaymentStatusPaid    = "paid"
	PaymentStatusPending = "pending"
	PaymentStatusPartial = "partial"
)

// DefaultCustomerName is used when a sale references no customer record.
const DefaultCustomerName = "Walk-in Customer"

// SaleLine is one line of a sale. ItemID is nil for ad hoc lines that do not
// touch inventory. CostPrice is snapshotted at the moment of stock decrement.
type SaleLine struct {
	ID        int64   `json:"id" db:"id"`
	SaleID    int64   `json:"-" db:"sale_id"`
	ItemID    *int64  `json:"item_id,omitempty" db:"item_id"`
	Name      string  `json:"name" db:"name"`
	Quantity  float64 `json:"quantity" db:"quantity"`
	UnitName  *string `json:"unit_name,omitempty" db:"unit_name"`
	UnitPrice float64 `json:"unit_price" db:"unit_price"`
	CostPrice float64 `json:"cost_price" db:"cost_price"`
	Subtotal  float64 `json:"subtotal" db:"subtotal"`
}

// Sale is owned by one business owner. Lifecycle is Active -> Deleted (terminal);
// payment fields mutate without changing the lifecycle state.
type Sale struct {
	ID              int64      `json:"id" db:"id"`
	OwnerID         int64      `json:"-" db:"owner_id"`
	CustomerID      *int64     `json:"customer_id,omitempty" db:"customer_id"`
	CustomerName    string     `json:"customer_name" db:"customer_name"`
	ReferenceNumber string     `json:"reference_number" db:"reference_number"`
	Lines           []SaleLine `json:"items"`
	TotalAmount     float64    `json:"total_amount" db:"total_amount"`
	TotalCost       float64    `json:"total_cost" db:"total_cost"`
	Profit          float64    `json:"profit" db:"profit"`
	PaymentMethod   *string    `json:"payment_method,omitempty" db:"payment_method"`
	PaymentStatus   string     `json:"payment_status" db:"payment_status"`
	AmountPaid      float64    `json:"amount_paid" db:"amount_paid"`
	Balance         float64    `json:"balance" db:"balance"`
	IsDeleted       bool       `json:"is_deleted" db:"is_deleted"`
	SaleDate        time.Time  `json:"sale_date" db:"sale_date"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// SalesStats aggregates non-deleted sales over a relative date window.
type SalesStats struct {
	Period       string  `json:"period"`
	SalesCount   int     `json:"sales_count"`
	TotalRevenue float64 `json:"total_revenue"`
	TotalCost    float64 `json:"total_cost"`
	TotalProfit  float64 `json:"total_profit"`
}

// SaleFilters narrows sale listings.
type SaleFilters struct {
	CustomerID    *int64
	PaymentStatus *string
	Date          *string // YYYY-MM-DD
	Page          int
	PageSize      int
}
