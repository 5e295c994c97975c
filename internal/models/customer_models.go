package models

import "time"

// Customer is owned by one business owner. TotalPurchases, TotalSpent and
// LastPurchaseDate are derived aggregates mutated only by the sale coordinator,
// never directly by client requests.
type Customer struct {
	ID               int64      `json:"id" db:"id"`
	OwnerID          int64      `json:"-" db:"owner_id"`
	FullName         string     `json:"full_name" db:"full_name"`
	PhoneNumber      *string    `json:"phone_number,omitempty" db:"phone_number"`
	Email            *string    `json:"email,omitempty" db:"email"`
	TotalPurchases   int        `json:"total_purchases" db:"total_purchases"`
	TotalSpent       float64    `json:"total_spent" db:"total_spent"`
	LastPurchaseDate *time.Time `json:"last_purchase_date,omitempty" db:"last_purchase_date"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}
