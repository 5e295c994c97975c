package models

import "time"

// Item kinds. A standard item tracks one quantity priced directly; a multi-unit
// item tracks a base-unit quantity sold through named selling units.
const (
	ItemKindStandard  = "standard"
	ItemKindMultiUnit = "multi_unit"
)

// Stock movement types.
const (
	MovementTypeIn         = "in"
	MovementTypeOut        = "out"
	MovementTypeAdjustment = "adjustment"
)

// SellingUnit is one named sale unit of a multi-unit item.
// ConversionFactor expresses "1 unit of this selling unit = ConversionFactor base units".
type SellingUnit struct {
	ID               int64   `json:"id" db:"id"`
	ItemID           int64   `json:"-" db:"item_id"`
	Name             string  `json:"name" db:"name" binding:"required"`
	ConversionFactor float64 `json:"conversion_factor" db:"conversion_factor" binding:"required,gt=0"`
	CostPrice        float64 `json:"cost_price" db:"cost_price" binding:"gte=0"`
	SellingPrice     float64 `json:"selling_price" db:"selling_price" binding:"gte=0"`
	IsDefault        bool    `json:"is_default" db:"is_default"`
}

// InventoryItem is owned by exactly one business owner. Kind selects the variant:
// standard items use CostPrice/SellingPrice directly, multi-unit items carry a
// BaseUnit plus SellingUnits (exactly one of which is the default).
// Quantity is always expressed in the base unit.
type InventoryItem struct {
	ID                int64         `json:"id" db:"id"`
	OwnerID           int64         `json:"-" db:"owner_id"`
	Name              string        `json:"name" db:"name"`
	SKU               *string       `json:"sku,omitempty" db:"sku"`
	Category          *string       `json:"category,omitempty" db:"category"`
	Kind              string        `json:"kind" db:"kind"`
	BaseUnit          *string       `json:"base_unit,omitempty" db:"base_unit"`
	CostPrice         float64       `json:"cost_price" db:"cost_price"`
	SellingPrice      float64       `json:"selling_price" db:"selling_price"`
	Quantity          float64       `json:"quantity" db:"quantity"`
	LowStockThreshold float64       `json:"low_stock_threshold" db:"low_stock_threshold"`
	IsDeleted         bool          `json:"is_deleted" db:"is_deleted"`
	SellingUnits      []SellingUnit `json:"selling_units,omitempty"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`

	// Derived fields, populated on reads.
	IsLowStock bool    `json:"is_low_stock"`
	StockValue float64 `json:"stock_value"`
}

// Derive fills the computed fields from the stored ones.
func (i *InventoryItem) Derive() {
	i.IsLowStock = i.Quantity <= i.LowStockThreshold
	i.StockValue = i.Quantity * i.CostPrice
}

// DefaultSellingUnit returns the default unit of a multi-unit item, or nil.
func (i *InventoryItem) DefaultSellingUnit() *SellingUnit {
	for idx := range i.SellingUnits {
		if i.SellingUnits[idx].IsDefault {
			return &i.SellingUnits[idx]
		}
	}
	return nil
}

// SellingUnitByName returns the named unit of a multi-unit item, or nil.
func (i *InventoryItem) SellingUnitByName(name string) *SellingUnit {
	for idx := range i.SellingUnits {
		if i.SellingUnits[idx].Name == name {
			return &i.SellingUnits[idx]
		}
	}
	return nil
}

// StockMovement is one append-only ledger entry for an item. Quantity is a
// positive magnitude; SignedDelta carries the applied change so replaying all
// entries from zero reproduces the item's current quantity. Never edited or
// deleted once written.
type StockMovement struct {
	ID             int64     `json:"id" db:"id"`
	ItemID         int64     `json:"item_id" db:"item_id"`
	MovementType   string    `json:"movement_type" db:"movement_type"`
	Quantity       float64   `json:"quantity" db:"quantity"`
	SignedDelta    float64   `json:"signed_delta" db:"signed_delta"`
	Reason         *string   `json:"reason,omitempty" db:"reason"`
	BalanceAfter   float64   `json:"balance_after" db:"balance_after"`
	ValueAfter     float64   `json:"value_after" db:"value_after"`
	IdempotencyKey *string   `json:"idempotency_key,omitempty" db:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// ItemHistory is an item plus its ledger, newest-first, with rollups.
type ItemHistory struct {
	Item          *InventoryItem  `json:"item"`
	Movements     []StockMovement `json:"movements"`
	TotalStockIn  float64         `json:"total_stock_in"`
	TotalStockOut float64         `json:"total_stock_out"`
}

// CategoryBreakdown is one row of the per-category stats rollup.
type CategoryBreakdown struct {
	Category string  `json:"category"`
	Items    int     `json:"items"`
	Value    float64 `json:"value"`
}

// InventoryStats aggregates all non-deleted items of one owner.
type InventoryStats struct {
	TotalItems        int                 `json:"total_items"`
	TotalValue        float64             `json:"total_value"`
	LowStockItems     int                 `json:"low_stock_items"`
	OutOfStock        int                 `json:"out_of_stock"`
	CategoryBreakdown []CategoryBreakdown `json:"category_breakdown"`
}

// ItemFilters narrows item listings.
type ItemFilters struct {
	Category *string
	LowStock bool
	Search   *string
	Page     int
	PageSize int
}
