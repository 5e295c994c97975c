package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"stockledger_backend/internal/models"
	"stockledger_backend/internal/repositories"
	"stockledger_backend/pkg/utils"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrItemNotFound       = errors.New("inventory item not found")
	ErrInsufficientStock  = errors.New("insufficient stock for requested quantity")
	ErrDuplicateSKU       = errors.New("sku already exists for this owner")
	ErrUnknownSellingUnit = errors.New("selling unit is not defined for this item")
)

// SellingUnitRequest describes one selling unit of a multi-unit item.
type SellingUnitRequest struct {
	Name             string  `json:"name" binding:"required"`
	ConversionFactor float64 `json:"conversion_factor" binding:"required,gt=0"`
	CostPrice        float64 `json:"cost_price" binding:"gte=0"`
	SellingPrice     float64 `json:"selling_price" binding:"gte=0"`
	IsDefault        bool    `json:"is_default"`
}

// CreateItemRequest is the payload for creating an inventory item. Kind
// defaults to "standard" when omitted.
type CreateItemRequest struct {
	Name              string               `json:"name" binding:"required"`
	SKU               *string              `json:"sku"`
	Category          *string              `json:"category"`
	Kind              string               `json:"kind"`
	CostPrice         float64              `json:"cost_price" binding:"gte=0"`
	SellingPrice      float64              `json:"selling_price" binding:"gte=0"`
	InitialQuantity   float64              `json:"initial_quantity" binding:"gte=0"`
	LowStockThreshold float64              `json:"low_stock_threshold" binding:"gte=0"`
	BaseUnit          *string              `json:"base_unit"`
	SellingUnits      []SellingUnitRequest `json:"selling_units" binding:"omitempty,dive"`
}

// StockRequest is the payload for restock and stock-out operations. Unit
// names a selling unit of a multi-unit item; for standard items it must be
// omitted and Quantity is taken in base units.
type StockRequest struct {
	Quantity       float64 `json:"quantity" binding:"required,gt=0"`
	Unit           *string `json:"unit"`
	Reason         *string `json:"reason"`
	IdempotencyKey *string `json:"-"`
}

// AdjustRequest sets an item's quantity to an absolute value after a physical
// count. Reason is mandatory for adjustments.
type AdjustRequest struct {
	NewQuantity float64 `json:"new_quantity" binding:"gte=0"`
	Reason      string  `json:"reason" binding:"required"`
}

type InventoryService interface {
	CreateItem(ownerID int64, req CreateItemRequest) (*models.InventoryItem, error)
	GetItems(ownerID int64, filters models.ItemFilters) ([]models.InventoryItem, int, error)
	GetItemWithHistory(ownerID, itemID int64) (*models.ItemHistory, error)
	Restock(ownerID, itemID int64, req StockRequest) (*models.InventoryItem, error)
	StockOut(ownerID, itemID int64, req StockRequest) (*models.InventoryItem, error)
	Adjust(ownerID, itemID int64, req AdjustRequest) (*models.InventoryItem, error)
	SoftDeleteItem(ownerID, itemID int64) error
	GetStats(ownerID int64) (*models.InventoryStats, error)
}

type inventoryService struct {
	inventoryRepo repositories.InventoryRepository
	movementRepo  repositories.StockMovementRepository
	guard         IdempotencyGuard
}

// NewInventoryService creates a new instance of InventoryService.
func NewInventoryService(inventoryRepo repositories.InventoryRepository, movementRepo repositories.StockMovementRepository, guard IdempotencyGuard) InventoryService {
	return &inventoryService{
		inventoryRepo: inventoryRepo,
		movementRepo:  movementRepo,
		guard:         guard,
	}
}

// CreateItem validates the item variant and persists it. Creation records no
// stock movement; the audit trail covers post-creation changes only.
func (s *inventoryService) CreateItem(ownerID int64, req CreateItemRequest) (*models.InventoryItem, error) {
	item, err := buildItem(ownerID, req)
	if err != nil {
		return nil, err
	}

	id, err := s.inventoryRepo.CreateItem(item)
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicateKey) {
			return nil, ErrDuplicateSKU
		}
		return nil, fmt.Errorf("failed to create inventory item: %w", err)
	}

	created, err := s.inventoryRepo.GetItemByID(ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load created item: %w", err)
	}
	return created, nil
}

func buildItem(ownerID int64, req CreateItemRequest) (*models.InventoryItem, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}

	kind := req.Kind
	if kind == "" {
		kind = models.ItemKindStandard
	}

	item := &models.InventoryItem{
		OwnerID:           ownerID,
		Name:              strings.TrimSpace(req.Name),
		SKU:               normalizeSKU(req.SKU),
		Category:          req.Category,
		Kind:              kind,
		Quantity:          req.InitialQuantity,
		LowStockThreshold: req.LowStockThreshold,
	}

	switch kind {
	case models.ItemKindStandard:
		if len(req.SellingUnits) > 0 {
			return nil, fmt.Errorf("%w: standard items cannot define selling units", ErrValidation)
		}
		item.CostPrice = req.CostPrice
		item.SellingPrice = req.SellingPrice
	case models.ItemKindMultiUnit:
		if req.BaseUnit == nil || strings.TrimSpace(*req.BaseUnit) == "" {
			return nil, fmt.Errorf("%w: multi-unit items require a base unit", ErrValidation)
		}
		if len(req.SellingUnits) == 0 {
			return nil, fmt.Errorf("%w: multi-unit items require at least one selling unit", ErrValidation)
		}
		units, defaultUnit, err := buildSellingUnits(req.SellingUnits)
		if err != nil {
			return nil, err
		}
		item.BaseUnit = req.BaseUnit
		item.SellingUnits = units
		// Per-base-unit prices are derived from the default selling unit so
		// that stock value and sale cost snapshots share one basis.
		item.CostPrice = defaultUnit.CostPrice / defaultUnit.ConversionFactor
		item.SellingPrice = defaultUnit.SellingPrice / defaultUnit.ConversionFactor
	default:
		return nil, fmt.Errorf("%w: unknown item kind %q", ErrValidation, kind)
	}

	return item, nil
}

func buildSellingUnits(reqs []SellingUnitRequest) ([]models.SellingUnit, *models.SellingUnit, error) {
	units := make([]models.SellingUnit, 0, len(reqs))
	seen := make(map[string]bool, len(reqs))
	defaultCount := 0
	for _, u := range reqs {
		name := strings.TrimSpace(u.Name)
		if name == "" {
			return nil, nil, fmt.Errorf("%w: selling unit name is required", ErrValidation)
		}
		if seen[name] {
			return nil, nil, fmt.Errorf("%w: duplicate selling unit %q", ErrValidation, name)
		}
		seen[name] = true
		if u.ConversionFactor <= 0 {
			return nil, nil, fmt.Errorf("%w: conversion factor for %q must be positive", ErrValidation, name)
		}
		if u.IsDefault {
			defaultCount++
		}
		units = append(units, models.SellingUnit{
			Name:             name,
			ConversionFactor: u.ConversionFactor,
			CostPrice:        u.CostPrice,
			SellingPrice:     u.SellingPrice,
			IsDefault:        u.IsDefault,
		})
	}
	if defaultCount == 0 && len(units) == 1 {
		units[0].IsDefault = true
		defaultCount = 1
	}
	if defaultCount != 1 {
		return nil, nil, fmt.Errorf("%w: exactly one selling unit must be marked default", ErrValidation)
	}
	for i := range units {
		if units[i].IsDefault {
			return units, &units[i], nil
		}
	}
	return nil, nil, fmt.Errorf("%w: exactly one selling unit must be marked default", ErrValidation)
}

func normalizeSKU(sku *string) *string {
	if sku == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*sku)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func (s *inventoryService) GetItems(ownerID int64, filters models.ItemFilters) ([]models.InventoryItem, int, error) {
	items, total, err := s.inventoryRepo.GetItems(ownerID, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get inventory items: %w", err)
	}
	return items, total, nil
}

// GetItemWithHistory returns the item with its full movement trail, newest
// first, plus total stock-in and stock-out rollups.
func (s *inventoryService) GetItemWithHistory(ownerID, itemID int64) (*models.ItemHistory, error) {
	item, err := s.inventoryRepo.GetItemByID(ownerID, itemID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get inventory item: %w", err)
	}

	movements, err := s.movementRepo.GetMovementsByItem(item.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stock movements: %w", err)
	}
	totalIn, totalOut, err := s.movementRepo.GetRollups(item.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get movement rollups: %w", err)
	}

	return &models.ItemHistory{
		Item:          item,
		Movements:     movements,
		TotalStockIn:  totalIn,
		TotalStockOut: totalOut,
	}, nil
}

// Restock adds stock to an item. For multi-unit items the quantity may be
// given in any of the item's selling units via req.Unit.
func (s *inventoryService) Restock(ownerID, itemID int64, req StockRequest) (*models.InventoryItem, error) {
	return s.applyStockChange(ownerID, itemID, req, OpRestock, s.inventoryRepo.ApplyStockIn)
}

// StockOut removes stock from an item, rejecting the change when the balance
// would go negative. Reason is required so the audit trail stays meaningful.
func (s *inventoryService) StockOut(ownerID, itemID int64, req StockRequest) (*models.InventoryItem, error) {
	if req.Reason == nil || strings.TrimSpace(*req.Reason) == "" {
		return nil, fmt.Errorf("%w: reason is required for stock-out", ErrValidation)
	}
	return s.applyStockChange(ownerID, itemID, req, OpStockOut, s.inventoryRepo.ApplyStockOut)
}

type stockApplyFunc func(ownerID, itemID int64, quantity float64, reason, idempotencyKey *string) (*models.InventoryItem, *models.StockMovement, error)

func (s *inventoryService) applyStockChange(ownerID, itemID int64, req StockRequest, operationType string, apply stockApplyFunc) (*models.InventoryItem, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}

	key := ""
	if req.IdempotencyKey != nil {
		key = *req.IdempotencyKey
	}

	payload, _, err := s.guard.Execute(ownerID, operationType, key, func() (interface{}, error) {
		baseQuantity, err := s.resolveBaseQuantity(ownerID, itemID, req.Quantity, req.Unit)
		if err != nil {
			return nil, err
		}
		item, _, err := apply(ownerID, itemID, baseQuantity, req.Reason, req.IdempotencyKey)
		if err != nil {
			return nil, mapStockError(err)
		}
		return item, nil
	})
	if err != nil {
		return nil, err
	}

	var item models.InventoryItem
	if err := json.Unmarshal(payload, &item); err != nil {
		return nil, fmt.Errorf("failed to decode stock change result: %w", err)
	}
	return &item, nil
}

// resolveBaseQuantity converts a selling-unit quantity into base units. When
// unit is nil the quantity is already in base units.
func (s *inventoryService) resolveBaseQuantity(ownerID, itemID int64, quantity float64, unit *string) (float64, error) {
	if unit == nil || *unit == "" {
		return quantity, nil
	}

	item, err := s.inventoryRepo.GetItemByID(ownerID, itemID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return 0, ErrItemNotFound
		}
		return 0, fmt.Errorf("failed to get inventory item: %w", err)
	}
	if item.Kind != models.ItemKindMultiUnit {
		return 0, fmt.Errorf("%w: item %q has no selling units", ErrValidation, item.Name)
	}
	su := item.SellingUnitByName(*unit)
	if su == nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSellingUnit, *unit)
	}
	base, err := utils.ToBaseQuantity(quantity, su.ConversionFactor)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return base, nil
}

// Adjust sets the quantity to an absolute value. Setting the current value is
// a no-op that records no movement.
func (s *inventoryService) Adjust(ownerID, itemID int64, req AdjustRequest) (*models.InventoryItem, error) {
	if req.NewQuantity < 0 {
		return nil, fmt.Errorf("%w: quantity cannot be negative", ErrValidation)
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, fmt.Errorf("%w: reason is required for adjustments", ErrValidation)
	}

	reason := req.Reason
	item, _, err := s.inventoryRepo.ApplyAdjustment(ownerID, itemID, req.NewQuantity, &reason)
	if err != nil {
		return nil, mapStockError(err)
	}
	return item, nil
}

func (s *inventoryService) SoftDeleteItem(ownerID, itemID int64) error {
	if err := s.inventoryRepo.SoftDeleteItem(ownerID, itemID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrItemNotFound
		}
		return fmt.Errorf("failed to delete inventory item: %w", err)
	}
	return nil
}

func (s *inventoryService) GetStats(ownerID int64) (*models.InventoryStats, error) {
	stats, err := s.inventoryRepo.GetStats(ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory stats: %w", err)
	}
	return stats, nil
}

func mapStockError(err error) error {
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return ErrItemNotFound
	case errors.Is(err, repositories.ErrInsufficientStock):
		return ErrInsufficientStock
	default:
		return fmt.Errorf("failed to apply stock change: %w", err)
	}
}
