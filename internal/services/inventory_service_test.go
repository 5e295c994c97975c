package services

import (
	"errors"
	"sync"
	"testing"

	"stockledger_backend/internal/models"
)

const testOwnerID int64 = 1

func newTestInventoryService() (InventoryService, *fakeInventoryStore) {
	store := newFakeInventoryStore()
	guard := NewIdempotencyGuard(newFakeIdempotencyRepo())
	return NewInventoryService(store, store, guard), store
}

func mustCreateStandardItem(t *testing.T, svc InventoryService, name string, quantity, costPrice float64) *models.InventoryItem {
	t.Helper()
	item, err := svc.CreateItem(testOwnerID, CreateItemRequest{
		Name:            name,
		CostPrice:       costPrice,
		SellingPrice:    costPrice * 2,
		InitialQuantity: quantity,
	})
	if err != nil {
		t.Fatalf("creating item %q: %v", name, err)
	}
	return item
}

func mustCreateBoxedItem(t *testing.T, svc InventoryService, name string, boxes float64) *models.InventoryItem {
	t.Helper()
	base := "piece"
	item, err := svc.CreateItem(testOwnerID, CreateItemRequest{
		Name:            name,
		Kind:            models.ItemKindMultiUnit,
		BaseUnit:        &base,
		InitialQuantity: boxes * 12,
		SellingUnits: []SellingUnitRequest{
			{Name: "box", ConversionFactor: 12, CostPrice: 30, SellingPrice: 48, IsDefault: true},
			{Name: "piece", ConversionFactor: 1, CostPrice: 2.5, SellingPrice: 4},
		},
	})
	if err != nil {
		t.Fatalf("creating boxed item %q: %v", name, err)
	}
	return item
}

func TestCreateItemVariantValidation(t *testing.T) {
	svc, _ := newTestInventoryService()
	base := "kg"

	cases := []struct {
		name string
		req  CreateItemRequest
	}{
		{"standard with selling units", CreateItemRequest{
			Name:         "Rice",
			SellingUnits: []SellingUnitRequest{{Name: "bag", ConversionFactor: 25, IsDefault: true}},
		}},
		{"multi-unit without base unit", CreateItemRequest{
			Name: "Flour",
			Kind: models.ItemKindMultiUnit,
			SellingUnits: []SellingUnitRequest{{Name: "bag", ConversionFactor: 25, IsDefault: true}},
		}},
		{"multi-unit without selling units", CreateItemRequest{
			Name:     "Sugar",
			Kind:     models.ItemKindMultiUnit,
			BaseUnit: &base,
		}},
		{"multi-unit with two defaults", CreateItemRequest{
			Name:     "Salt",
			Kind:     models.ItemKindMultiUnit,
			BaseUnit: &base,
			SellingUnits: []SellingUnitRequest{
				{Name: "bag", ConversionFactor: 25, IsDefault: true},
				{Name: "sachet", ConversionFactor: 0.05, IsDefault: true},
			},
		}},
		{"multi-unit with no default among several", CreateItemRequest{
			Name:     "Pepper",
			Kind:     models.ItemKindMultiUnit,
			BaseUnit: &base,
			SellingUnits: []SellingUnitRequest{
				{Name: "bag", ConversionFactor: 25},
				{Name: "sachet", ConversionFactor: 0.05},
			},
		}},
		{"unknown kind", CreateItemRequest{Name: "Oil", Kind: "bulk"}},
		{"zero conversion factor", CreateItemRequest{
			Name:     "Tea",
			Kind:     models.ItemKindMultiUnit,
			BaseUnit: &base,
			SellingUnits: []SellingUnitRequest{{Name: "tin", ConversionFactor: 0, IsDefault: true}},
		}},
	}
	for _, tc := range cases {
		if _, err := svc.CreateItem(testOwnerID, tc.req); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: got %v, want ErrValidation", tc.name, err)
		}
	}
}

func TestCreateItemSingleUnitBecomesDefault(t *testing.T) {
	svc, _ := newTestInventoryService()
	base := "litre"

	item, err := svc.CreateItem(testOwnerID, CreateItemRequest{
		Name:     "Juice",
		Kind:     models.ItemKindMultiUnit,
		BaseUnit: &base,
		SellingUnits: []SellingUnitRequest{
			{Name: "bottle", ConversionFactor: 1.5, CostPrice: 3, SellingPrice: 5},
		},
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	du := item.DefaultSellingUnit()
	if du == nil || du.Name != "bottle" {
		t.Fatalf("single selling unit should become default, got %+v", item.SellingUnits)
	}
	// Per-base-unit prices derive from the default unit.
	if item.CostPrice != 2 {
		t.Fatalf("derived cost price = %v, want 2", item.CostPrice)
	}
}

func TestCreateItemDuplicateSKU(t *testing.T) {
	svc, _ := newTestInventoryService()
	sku := "SKU-001"

	if _, err := svc.CreateItem(testOwnerID, CreateItemRequest{Name: "First", SKU: &sku}); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, err := svc.CreateItem(testOwnerID, CreateItemRequest{Name: "Second", SKU: &sku}); !errors.Is(err, ErrDuplicateSKU) {
		t.Fatalf("got %v, want ErrDuplicateSKU", err)
	}
}

func TestStockMovementsReplayToCurrentQuantity(t *testing.T) {
	svc, _ := newTestInventoryService()
	item := mustCreateStandardItem(t, svc, "Widget", 10, 5)

	reason := "damaged"
	if _, err := svc.Restock(testOwnerID, item.ID, StockRequest{Quantity: 5}); err != nil {
		t.Fatalf("restock failed: %v", err)
	}
	if _, err := svc.StockOut(testOwnerID, item.ID, StockRequest{Quantity: 3, Reason: &reason}); err != nil {
		t.Fatalf("stock-out failed: %v", err)
	}
	if _, err := svc.Adjust(testOwnerID, item.ID, AdjustRequest{NewQuantity: 20, Reason: "annual count"}); err != nil {
		t.Fatalf("adjust failed: %v", err)
	}

	history, err := svc.GetItemWithHistory(testOwnerID, item.ID)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if history.Item.Quantity != 20 {
		t.Fatalf("quantity = %v, want 20", history.Item.Quantity)
	}
	if len(history.Movements) != 3 {
		t.Fatalf("movement count = %d, want 3", len(history.Movements))
	}

	// Replaying signed deltas from the initial quantity reproduces the
	// current balance, and each entry's balance matches the running sum.
	balance := 10.0
	for i := len(history.Movements) - 1; i >= 0; i-- {
		m := history.Movements[i]
		balance += m.SignedDelta
		if m.BalanceAfter != balance {
			t.Fatalf("movement %d balance_after = %v, want %v", m.ID, m.BalanceAfter, balance)
		}
	}
	if balance != history.Item.Quantity {
		t.Fatalf("replayed balance %v != current quantity %v", balance, history.Item.Quantity)
	}
	if history.TotalStockIn != 5 || history.TotalStockOut != 3 {
		t.Fatalf("rollups = in %v out %v, want in 5 out 3", history.TotalStockIn, history.TotalStockOut)
	}
}

func TestStockOutInsufficient(t *testing.T) {
	svc, store := newTestInventoryService()
	item := mustCreateStandardItem(t, svc, "Scarce", 2, 1)
	reason := "sale"

	_, err := svc.StockOut(testOwnerID, item.ID, StockRequest{Quantity: 3, Reason: &reason})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("got %v, want ErrInsufficientStock", err)
	}

	current, err := svc.GetItemWithHistory(testOwnerID, item.ID)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if current.Item.Quantity != 2 {
		t.Fatalf("quantity changed to %v after rejected stock-out", current.Item.Quantity)
	}
	if len(store.movements) != 0 {
		t.Fatalf("rejected stock-out recorded %d movements", len(store.movements))
	}
}

func TestStockOutRequiresReason(t *testing.T) {
	svc, _ := newTestInventoryService()
	item := mustCreateStandardItem(t, svc, "Thing", 5, 1)

	if _, err := svc.StockOut(testOwnerID, item.ID, StockRequest{Quantity: 1}); !errors.Is(err, ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
}

func TestMultiUnitStockChangesConvertToBase(t *testing.T) {
	svc, _ := newTestInventoryService()
	item := mustCreateBoxedItem(t, svc, "Soda", 2) // 24 pieces

	updated, err := svc.Restock(testOwnerID, item.ID, StockRequest{Quantity: 3, Unit: strPtr("box")})
	if err != nil {
		t.Fatalf("restock failed: %v", err)
	}
	if updated.Quantity != 60 {
		t.Fatalf("quantity = %v, want 60", updated.Quantity)
	}

	reason := "breakage"
	updated, err = svc.StockOut(testOwnerID, item.ID, StockRequest{Quantity: 6, Unit: strPtr("piece"), Reason: &reason})
	if err != nil {
		t.Fatalf("stock-out failed: %v", err)
	}
	if updated.Quantity != 54 {
		t.Fatalf("quantity = %v, want 54", updated.Quantity)
	}

	_, err = svc.Restock(testOwnerID, item.ID, StockRequest{Quantity: 1, Unit: strPtr("crate")})
	if !errors.Is(err, ErrUnknownSellingUnit) {
		t.Fatalf("got %v, want ErrUnknownSellingUnit", err)
	}
}

func TestAdjustToSameQuantityRecordsNothing(t *testing.T) {
	svc, store := newTestInventoryService()
	item := mustCreateStandardItem(t, svc, "Stable", 7, 1)

	updated, err := svc.Adjust(testOwnerID, item.ID, AdjustRequest{NewQuantity: 7, Reason: "count matched"})
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if updated.Quantity != 7 {
		t.Fatalf("quantity = %v, want 7", updated.Quantity)
	}
	if len(store.movements) != 0 {
		t.Fatalf("no-op adjustment recorded %d movements", len(store.movements))
	}
}

func TestConcurrentStockOutsNeverOversell(t *testing.T) {
	svc, _ := newTestInventoryService()
	item := mustCreateStandardItem(t, svc, "Contended", 50, 1)
	reason := "sale"

	const workers = 10
	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.StockOut(testOwnerID, item.ID, StockRequest{Quantity: 10, Reason: &reason})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientStock):
		default:
			t.Fatalf("worker %d unexpected error: %v", i, err)
		}
	}
	if succeeded != 5 {
		t.Fatalf("%d stock-outs succeeded, want 5", succeeded)
	}

	final, err := svc.GetItemWithHistory(testOwnerID, item.ID)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if final.Item.Quantity != 0 {
		t.Fatalf("final quantity = %v, want 0", final.Item.Quantity)
	}
}

func TestRestockWithIdempotencyKeyAppliesOnce(t *testing.T) {
	svc, store := newTestInventoryService()
	item := mustCreateStandardItem(t, svc, "Keyed", 10, 1)
	key := "restock-abc"

	first, err := svc.Restock(testOwnerID, item.ID, StockRequest{Quantity: 5, IdempotencyKey: &key})
	if err != nil {
		t.Fatalf("first restock failed: %v", err)
	}
	second, err := svc.Restock(testOwnerID, item.ID, StockRequest{Quantity: 5, IdempotencyKey: &key})
	if err != nil {
		t.Fatalf("second restock failed: %v", err)
	}

	if first.Quantity != 15 || second.Quantity != 15 {
		t.Fatalf("quantities = %v and %v, want both 15", first.Quantity, second.Quantity)
	}
	if len(store.movements) != 1 {
		t.Fatalf("movement count = %d, want 1", len(store.movements))
	}
}

func TestSoftDeletedItemRejectsStockChanges(t *testing.T) {
	svc, _ := newTestInventoryService()
	item := mustCreateStandardItem(t, svc, "Gone", 4, 1)

	if err := svc.SoftDeleteItem(testOwnerID, item.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := svc.SoftDeleteItem(testOwnerID, item.ID); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("second delete: got %v, want ErrItemNotFound", err)
	}
	if _, err := svc.Restock(testOwnerID, item.ID, StockRequest{Quantity: 1}); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("restock after delete: got %v, want ErrItemNotFound", err)
	}
}

func TestOwnerScopingHidesForeignItems(t *testing.T) {
	svc, _ := newTestInventoryService()
	item := mustCreateStandardItem(t, svc, "Private", 5, 1)

	const otherOwner int64 = 99
	if _, err := svc.GetItemWithHistory(otherOwner, item.ID); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("foreign read: got %v, want ErrItemNotFound", err)
	}
	if _, err := svc.Restock(otherOwner, item.ID, StockRequest{Quantity: 1}); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("foreign restock: got %v, want ErrItemNotFound", err)
	}
}

func TestInventoryStats(t *testing.T) {
	svc, _ := newTestInventoryService()

	electronics := "Electronics"
	if _, err := svc.CreateItem(testOwnerID, CreateItemRequest{
		Name: "Cable", Category: &electronics, CostPrice: 2, InitialQuantity: 100, LowStockThreshold: 10,
	}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.CreateItem(testOwnerID, CreateItemRequest{
		Name: "Adapter", Category: &electronics, CostPrice: 5, InitialQuantity: 0, LowStockThreshold: 3,
	}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.CreateItem(testOwnerID, CreateItemRequest{
		Name: "Notebook", CostPrice: 1, InitialQuantity: 4, LowStockThreshold: 5,
	}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stats, err := svc.GetStats(testOwnerID)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TotalItems != 3 {
		t.Fatalf("total items = %d, want 3", stats.TotalItems)
	}
	if stats.TotalValue != 204 {
		t.Fatalf("total value = %v, want 204", stats.TotalValue)
	}
	if stats.LowStockItems != 2 {
		t.Fatalf("low stock items = %d, want 2", stats.LowStockItems)
	}
	if stats.OutOfStock != 1 {
		t.Fatalf("out of stock = %d, want 1", stats.OutOfStock)
	}
	if len(stats.CategoryBreakdown) != 2 {
		t.Fatalf("category rows = %d, want 2", len(stats.CategoryBreakdown))
	}
}

func strPtr(s string) *string { return &s }

func float64Ptr(f float64) *float64 { return &f }

func int64Ptr(i int64) *int64 { return &i }
