package services

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"stockledger_backend/internal/models"
	"stockledger_backend/internal/repositories"
)

// fakeInventoryStore is an in-memory stand-in for the inventory and stock
// movement repositories. Mutations hold the lock for the whole check-and-write,
// mirroring the conditional UPDATE the real store runs.
type fakeInventoryStore struct {
	mu        sync.Mutex
	nextID    int64
	items     map[int64]*models.InventoryItem
	movements []models.StockMovement
}

func newFakeInventoryStore() *fakeInventoryStore {
	return &fakeInventoryStore{items: map[int64]*models.InventoryItem{}}
}

func (f *fakeInventoryStore) CreateItem(item *models.InventoryItem) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if item.SKU != nil {
		for _, existing := range f.items {
			if existing.OwnerID == item.OwnerID && !existing.IsDeleted &&
				existing.SKU != nil && *existing.SKU == *item.SKU {
				return 0, fmt.Errorf("%w: duplicate sku", repositories.ErrDuplicateKey)
			}
		}
	}

	f.nextID++
	stored := *item
	stored.ID = f.nextID
	for i := range stored.SellingUnits {
		f.nextID++
		stored.SellingUnits[i].ID = f.nextID
		stored.SellingUnits[i].ItemID = stored.ID
	}
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	f.items[stored.ID] = &stored
	return stored.ID, nil
}

func (f *fakeInventoryStore) GetItemByID(ownerID, itemID int64) (*models.InventoryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getLocked(ownerID, itemID)
}

func (f *fakeInventoryStore) getLocked(ownerID, itemID int64) (*models.InventoryItem, error) {
	item, ok := f.items[itemID]
	if !ok || item.OwnerID != ownerID {
		return nil, repositories.ErrNotFound
	}
	copied := *item
	copied.SellingUnits = append([]models.SellingUnit(nil), item.SellingUnits...)
	copied.Derive()
	return &copied, nil
}

func (f *fakeInventoryStore) GetItems(ownerID int64, filters models.ItemFilters) ([]models.InventoryItem, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := []models.InventoryItem{}
	for _, item := range f.items {
		if item.OwnerID != ownerID || item.IsDeleted {
			continue
		}
		if filters.Category != nil && (item.Category == nil || *item.Category != *filters.Category) {
			continue
		}
		if filters.LowStock && item.Quantity > item.LowStockThreshold {
			continue
		}
		if filters.Search != nil && !strings.Contains(strings.ToLower(item.Name), strings.ToLower(*filters.Search)) {
			continue
		}
		copied := *item
		copied.Derive()
		result = append(result, copied)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, len(result), nil
}

func (f *fakeInventoryStore) ApplyStockIn(ownerID, itemID int64, quantity float64, reason, idempotencyKey *string) (*models.InventoryItem, *models.StockMovement, error) {
	return f.applyDelta(ownerID, itemID, models.MovementTypeIn, quantity, quantity, reason, idempotencyKey)
}

func (f *fakeInventoryStore) ApplyStockOut(ownerID, itemID int64, quantity float64, reason, idempotencyKey *string) (*models.InventoryItem, *models.StockMovement, error) {
	return f.applyDelta(ownerID, itemID, models.MovementTypeOut, quantity, -quantity, reason, idempotencyKey)
}

func (f *fakeInventoryStore) applyDelta(ownerID, itemID int64, movementType string, magnitude, delta float64, reason, idempotencyKey *string) (*models.InventoryItem, *models.StockMovement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	item, ok := f.items[itemID]
	if !ok || item.OwnerID != ownerID || item.IsDeleted {
		return nil, nil, repositories.ErrNotFound
	}
	if delta < 0 && item.Quantity < magnitude {
		return nil, nil, repositories.ErrInsufficientStock
	}

	item.Quantity += delta
	item.UpdatedAt = time.Now()

	f.nextID++
	movement := models.StockMovement{
		ID:             f.nextID,
		ItemID:         itemID,
		MovementType:   movementType,
		Quantity:       magnitude,
		SignedDelta:    delta,
		Reason:         reason,
		BalanceAfter:   item.Quantity,
		ValueAfter:     item.Quantity * item.CostPrice,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      time.Now(),
	}
	f.movements = append(f.movements, movement)

	result, err := f.getLocked(ownerID, itemID)
	if err != nil {
		return nil, nil, err
	}
	return result, &movement, nil
}

func (f *fakeInventoryStore) ApplyAdjustment(ownerID, itemID int64, newQuantity float64, reason *string) (*models.InventoryItem, *models.StockMovement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	item, ok := f.items[itemID]
	if !ok || item.OwnerID != ownerID || item.IsDeleted {
		return nil, nil, repositories.ErrNotFound
	}

	var movement *models.StockMovement
	if newQuantity != item.Quantity {
		delta := newQuantity - item.Quantity
		magnitude := delta
		if magnitude < 0 {
			magnitude = -magnitude
		}
		item.Quantity = newQuantity
		item.UpdatedAt = time.Now()

		f.nextID++
		movement = &models.StockMovement{
			ID:           f.nextID,
			ItemID:       itemID,
			MovementType: models.MovementTypeAdjustment,
			Quantity:     magnitude,
			SignedDelta:  delta,
			Reason:       reason,
			BalanceAfter: item.Quantity,
			ValueAfter:   item.Quantity * item.CostPrice,
			CreatedAt:    time.Now(),
		}
		f.movements = append(f.movements, *movement)
	}

	result, err := f.getLocked(ownerID, itemID)
	if err != nil {
		return nil, nil, err
	}
	return result, movement, nil
}

func (f *fakeInventoryStore) SoftDeleteItem(ownerID, itemID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	item, ok := f.items[itemID]
	if !ok || item.OwnerID != ownerID || item.IsDeleted {
		return repositories.ErrNotFound
	}
	item.IsDeleted = true
	return nil
}

func (f *fakeInventoryStore) GetStats(ownerID int64) (*models.InventoryStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stats := &models.InventoryStats{CategoryBreakdown: []models.CategoryBreakdown{}}
	byCategory := map[string]*models.CategoryBreakdown{}
	for _, item := range f.items {
		if item.OwnerID != ownerID || item.IsDeleted {
			continue
		}
		stats.TotalItems++
		stats.TotalValue += item.Quantity * item.CostPrice
		if item.Quantity <= item.LowStockThreshold {
			stats.LowStockItems++
		}
		if item.Quantity == 0 {
			stats.OutOfStock++
		}
		category := "Uncategorized"
		if item.Category != nil {
			category = *item.Category
		}
		cb, ok := byCategory[category]
		if !ok {
			cb = &models.CategoryBreakdown{Category: category}
			byCategory[category] = cb
		}
		cb.Items++
		cb.Value += item.Quantity * item.CostPrice
	}
	for _, cb := range byCategory {
		stats.CategoryBreakdown = append(stats.CategoryBreakdown, *cb)
	}
	sort.Slice(stats.CategoryBreakdown, func(i, j int) bool {
		return stats.CategoryBreakdown[i].Category < stats.CategoryBreakdown[j].Category
	})
	return stats, nil
}

func (f *fakeInventoryStore) GetMovementsByItem(itemID int64) ([]models.StockMovement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := []models.StockMovement{}
	for i := len(f.movements) - 1; i >= 0; i-- {
		if f.movements[i].ItemID == itemID {
			result = append(result, f.movements[i])
		}
	}
	return result, nil
}

func (f *fakeInventoryStore) GetRollups(itemID int64) (totalIn, totalOut float64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, m := range f.movements {
		if m.ItemID != itemID {
			continue
		}
		switch m.MovementType {
		case models.MovementTypeIn:
			totalIn += m.Quantity
		case models.MovementTypeOut:
			totalOut += m.Quantity
		}
	}
	return totalIn, totalOut, nil
}

type fakeCustomerRepo struct {
	mu        sync.Mutex
	nextID    int64
	customers map[int64]*models.Customer
}

func newFakeCustomerRepo() *fakeCustomerRepo {
	return &fakeCustomerRepo{customers: map[int64]*models.Customer{}}
}

func (f *fakeCustomerRepo) CreateCustomer(customer *models.Customer) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	stored := *customer
	stored.ID = f.nextID
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	f.customers[stored.ID] = &stored
	return stored.ID, nil
}

func (f *fakeCustomerRepo) GetCustomerByID(ownerID, customerID int64) (*models.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	customer, ok := f.customers[customerID]
	if !ok || customer.OwnerID != ownerID {
		return nil, repositories.ErrNotFound
	}
	copied := *customer
	return &copied, nil
}

func (f *fakeCustomerRepo) GetCustomers(ownerID int64, page, pageSize int, searchTerm *string) ([]models.Customer, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := []models.Customer{}
	for _, customer := range f.customers {
		if customer.OwnerID != ownerID {
			continue
		}
		if searchTerm != nil && !strings.Contains(strings.ToLower(customer.FullName), strings.ToLower(*searchTerm)) {
			continue
		}
		result = append(result, *customer)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].FullName < result[j].FullName })
	return result, len(result), nil
}

func (f *fakeCustomerRepo) ApplySaleAggregate(ownerID, customerID int64, amount float64, purchasedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	customer, ok := f.customers[customerID]
	if !ok || customer.OwnerID != ownerID {
		return repositories.ErrNotFound
	}
	customer.TotalPurchases++
	customer.TotalSpent += amount
	customer.LastPurchaseDate = &purchasedAt
	return nil
}

func (f *fakeCustomerRepo) ReverseSaleAggregate(ownerID, customerID int64, amount float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	customer, ok := f.customers[customerID]
	if !ok || customer.OwnerID != ownerID {
		return repositories.ErrNotFound
	}
	if customer.TotalPurchases > 0 {
		customer.TotalPurchases--
	}
	customer.TotalSpent -= amount
	if customer.TotalSpent < 0 {
		customer.TotalSpent = 0
	}
	return nil
}

type fakeCounter struct {
	count   int
	resetAt time.Time
}

type fakeSaleRepo struct {
	mu       sync.Mutex
	nextID   int64
	sales    map[int64]*models.Sale
	counters map[int64]*fakeCounter
}

func newFakeSaleRepo() *fakeSaleRepo {
	return &fakeSaleRepo{sales: map[int64]*models.Sale{}, counters: map[int64]*fakeCounter{}}
}

func (f *fakeSaleRepo) CreateSale(sale *models.Sale) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.sales {
		if existing.OwnerID == sale.OwnerID && existing.ReferenceNumber == sale.ReferenceNumber {
			return 0, fmt.Errorf("%w: duplicate reference number", repositories.ErrDuplicateKey)
		}
	}

	f.nextID++
	sale.ID = f.nextID
	now := time.Now()
	sale.CreatedAt = now
	sale.UpdatedAt = now
	for i := range sale.Lines {
		f.nextID++
		sale.Lines[i].ID = f.nextID
		sale.Lines[i].SaleID = sale.ID
	}

	stored := *sale
	stored.Lines = append([]models.SaleLine(nil), sale.Lines...)
	f.sales[stored.ID] = &stored
	return stored.ID, nil
}

func (f *fakeSaleRepo) GetSaleByID(ownerID, saleID int64) (*models.Sale, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sale, ok := f.sales[saleID]
	if !ok || sale.OwnerID != ownerID {
		return nil, repositories.ErrNotFound
	}
	copied := *sale
	copied.Lines = append([]models.SaleLine(nil), sale.Lines...)
	return &copied, nil
}

func (f *fakeSaleRepo) GetSales(ownerID int64, filters models.SaleFilters) ([]models.Sale, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := []models.Sale{}
	for _, sale := range f.sales {
		if sale.OwnerID != ownerID || sale.IsDeleted {
			continue
		}
		if filters.CustomerID != nil && (sale.CustomerID == nil || *sale.CustomerID != *filters.CustomerID) {
			continue
		}
		if filters.PaymentStatus != nil && sale.PaymentStatus != *filters.PaymentStatus {
			continue
		}
		copied := *sale
		copied.Lines = append([]models.SaleLine(nil), sale.Lines...)
		result = append(result, copied)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result, len(result), nil
}

func (f *fakeSaleRepo) SoftDeleteSale(ownerID, saleID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	sale, ok := f.sales[saleID]
	if !ok || sale.OwnerID != ownerID {
		return repositories.ErrNotFound
	}
	if sale.IsDeleted {
		return repositories.ErrAlreadyDeleted
	}
	sale.IsDeleted = true
	return nil
}

func (f *fakeSaleRepo) GetSalesStats(ownerID int64, from, to time.Time) (*models.SalesStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stats := &models.SalesStats{}
	for _, sale := range f.sales {
		if sale.OwnerID != ownerID || sale.IsDeleted {
			continue
		}
		if sale.SaleDate.Before(from) || !sale.SaleDate.Before(to) {
			continue
		}
		stats.SalesCount++
		stats.TotalRevenue += sale.TotalAmount
		stats.TotalCost += sale.TotalCost
		stats.TotalProfit += sale.Profit
	}
	return stats, nil
}

func (f *fakeSaleRepo) NextReferenceSeq(ownerID int64, windowStart time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	counter, ok := f.counters[ownerID]
	if !ok {
		counter = &fakeCounter{}
		f.counters[ownerID] = counter
	}
	if counter.resetAt.Before(windowStart) {
		counter.count = 0
		counter.resetAt = windowStart
	}
	counter.count++
	return counter.count, nil
}

type fakeIdempotencyRepo struct {
	mu      sync.Mutex
	nextID  int64
	records map[string]*models.IdempotencyRecord
}

func newFakeIdempotencyRepo() *fakeIdempotencyRepo {
	return &fakeIdempotencyRepo{records: map[string]*models.IdempotencyRecord{}}
}

func recordKey(ownerID int64, operationType, key string) string {
	return fmt.Sprintf("%d|%s|%s", ownerID, operationType, key)
}

func (f *fakeIdempotencyRepo) Claim(ownerID int64, operationType, key string) (*models.IdempotencyRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := recordKey(ownerID, operationType, key)
	if existing, ok := f.records[k]; ok {
		copied := *existing
		return &copied, false, nil
	}

	f.nextID++
	now := time.Now()
	record := &models.IdempotencyRecord{
		ID:            f.nextID,
		OwnerID:       ownerID,
		OperationType: operationType,
		Key:           key,
		Status:        models.IdempotencyStatusStarted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	f.records[k] = record
	copied := *record
	return &copied, true, nil
}

func (f *fakeIdempotencyRepo) Get(ownerID int64, operationType, key string) (*models.IdempotencyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	record, ok := f.records[recordKey(ownerID, operationType, key)]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (f *fakeIdempotencyRepo) Reclaim(recordID int64, fromStatus models.IdempotencyStatus, lastUpdatedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, record := range f.records {
		if record.ID != recordID {
			continue
		}
		if record.Status != fromStatus || !record.UpdatedAt.Equal(lastUpdatedAt) {
			return false, nil
		}
		record.Status = models.IdempotencyStatusStarted
		record.ResponseBody = nil
		record.LastError = nil
		record.UpdatedAt = time.Now()
		return true, nil
	}
	return false, repositories.ErrNotFound
}

func (f *fakeIdempotencyRepo) MarkSucceeded(recordID int64, responseBody []byte) error {
	return f.update(recordID, func(record *models.IdempotencyRecord) {
		record.Status = models.IdempotencyStatusSucceeded
		record.ResponseBody = responseBody
	})
}

func (f *fakeIdempotencyRepo) MarkFailed(recordID int64, cause string) error {
	return f.update(recordID, func(record *models.IdempotencyRecord) {
		record.Status = models.IdempotencyStatusFailed
		record.LastError = &cause
	})
}

func (f *fakeIdempotencyRepo) update(recordID int64, apply func(*models.IdempotencyRecord)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, record := range f.records {
		if record.ID == recordID {
			apply(record)
			record.UpdatedAt = time.Now()
			return nil
		}
	}
	return repositories.ErrNotFound
}

func (f *fakeIdempotencyRepo) DeleteExpired(before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var deleted int64
	for k, record := range f.records {
		if record.CreatedAt.Before(before) {
			delete(f.records, k)
			deleted++
		}
	}
	return deleted, nil
}
