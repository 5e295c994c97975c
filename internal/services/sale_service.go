package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"stockledger_backend/internal/models"
	"stockledger_backend/internal/repositories"
	"stockledger_backend/pkg/utils"

	"github.com/google/uuid"
)

var (
	ErrSaleNotFound       = errors.New("sale not found")
	ErrSaleAlreadyDeleted = errors.New("sale already deleted")
	ErrTotalMismatch      = errors.New("declared total does not match computed total")
)

// totalTolerance absorbs client-side float rounding when comparing the
// declared total against the computed one.
const totalTolerance = 0.01

const (
	saleReason             = "Sale"
	saleReversalReason     = "Sale reversal"
	saleCompensationReason = "Sale reversal (compensation)"
)

// SaleLineRequest is one requested sale line. ItemID nil means an ad hoc line
// that does not touch inventory; such lines must carry their own name and may
// carry a cost price for profit reporting. Quantity counts whole selling
// units and must be at least 1; fractional amounts belong to stock changes,
// not sale lines.
type SaleLineRequest struct {
	ItemID    *int64   `json:"item_id"`
	Name      string   `json:"name"`
	Quantity  float64  `json:"quantity" binding:"required,gte=1"`
	Unit      *string  `json:"unit"`
	UnitPrice float64  `json:"unit_price" binding:"gte=0"`
	CostPrice *float64 `json:"cost_price"`
}

// CreateSaleRequest is the payload for recording a sale. TotalAmount is the
// client's declared total and must match the computed sum of subtotals.
type CreateSaleRequest struct {
	Lines          []SaleLineRequest `json:"items" binding:"required,dive"`
	CustomerID     *int64            `json:"customer_id"`
	CustomerName   *string           `json:"customer_name"`
	TotalAmount    float64           `json:"total_amount"`
	PaymentMethod  *string           `json:"payment_method"`
	PaymentStatus  *string           `json:"payment_status"`
	AmountPaid     *float64          `json:"amount_paid"`
	IdempotencyKey *string           `json:"-"`
}

type SaleService interface {
	CreateSale(ownerID int64, req CreateSaleRequest) (*models.Sale, error)
	GetSaleByID(ownerID, saleID int64) (*models.Sale, error)
	GetSales(ownerID int64, filters models.SaleFilters) ([]models.Sale, int, error)
	DeleteSale(ownerID, saleID int64) error
	GetSalesStats(ownerID int64, period string) (*models.SalesStats, error)
}

type saleService struct {
	saleRepo         repositories.SaleRepository
	inventoryService InventoryService
	customerService  CustomerService
	guard            IdempotencyGuard
}

// NewSaleService creates a new instance of SaleService.
func NewSaleService(saleRepo repositories.SaleRepository, inventoryService InventoryService, customerService CustomerService, guard IdempotencyGuard) SaleService {
	return &saleService{
		saleRepo:         saleRepo,
		inventoryService: inventoryService,
		customerService:  customerService,
		guard:            guard,
	}
}

// CreateSale records a sale: it decrements stock line by line, persists the
// sale with per-line cost snapshots and updates the customer's aggregates.
// There is no cross-record transaction; if any decrement or the sale insert
// fails, already-decremented lines are compensated by restocking them.
func (s *saleService) CreateSale(ownerID int64, req CreateSaleRequest) (*models.Sale, error) {
	key := ""
	if req.IdempotencyKey != nil {
		key = *req.IdempotencyKey
	}

	payload, _, err := s.guard.Execute(ownerID, OpSaleCreate, key, func() (interface{}, error) {
		return s.createSaleOnce(ownerID, req)
	})
	if err != nil {
		return nil, err
	}

	var sale models.Sale
	if err := json.Unmarshal(payload, &sale); err != nil {
		return nil, fmt.Errorf("failed to decode sale result: %w", err)
	}
	return &sale, nil
}

func (s *saleService) createSaleOnce(ownerID int64, req CreateSaleRequest) (*models.Sale, error) {
	if len(req.Lines) == 0 {
		return nil, fmt.Errorf("%w: sale requires at least one line", ErrValidation)
	}

	totalAmount := 0.0
	for i, line := range req.Lines {
		if line.Quantity < 1 {
			return nil, fmt.Errorf("%w: line %d quantity must be at least 1", ErrValidation, i+1)
		}
		if line.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: line %d unit price cannot be negative", ErrValidation, i+1)
		}
		if line.ItemID == nil && strings.TrimSpace(line.Name) == "" {
			return nil, fmt.Errorf("%w: line %d requires a name", ErrValidation, i+1)
		}
		totalAmount += line.Quantity * line.UnitPrice
	}
	// Reject a bad declared total before any stock is touched.
	if math.Abs(totalAmount-req.TotalAmount) > totalTolerance {
		return nil, fmt.Errorf("%w: declared %.2f, computed %.2f", ErrTotalMismatch, req.TotalAmount, totalAmount)
	}

	paymentStatus, err := resolvePaymentStatus(req, totalAmount)
	if err != nil {
		return nil, err
	}

	// Resolve the customer before decrementing anything so a bad reference
	// fails cleanly.
	var customer *models.Customer
	if req.CustomerID != nil {
		customer, err = s.customerService.GetCustomerByID(ownerID, *req.CustomerID)
		if err != nil {
			return nil, err
		}
	}

	lines, decremented, err := s.decrementLines(ownerID, req.Lines)
	if err != nil {
		return nil, err
	}

	totalCost := 0.0
	for _, line := range lines {
		totalCost += line.Quantity * line.CostPrice
	}

	saleDate := time.Now()
	reference, err := s.nextReferenceNumber(ownerID, saleDate)
	if err != nil {
		s.compensate(ownerID, decremented)
		return nil, err
	}

	amountPaid := totalAmount
	if req.AmountPaid != nil {
		amountPaid = *req.AmountPaid
	}

	sale := &models.Sale{
		OwnerID:         ownerID,
		CustomerID:      req.CustomerID,
		CustomerName:    resolveCustomerName(req.CustomerName, customer),
		ReferenceNumber: reference,
		Lines:           lines,
		TotalAmount:     totalAmount,
		TotalCost:       totalCost,
		Profit:          totalAmount - totalCost,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   paymentStatus,
		AmountPaid:      amountPaid,
		Balance:         totalAmount - amountPaid,
		SaleDate:        saleDate,
	}

	if _, err := s.saleRepo.CreateSale(sale); err != nil {
		if errors.Is(err, repositories.ErrDuplicateKey) {
			// Reference collision after a counter window reset race. Retry
			// once with a unique suffix.
			sale.ReferenceNumber = fmt.Sprintf("%s-%s", reference, uuid.NewString()[:8])
			_, err = s.saleRepo.CreateSale(sale)
		}
		if err != nil {
			s.compensate(ownerID, decremented)
			return nil, fmt.Errorf("failed to create sale: %w", err)
		}
	}

	if req.CustomerID != nil {
		// Aggregates are best effort; the sale itself is already committed.
		if err := s.customerService.ApplySale(ownerID, *req.CustomerID, totalAmount, saleDate); err != nil {
			utils.LogWarn(err, "Failed to update customer aggregates after sale")
		}
	}

	return sale, nil
}

type decrementedLine struct {
	itemID   int64
	quantity float64
	unit     *string
}

// decrementLines walks the requested lines in order, decrementing stock for
// inventory-backed ones. On any failure it restocks what it already took and
// returns the original error.
func (s *saleService) decrementLines(ownerID int64, reqs []SaleLineRequest) ([]models.SaleLine, []decrementedLine, error) {
	lines := make([]models.SaleLine, 0, len(reqs))
	decremented := make([]decrementedLine, 0, len(reqs))

	for _, req := range reqs {
		if req.ItemID == nil {
			cost := 0.0
			if req.CostPrice != nil {
				cost = *req.CostPrice
			}
			lines = append(lines, models.SaleLine{
				Name:      strings.TrimSpace(req.Name),
				Quantity:  req.Quantity,
				UnitName:  req.Unit,
				UnitPrice: req.UnitPrice,
				CostPrice: cost,
				Subtotal:  req.Quantity * req.UnitPrice,
			})
			continue
		}

		reason := saleReason
		item, err := s.inventoryService.StockOut(ownerID, *req.ItemID, StockRequest{
			Quantity: req.Quantity,
			Unit:     req.Unit,
			Reason:   &reason,
		})
		if err != nil {
			s.compensate(ownerID, decremented)
			return nil, nil, err
		}
		decremented = append(decremented, decrementedLine{itemID: *req.ItemID, quantity: req.Quantity, unit: req.Unit})

		name := strings.TrimSpace(req.Name)
		if name == "" {
			name = item.Name
		}
		lines = append(lines, models.SaleLine{
			ItemID:    req.ItemID,
			Name:      name,
			Quantity:  req.Quantity,
			UnitName:  req.Unit,
			UnitPrice: req.UnitPrice,
			CostPrice: lineCostPrice(item, req.Unit),
			Subtotal:  req.Quantity * req.UnitPrice,
		})
	}
	return lines, decremented, nil
}

// compensate restocks decremented lines in reverse order. Failures are logged
// and skipped; each restock is independent, so one bad item must not strand
// the rest.
func (s *saleService) compensate(ownerID int64, decremented []decrementedLine) {
	for i := len(decremented) - 1; i >= 0; i-- {
		d := decremented[i]
		reason := saleCompensationReason
		_, err := s.inventoryService.Restock(ownerID, d.itemID, StockRequest{
			Quantity: d.quantity,
			Unit:     d.unit,
			Reason:   &reason,
		})
		if err != nil {
			utils.LogError(err, fmt.Sprintf("Failed to compensate stock for item ID %d", d.itemID))
		}
	}
}

// lineCostPrice snapshots the cost of one sold unit. For a multi-unit item
// sold in a named selling unit this is that unit's cost; otherwise the item's
// per-base-unit cost.
func lineCostPrice(item *models.InventoryItem, unit *string) float64 {
	if unit != nil && *unit != "" {
		if su := item.SellingUnitByName(*unit); su != nil {
			return su.CostPrice
		}
	}
	return item.CostPrice
}

func resolvePaymentStatus(req CreateSaleRequest, totalAmount float64) (string, error) {
	if req.PaymentStatus != nil {
		switch *req.PaymentStatus {
		case models.PaymentStatusPaid, models.PaymentStatusPending, models.PaymentStatusPartial:
			return *req.PaymentStatus, nil
		default:
			return "", fmt.Errorf("%w: unknown payment status %q", ErrValidation, *req.PaymentStatus)
		}
	}

	amountPaid := totalAmount
	if req.AmountPaid != nil {
		amountPaid = *req.AmountPaid
	}
	switch {
	case amountPaid >= totalAmount:
		return models.PaymentStatusPaid, nil
	case amountPaid <= 0:
		return models.PaymentStatusPending, nil
	default:
		return models.PaymentStatusPartial, nil
	}
}

func resolveCustomerName(requested *string, customer *models.Customer) string {
	if requested != nil && strings.TrimSpace(*requested) != "" {
		return strings.TrimSpace(*requested)
	}
	if customer != nil {
		return customer.FullName
	}
	return models.DefaultCustomerName
}

// nextReferenceNumber builds a per-owner daily reference like S-20260829-0042.
func (s *saleService) nextReferenceNumber(ownerID int64, at time.Time) (string, error) {
	windowStart := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
	seq, err := s.saleRepo.NextReferenceSeq(ownerID, windowStart)
	if err != nil {
		return "", fmt.Errorf("failed to allocate sale reference number: %w", err)
	}
	return fmt.Sprintf("S-%s-%04d", at.Format("20060102"), seq), nil
}

func (s *saleService) GetSaleByID(ownerID, saleID int64) (*models.Sale, error) {
	sale, err := s.saleRepo.GetSaleByID(ownerID, saleID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrSaleNotFound
		}
		return nil, fmt.Errorf("failed to get sale: %w", err)
	}
	return sale, nil
}

func (s *saleService) GetSales(ownerID int64, filters models.SaleFilters) ([]models.Sale, int, error) {
	sales, total, err := s.saleRepo.GetSales(ownerID, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get sales: %w", err)
	}
	return sales, total, nil
}

// DeleteSale soft-deletes a sale and returns its inventory-backed lines to
// stock. The soft delete is the commit point: once it lands, restocks and the
// aggregate reversal proceed best effort and a crash can be re-driven safely
// because a second delete reports AlreadyDeleted and credits nothing.
func (s *saleService) DeleteSale(ownerID, saleID int64) error {
	sale, err := s.saleRepo.GetSaleByID(ownerID, saleID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrSaleNotFound
		}
		return fmt.Errorf("failed to get sale: %w", err)
	}

	if err := s.saleRepo.SoftDeleteSale(ownerID, saleID); err != nil {
		switch {
		case errors.Is(err, repositories.ErrAlreadyDeleted):
			return ErrSaleAlreadyDeleted
		case errors.Is(err, repositories.ErrNotFound):
			return ErrSaleNotFound
		default:
			return fmt.Errorf("failed to delete sale: %w", err)
		}
	}

	for _, line := range sale.Lines {
		if line.ItemID == nil {
			continue
		}
		reason := saleReversalReason
		_, err := s.inventoryService.Restock(ownerID, *line.ItemID, StockRequest{
			Quantity: line.Quantity,
			Unit:     line.UnitName,
			Reason:   &reason,
		})
		if err != nil {
			// The item may have been deleted since the sale; log and move on.
			utils.LogError(err, fmt.Sprintf("Failed to return stock for item ID %d after sale delete", *line.ItemID))
		}
	}

	if sale.CustomerID != nil {
		if err := s.customerService.ReverseSale(ownerID, *sale.CustomerID, sale.TotalAmount); err != nil {
			utils.LogWarn(err, "Failed to reverse customer aggregates after sale delete")
		}
	}
	return nil
}

// GetSalesStats aggregates sales over a relative window. "today" means the
// current calendar day; week, month and year are rolling windows ending now.
func (s *saleService) GetSalesStats(ownerID int64, period string) (*models.SalesStats, error) {
	now := time.Now()
	var from time.Time
	switch period {
	case "today":
		from = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	case "week":
		from = now.AddDate(0, 0, -7)
	case "month":
		from = now.AddDate(0, -1, 0)
	case "year":
		from = now.AddDate(-1, 0, 0)
	default:
		return nil, fmt.Errorf("%w: unknown stats period %q", ErrValidation, period)
	}

	stats, err := s.saleRepo.GetSalesStats(ownerID, from, now.Add(time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to get sales stats: %w", err)
	}
	stats.Period = period
	return stats, nil
}
