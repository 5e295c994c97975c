package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"stockledger_backend/internal/models"
	"stockledger_backend/internal/services"
	"stockledger_backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// SaleHandler holds the sale service.
type SaleHandler struct {
	saleService services.SaleService
}

// NewSaleHandler creates a new SaleHandler.
func NewSaleHandler(ss services.SaleService) *SaleHandler {
	return &SaleHandler{saleService: ss}
}

// CreateSale handles recording a new sale.
func (h *SaleHandler) CreateSale(c *gin.Context) {
	ownerID, ok := ownerIDFromContext(c)
	if !ok {
		return
	}

	var req services.CreateSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.LogError(err, "CreateSale: Failed to bind JSON")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid request payload: "+err.Error(), err.Error()))
		return
	}
	key, ok := idempotencyKeyFromHeader(c)
	if !ok {
		return
	}
	req.IdempotencyKey = key

	sale, err := h.saleService.CreateSale(ownerID, req)
	if err != nil {
		utils.LogError(err, "CreateSale: Error from saleService.CreateSale")
		switch {
		case errors.Is(err, services.ErrTotalMismatch):
			utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeTotalMismatch, "Declared total does not match the sum of line subtotals.", err.Error()))
		case errors.Is(err, services.ErrInsufficientStock):
			utils.RespondWithError(c, utils.NewAPIError(http.StatusConflict, utils.ErrCodeInsufficientStock, "Not enough stock for one of the sale lines.", err.Error()))
		case errors.Is(err, services.ErrItemNotFound):
			utils.RespondWithError(c, utils.NewAPIError(http.StatusNotFound, utils.ErrCodeNotFound, "An inventory item referenced by the sale was not found.", err.Error()))
		case errors.Is(err, services.ErrCustomerNotFound):
			utils.RespondWithError(c, utils.NewAPIError(http.StatusNotFound, utils.ErrCodeNotFound, "Customer not found.", err.Error()))
		case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrUnknownSellingUnit), errors.Is(err, services.ErrInvalidIdempotencyKey):
			utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Validation failed: "+err.Error(), err.Error()))
		case errors.Is(err, services.ErrIdempotencyTimeout):
			utils.RespondWithError(c, utils.NewAPIError(http.StatusGatewayTimeout, utils.ErrCodeTimeout, "A duplicate request is still in flight. Retry with the same key.", err.Error()))
		default:
			utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to create sale.", "Internal error"))
		}
		return
	}
	c.JSON(http.StatusCreated, sale)
}

// GetSales handles listing sales with filters and pagination.
func (h *SaleHandler) GetSales(c *gin.Context) {
	ownerID, ok := ownerIDFromContext(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	filters := models.SaleFilters{
		PaymentStatus: utils.NewNullString(c.Query("payment_status")),
		Date:          utils.NewNullString(c.Query("date")),
		Page:          page,
		PageSize:      pageSize,
	}
	if customerIDStr := c.Query("customer_id"); customerIDStr != "" {
		customerID, err := utils.StrToInt64(customerIDStr)
		if err != nil {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid customer_id format.", customerIDStr))
			return
		}
		filters.CustomerID = &customerID
	}

	sales, totalCount, err := h.saleService.GetSales(ownerID, filters)
	if err != nil {
		utils.LogError(err, "GetSales: Error from saleService.GetSales")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to fetch sales.", "Internal error"))
		return
	}
	if sales == nil {
		sales = []models.Sale{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      sales,
		"total":     totalCount,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetSaleByID handles fetching a single sale with its lines.
func (h *SaleHandler) GetSaleByID(c *gin.Context) {
	ownerID, ok := ownerIDFromContext(c)
	if !ok {
		return
	}
	saleID, ok := idParam(c, "id")
	if !ok {
		return
	}

	sale, err := h.saleService.GetSaleByID(ownerID, saleID)
	if err != nil {
		utils.LogError(err, "GetSaleByID: Error from saleService.GetSaleByID")
		if errors.Is(err, services.ErrSaleNotFound) {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusNotFound, utils.ErrCodeNotFound, "Sale not found.", err.Error()))
		} else {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to fetch sale.", "Internal error"))
		}
		return
	}
	c.JSON(http.StatusOK, sale)
}

// DeleteSale handles soft-deleting a sale and returning its stock.
func (h *SaleHandler) DeleteSale(c *gin.Context) {
	ownerID, ok := ownerIDFromContext(c)
	if !ok {
		return
	}
	saleID, ok := idParam(c, "id")
	if !ok {
		return
	}

	if err := h.saleService.DeleteSale(ownerID, saleID); err != nil {
		utils.LogError(err, "DeleteSale: Error from saleService.DeleteSale")
		switch {
		case errors.Is(err, services.ErrSaleNotFound):
			utils.RespondWithError(c, utils.NewAPIError(http.StatusNotFound, utils.ErrCodeNotFound, "Sale not found.", err.Error()))
		case errors.Is(err, services.ErrSaleAlreadyDeleted):
			utils.RespondWithError(c, utils.NewAPIError(http.StatusConflict, utils.ErrCodeAlreadyDeleted, "Sale is already deleted.", err.Error()))
		default:
			utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to delete sale.", "Internal error"))
		}
		return
	}
	c.Status(http.StatusNoContent)
}

// GetSalesStats handles sales aggregates over a relative period.
func (h *SaleHandler) GetSalesStats(c *gin.Context) {
	ownerID, ok := ownerIDFromContext(c)
	if !ok {
		return
	}

	period := c.DefaultQuery("period", "today")
	stats, err := h.saleService.GetSalesStats(ownerID, period)
	if err != nil {
		utils.LogError(err, "GetSalesStats: Error from saleService.GetSalesStats")
		if errors.Is(err, services.ErrValidation) {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Validation failed: "+err.Error(), err.Error()))
		} else {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to fetch sales stats.", "Internal error"))
		}
		return
	}
	c.JSON(http.StatusOK, stats)
}
