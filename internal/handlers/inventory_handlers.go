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

// IdempotencyKeyHeader carries the client-chosen deduplication key for
// mutating inventory and sale requests.
const IdempotencyKeyHeader = "Idempotency-Key"

// InventoryHandler holds the inventory service.
type InventoryHandler struct {
	inventoryService services.InventoryService
}

// NewInventoryHandler creates a new InventoryHandler.
func NewInventoryHandler(is services.InventoryService) *InventoryHandler {
	return &InventoryHandler{inventoryService: is}
}

// ownerIDFromContext reads the authenticated owner set by the auth middleware.
func ownerIDFromContext(c *gin.Context) (int64, bool) {
	value, exists := c.Get("ownerID")
	if !exists {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Authentication required.", "Missing owner identity"))
		return 0, false
	}
	ownerID, ok := value.(int64)
	if !ok || ownerID == 0 {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Authentication required.", "Invalid owner identity"))
		return 0, false
	}
	return ownerID, true
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := utils.StrToInt64(c.Param(name))
	if err != nil || id <= 0 {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid ID format.", c.Param(name)))
		return 0, false
	}
	return id, true
}

func idempotencyKeyFromHeader(c *gin.Context) (*string, bool) {
	key := c.GetHeader(IdempotencyKeyHeader)
	if key == "" {
		return nil, true
	}
	if len(key) > services.MaxIdempotencyKeyLength {
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Idempotency key is too long.", IdempotencyKeyHeader))
		return nil, false
	}
	return &key, true
}

// CreateItem handles the creation of a new inventory item.
func (h *InventoryHandler) CreateItem(c *gin.Context) {
	ownerID, ok := ownerIDFromContext(c)
	if !ok {
		return
	}

	var req services.CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.LogError(err, "CreateItem: Failed to bind JSON")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid request payload: "+err.Error(), err.Error()))
		return
	}

	item, err := h.inventoryService.CreateItem(ownerID, req)
	if err != nil {
		utils.LogError(err, "CreateItem: Error from inventoryService.CreateItem")
		if errors.Is(err, services.ErrDuplicateSKU) {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusConflict, utils.ErrCodeDuplicateSKU, "An item with this SKU already exists.", err.Error()))
		} else if errors.Is(err, services.ErrValidation) {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Validation failed: "+err.Error(), err.Error()))
		} else {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to create inventory item.", "Internal error"))
		}
		return
	}
	c.JSON(http.StatusCreated, item)
}

// GetItems handles listing inventory items with filters and pagination.
func (h *InventoryHandler) GetItems(c *gin.Context) {
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

	filters := models.ItemFilters{
		Category: utils.NewNullString(c.Query("category")),
		LowStock: c.Query("low_stock") == "true",
		Search:   utils.NewNullString(c.Query("search")),
		Page:     page,
		PageSize: pageSize,
	}

	items, totalCount, err := h.inventoryService.GetItems(ownerID, filters)
	if err != nil {
		utils.LogError(err, "GetItems: Error from inventoryService.GetItems")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to fetch inventory items.", "Internal error"))
		return
	}
	if items == nil {
		items = []models.InventoryItem{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      items,
		"total":     totalCount,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetItemByID handles fetching one item together with its movement history.
func (h *InventoryHandler) GetItemByID(c *gin.Context) {
	ownerID, ok := ownerIDFromContext(c)
	if !ok {
		return
	}
	itemID, ok := idParam(c, "id")
	if !ok {
		return
	}

	history, err := h.inventoryService.GetItemWithHistory(ownerID, itemID)
	if err != nil {
		utils.LogError(err, "GetItemByID: Error from inventoryService.GetItemWithHistory")
		if errors.Is(err, services.ErrItemNotFound) {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusNotFound, utils.ErrCodeNotFound, "Inventory item not found.", err.Error()))
		} else {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to fetch inventory item.", "Internal error"))
		}
		return
	}
	c.JSON(http.StatusOK, history)
}

// Restock handles adding stock to an item.
func (h *InventoryHandler) Restock(c *gin.Context) {
	h.handleStockChange(c, "Restock", h.inventoryService.Restock)
}

// StockOut handles removing stock from an item.
func (h *InventoryHandler) StockOut(c *gin.Context) {
	h.handleStockChange(c, "StockOut", h.inventoryService.StockOut)
}

func (h *InventoryHandler) handleStockChange(c *gin.Context, op string, apply func(ownerID, itemID int64, req services.StockRequest) (*models.InventoryItem, error)) {
	ownerID, ok := ownerIDFromContext(c)
	if !ok {
		return
	}
	itemID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req services.StockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.LogError(err, op+": Failed to bind JSON")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid request payload: "+err.Error(), err.Error()))
		return
	}
	key, ok := idempotencyKeyFromHeader(c)
	if !ok {
		return
	}
	req.IdempotencyKey = key

	item, err := apply(ownerID, itemID, req)
	if err != nil {
		utils.LogError(err, op+": Error from inventory service")
		respondStockChangeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func respondStockChangeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrItemNotFound):
		utils.RespondWithError(c, utils.NewAPIError(http.StatusNotFound, utils.ErrCodeNotFound, "Inventory item not found.", err.Error()))
	case errors.Is(err, services.ErrInsufficientStock):
		utils.RespondWithError(c, utils.NewAPIError(http.StatusConflict, utils.ErrCodeInsufficientStock, "Not enough stock for the requested quantity.", err.Error()))
	case errors.Is(err, services.ErrUnknownSellingUnit), errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrInvalidIdempotencyKey):
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Validation failed: "+err.Error(), err.Error()))
	case errors.Is(err, services.ErrIdempotencyTimeout):
		utils.RespondWithError(c, utils.NewAPIError(http.StatusGatewayTimeout, utils.ErrCodeTimeout, "A duplicate request is still in flight. Retry with the same key.", err.Error()))
	default:
		utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to apply stock change.", "Internal error"))
	}
}

// Adjust handles setting an item's quantity after a physical count.
func (h *InventoryHandler) Adjust(c *gin.Context) {
	ownerID, ok := ownerIDFromContext(c)
	if !ok {
		return
	}
	itemID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req services.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.LogError(err, "Adjust: Failed to bind JSON")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusBadRequest, utils.ErrCodeValidationFailed, "Invalid request payload: "+err.Error(), err.Error()))
		return
	}

	item, err := h.inventoryService.Adjust(ownerID, itemID, req)
	if err != nil {
		utils.LogError(err, "Adjust: Error from inventoryService.Adjust")
		respondStockChangeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// DeleteItem handles soft-deleting an inventory item.
func (h *InventoryHandler) DeleteItem(c *gin.Context) {
	ownerID, ok := ownerIDFromContext(c)
	if !ok {
		return
	}
	itemID, ok := idParam(c, "id")
	if !ok {
		return
	}

	if err := h.inventoryService.SoftDeleteItem(ownerID, itemID); err != nil {
		utils.LogError(err, "DeleteItem: Error from inventoryService.SoftDeleteItem")
		if errors.Is(err, services.ErrItemNotFound) {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusNotFound, utils.ErrCodeNotFound, "Inventory item not found.", err.Error()))
		} else {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to delete inventory item.", "Internal error"))
		}
		return
	}
	c.Status(http.StatusNoContent)
}

// GetStats handles the inventory overview aggregates.
func (h *InventoryHandler) GetStats(c *gin.Context) {
	ownerID, ok := ownerIDFromContext(c)
	if !ok {
		return
	}

	stats, err := h.inventoryService.GetStats(ownerID)
	if err != nil {
		utils.LogError(err, "GetStats: Error from inventoryService.GetStats")
		utils.RespondWithError(c, utils.NewAPIError(http.StatusInternalServerError, utils.ErrCodeInternalServerError, "Failed to fetch inventory stats.", "Internal error"))
		return
	}
	c.JSON(http.StatusOK, stats)
}
