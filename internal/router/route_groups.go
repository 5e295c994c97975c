package router

import (
	"stockledger_backend/internal/handlers"

	"github.com/gin-gonic/gin"
)

// SetupInventoryRoutes configures routes for inventory items and stock changes.
func SetupInventoryRoutes(authenticatedGroup *gin.RouterGroup, inventoryHandler *handlers.InventoryHandler) {
	items := authenticatedGroup.Group("/items")
	{
		items.POST("", inventoryHandler.CreateItem)
		items.GET("", inventoryHandler.GetItems)
		items.GET("/stats", inventoryHandler.GetStats)
		items.GET("/:id", inventoryHandler.GetItemByID)
		items.DELETE("/:id", inventoryHandler.DeleteItem)
		items.POST("/:id/restock", inventoryHandler.Restock)
		items.POST("/:id/stock-out", inventoryHandler.StockOut)
		items.POST("/:id/adjust", inventoryHandler.Adjust)
	}
}

// SetupSaleRoutes configures routes for sales.
func SetupSaleRoutes(authenticatedGroup *gin.RouterGroup, saleHandler *handlers.SaleHandler) {
	sales := authenticatedGroup.Group("/sales")
	{
		sales.POST("", saleHandler.CreateSale)
		sales.GET("", saleHandler.GetSales)
		sales.GET("/stats", saleHandler.GetSalesStats)
		sales.GET("/:id", saleHandler.GetSaleByID)
		sales.DELETE("/:id", saleHandler.DeleteSale)
	}
}

// SetupCustomerRoutes configures routes for customers.
func SetupCustomerRoutes(authenticatedGroup *gin.RouterGroup, customerHandler *handlers.CustomerHandler) {
	customers := authenticatedGroup.Group("/customers")
	{
		customers.POST("", customerHandler.CreateCustomer)
		customers.GET("", customerHandler.GetCustomers)
		customers.GET("/:id", customerHandler.GetCustomerByID)
	}
}
