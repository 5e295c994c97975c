package router

import (
	"database/sql"

	"stockledger_backend/internal/handlers"
	"stockledger_backend/internal/middleware"
	"stockledger_backend/internal/repositories"
	"stockledger_backend/internal/services"

	"github.com/gin-gonic/gin"
)

// Setup initializes the routing for the application.
func Setup(engine *gin.Engine, db *sql.DB) {
	// Initialize Repositories
	inventoryRepo := repositories.NewInventoryRepository(db)
	movementRepo := repositories.NewStockMovementRepository(db)
	saleRepo := repositories.NewSaleRepository(db)
	customerRepo := repositories.NewCustomerRepository(db)
	idempotencyRepo := repositories.NewIdempotencyRepository(db)

	// Initialize Services
	guard := services.NewIdempotencyGuard(idempotencyRepo)
	inventoryService := services.NewInventoryService(inventoryRepo, movementRepo, guard)
	customerService := services.NewCustomerService(customerRepo)
	saleService := services.NewSaleService(saleRepo, inventoryService, customerService, guard)

	// Initialize Handlers
	inventoryHandler := handlers.NewInventoryHandler(inventoryService)
	saleHandler := handlers.NewSaleHandler(saleService)
	customerHandler := handlers.NewCustomerHandler(customerService)

	apiV1 := engine.Group("/api/v1")

	authenticated := apiV1.Group("")
	authenticated.Use(middleware.AuthMiddleware())
	{
		SetupInventoryRoutes(authenticated, inventoryHandler)
		SetupSaleRoutes(authenticated, saleHandler)
		SetupCustomerRoutes(authenticated, customerHandler)
	}
}
