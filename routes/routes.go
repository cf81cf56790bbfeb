package routes

import (
	"github.com/gin-gonic/gin"

	"tradermind_backend/controllers"
	"tradermind_backend/middleware"
	"tradermind_backend/services/marketdata"
)

// SetupRoutes sets up all API routes. Routes are registered before the
// server starts serving; ready gates them until the engine behind them
// has been initialized.
func SetupRoutes(router *gin.Engine, engine *marketdata.Engine, ready gin.HandlerFunc) {
	marketController := controllers.NewMarketController(engine)
	authController := controllers.NewAuthController()

	// API v1 group
	api := router.Group("/api/v1", ready)
	{
		// Market data routes
		market := api.Group("/market")
		{
			market.GET("/quote/:symbol", marketController.GetQuote)
			market.GET("/history/:symbol", marketController.GetHistorical)
			market.GET("/sectors", marketController.GetSectors)
			market.GET("/movers", marketController.GetMovers)
			market.GET("/compare/:symbol", marketController.CompareSources)
			market.GET("/compare/:symbol/reports", marketController.GetRecentReports)
			market.GET("/health", marketController.GetAdapterHealth)
		}

		// Provider session routes
		auth := api.Group("/auth")
		{
			auth.GET("/status", marketController.GetAuthStatus)
			auth.POST("/relogin", middleware.JWTAuthMiddleware(), marketController.ForceRelogin)
		}

		// Admin routes
		admin := api.Group("/admin")
		{
			admin.POST("/login", middleware.LoginRateLimitMiddleware(), authController.Login)
		}
	}
}
