package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"tradermind_backend/services/marketdata"
)

// MarketController handles market data requests
type MarketController struct {
	engine *marketdata.Engine
}

// NewMarketController creates a new market controller
func NewMarketController(engine *marketdata.Engine) *MarketController {
	return &MarketController{engine: engine}
}

// GetQuote returns the latest quote for a symbol
// GET /api/v1/market/quote/:symbol
func (mc *MarketController) GetQuote(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}

	quote, err := mc.engine.Orchestrator.GetQuote(c.Request.Context(), symbol)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": quote})
}

// GetHistorical returns candles for a symbol
// GET /api/v1/market/history/:symbol?range=week&interval=day
func (mc *MarketController) GetHistorical(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))

	r, err := marketdata.ParseRange(c.DefaultQuery("range", string(marketdata.RangeWeek)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	iv, err := marketdata.ParseInterval(c.DefaultQuery("interval", string(marketdata.IntervalDay)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	candles, err := mc.engine.Orchestrator.GetHistorical(c.Request.Context(), symbol, r, iv)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":   symbol,
		"range":    r,
		"interval": iv,
		"candles":  candles,
	})
}

// GetSectors returns sector performance
// GET /api/v1/market/sectors
func (mc *MarketController) GetSectors(c *gin.Context) {
	sectors, err := mc.engine.Orchestrator.GetSectorPerformance(c.Request.Context())
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sectors})
}

// GetMovers returns top gainers, losers and most active
// GET /api/v1/market/movers
func (mc *MarketController) GetMovers(c *gin.Context) {
	movers, err := mc.engine.Orchestrator.GetMovers(c.Request.Context())
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": movers})
}

// CompareSources fans one symbol out to every source
// GET /api/v1/market/compare/:symbol
func (mc *MarketController) CompareSources(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}

	report := mc.engine.Reporter.Compare(c.Request.Context(), symbol)
	c.JSON(http.StatusOK, gin.H{"data": report})
}

// GetRecentReports returns archived comparison reports for a symbol,
// most recent first
// GET /api/v1/market/compare/:symbol/reports?limit=20
func (mc *MarketController) GetRecentReports(c *gin.Context) {
	if mc.engine.Reports == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "comparison report archive is not configured"})
		return
	}

	symbol := strings.ToUpper(c.Param("symbol"))
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)
	if err != nil || limit < 1 || limit > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
		return
	}

	reports, err := mc.engine.Reports.RecentReports(c.Request.Context(), symbol, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": reports})
}

// GetAdapterHealth returns the fallback chain's health table
// GET /api/v1/market/health
func (mc *MarketController) GetAdapterHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data":          mc.engine.Orchestrator.HealthSnapshot(),
		"cached_quotes": mc.engine.Cache.Len(),
	})
}

// GetAuthStatus returns the primary provider's session state
// GET /api/v1/auth/status
func (mc *MarketController) GetAuthStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": mc.engine.Sessions.Status()})
}

// ForceRelogin discards the cached session and logs in again
// POST /api/v1/auth/relogin
func (mc *MarketController) ForceRelogin(c *gin.Context) {
	if _, err := mc.engine.Sessions.ForceRelogin(c.Request.Context()); err != nil {
		var authErr *marketdata.AuthError
		if errors.As(err, &authErr) {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": mc.engine.Sessions.Status()})
}

// respondEngineError maps engine errors onto HTTP statuses. A total
// outage is a distinguishable 503, never an empty result.
func respondEngineError(c *gin.Context, err error) {
	if errors.Is(err, marketdata.ErrAllSourcesExhausted) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "all market data sources are unavailable",
		})
		return
	}

	var authErr *marketdata.AuthError
	if errors.As(err, &authErr) {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
