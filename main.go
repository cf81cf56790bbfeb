package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"tradermind_backend/config"
	"tradermind_backend/models"
	"tradermind_backend/routes"
	"tradermind_backend/scheduler"
	"tradermind_backend/services/marketdata"
	"tradermind_backend/services/providers"
)

// engineReady tracks whether the market data engine has been
// initialized. The engine and scheduler are populated under the same
// mutex before the flag flips, so request goroutines that observe the
// flag see a fully built engine.
var engineReady bool
var engineReadyMutex sync.RWMutex

func main() {
	log.Println("==============================================")
	log.Println("  TraderMind Market Data API - Starting...")
	log.Println("==============================================")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Warning: Config load issue: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()

	// Add middlewares
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	// Setup health check endpoints FIRST so the platform can detect the
	// service is up while the engine initializes in background
	setupHealthEndpoints(router)

	// Register all API routes before the server starts serving; the
	// route tree is never mutated after this point. API requests get a
	// 503 until the engine behind the shared handle is initialized.
	engine := &marketdata.Engine{}
	routes.SetupRoutes(router, engine, requireEngineReady())

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	// Start server immediately
	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Initialize the engine in background
	var jobScheduler *scheduler.Scheduler
	go func() {
		built := buildEngine(cfg)
		sched := scheduler.NewScheduler(built, cfg.Watchlist)

		engineReadyMutex.Lock()
		*engine = *built
		jobScheduler = sched
		engineReady = true
		engineReadyMutex.Unlock()

		// Start background scheduler
		go sched.Start()

		log.Println("Application fully initialized")
	}()

	// Graceful shutdown
	gracefulShutdown(server, func() {
		engineReadyMutex.RLock()
		ready := engineReady
		sched := jobScheduler
		engineReadyMutex.RUnlock()

		if sched != nil {
			sched.Stop()
		}
		if !ready {
			return
		}
		if err := engine.Cache.Flush(); err != nil {
			log.Printf("Warning: could not flush quote cache: %v", err)
		}
		if engine.Reports != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := engine.Reports.Close(ctx); err != nil {
				log.Printf("Warning: could not close report archive: %v", err)
			}
			cancel()
		}
	})
}

// buildEngine wires the session manager, adapters, orchestrator and
// comparison reporter into one engine instance.
func buildEngine(cfg *config.Config) *marketdata.Engine {
	// Quote cache, persisted through sqlite when available
	db, err := config.InitDB()
	if err != nil {
		log.Printf("Warning: cache persistence disabled: %v", err)
		db = nil
	} else if err := models.MigrateMarketModels(db); err != nil {
		log.Printf("Warning: cache migration failed: %v", err)
		db = nil
	}
	cache := marketdata.NewQuoteCache(cfg.CacheTTL, db)

	// Primary adapter and its session lifecycle
	angel := providers.NewAngelOne(cfg.PrimaryBaseURL, cfg.PrimaryAPIKey, cfg.Watchlist, config.SectorMap)
	sessions := marketdata.NewSessionManager(marketdata.SessionManagerConfig{
		Provider:      providers.SourceAngelOne,
		ClientCode:    cfg.PrimaryClientCode,
		Password:      cfg.PrimaryPassword,
		TOTPSecret:    cfg.PrimaryTOTPSecret,
		RenewalMargin: cfg.RenewalMargin,
	}, angel)
	angel.AttachSessions(sessions)

	// Fallback chain: primary first, then secondaries in fixed order
	adapters := []marketdata.SourceAdapter{
		angel,
		providers.NewTwelvedata(cfg.TwelvedataBaseURL, cfg.TwelvedataAPIKey, cfg.Watchlist, config.SectorMap),
		providers.NewYahoo(cfg.YahooBaseURL, cfg.Watchlist, config.SectorMap),
	}

	orchestrator := marketdata.NewFallbackOrchestrator(marketdata.OrchestratorConfig{
		CallTimeout: cfg.AdapterTimeout,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
	}, adapters, sessions, providers.SourceAngelOne, cache)

	// Optional MongoDB archive for comparison reports
	var archive marketdata.ReportArchive
	reportStore, err := marketdata.NewMongoReportStore(context.Background())
	if err != nil {
		log.Printf("Comparison report archive unavailable: %v", err)
	} else if reportStore != nil {
		archive = reportStore
	}

	reporter := marketdata.NewComparisonReporter(adapters, providers.SourceAngelOne,
		cfg.CompareDeadline, cfg.DeviationAlertPct, archive)

	return &marketdata.Engine{
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Reporter:     reporter,
		Cache:        cache,
		Reports:      archive,
	}
}

// requireEngineReady rejects API requests until the engine has been
// initialized in background.
func requireEngineReady() gin.HandlerFunc {
	return func(c *gin.Context) {
		engineReadyMutex.RLock()
		ready := engineReady
		engineReadyMutex.RUnlock()

		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service is initializing"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// setupHealthEndpoints registers liveness and readiness probes
func setupHealthEndpoints(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/ready", func(c *gin.Context) {
		engineReadyMutex.RLock()
		ready := engineReady
		engineReadyMutex.RUnlock()

		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "initializing"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
}

// corsMiddleware allows the dashboard frontend to call the API
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestLogger logs each request with latency
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Printf("%s %s %d %s",
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			time.Since(start),
		)
	}
}

// gracefulShutdown waits for a signal then drains the server
func gracefulShutdown(server *http.Server, cleanup func()) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited")
}
