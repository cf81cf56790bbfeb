package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"tradermind_backend/config"
	"tradermind_backend/models"
	"tradermind_backend/routes"
	"tradermind_backend/services/marketdata"
)

type noopLoginClient struct{}

func (noopLoginClient) Login(ctx context.Context, clientCode, password, totpCode string) (models.Session, error) {
	now := time.Now().UTC()
	return models.Session{Token: "jwt", IssuedAt: now, ExpiresAt: now.Add(6 * time.Hour)}, nil
}

func TestAPIRoutesGatedUntilEngineReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	config.AppConfig = &config.Config{JWTSecret: "test-secret"}

	engineReadyMutex.Lock()
	engineReady = false
	engineReadyMutex.Unlock()

	// Boot order of main: health endpoints and all API routes are
	// registered before any request is served; the engine handle is
	// populated later.
	router := gin.New()
	setupHealthEndpoints(router)
	engine := &marketdata.Engine{}
	routes.SetupRoutes(router, engine, requireEngineReady())

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	// While initializing: liveness is up, readiness and API are not.
	require.Equal(t, http.StatusOK, get("/health").Code)
	require.Equal(t, http.StatusServiceUnavailable, get("/ready").Code)

	w := get("/api/v1/market/health")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Contains(t, w.Body.String(), "initializing")

	// Populate the engine handle, then flip the flag, as the background
	// initializer does.
	sessions := marketdata.NewSessionManager(marketdata.SessionManagerConfig{
		Provider:      "angelone",
		ClientCode:    "C123",
		Password:      "pass",
		TOTPSecret:    "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ",
		RenewalMargin: time.Minute,
	}, noopLoginClient{})
	cache := marketdata.NewQuoteCache(time.Minute, nil)
	orchestrator := marketdata.NewFallbackOrchestrator(marketdata.OrchestratorConfig{},
		nil, sessions, "angelone", cache)

	engineReadyMutex.Lock()
	*engine = marketdata.Engine{
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Cache:        cache,
	}
	engineReady = true
	engineReadyMutex.Unlock()

	require.Equal(t, http.StatusOK, get("/ready").Code)
	require.Equal(t, http.StatusOK, get("/api/v1/market/health").Code)
	require.Equal(t, http.StatusOK, get("/api/v1/auth/status").Code)
}
