package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tradermind_backend/models"
)

// OrchestratorConfig tunes the fallback chain.
type OrchestratorConfig struct {
	// CallTimeout bounds each adapter call.
	CallTimeout time.Duration
	// BackoffBase and BackoffCap shape the exponential cool-down:
	// base * 2^(failures-1), capped.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// FallbackOrchestrator walks adapters in a fixed priority order per
// request, tracks per-adapter failure state, and serves a
// stale-but-labeled cached quote when every source is down.
type FallbackOrchestrator struct {
	cfg      OrchestratorConfig
	adapters []SourceAdapter
	sessions *SessionManager
	primary  string
	cache    *QuoteCache

	// health transitions are read-modify-write atomic under mu
	mu     sync.Mutex
	health map[string]*models.AdapterHealth

	// now is replaceable in tests
	now func() time.Time
}

// NewFallbackOrchestrator creates an orchestrator over adapters in
// priority order (primary first). sessions may be nil when no adapter
// uses the token login flow; otherwise primaryName identifies the
// adapter whose expired tokens trigger a forced re-login.
func NewFallbackOrchestrator(cfg OrchestratorConfig, adapters []SourceAdapter, sessions *SessionManager, primaryName string, cache *QuoteCache) *FallbackOrchestrator {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 10 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 5 * time.Minute
	}

	health := make(map[string]*models.AdapterHealth, len(adapters))
	for _, a := range adapters {
		health[a.Name()] = &models.AdapterHealth{SourceTag: a.Name()}
	}

	return &FallbackOrchestrator{
		cfg:      cfg,
		adapters: adapters,
		sessions: sessions,
		primary:  primaryName,
		cache:    cache,
		health:   health,
		now:      time.Now,
	}
}

// GetQuote returns a fresh quote from the first healthy adapter, or a
// stale cached quote within the TTL when every adapter fails.
func (o *FallbackOrchestrator) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	var quote models.Quote
	err := o.walk(ctx, "quote "+symbol, func(callCtx context.Context, a SourceAdapter) error {
		q, err := a.FetchQuote(callCtx, symbol)
		if err != nil {
			return err
		}
		quote = q
		return nil
	})
	if err == nil {
		o.cache.Put(quote)
		return quote, nil
	}

	if stale, ok := o.cache.GetStale(symbol); ok {
		log.Printf("All sources failed for %s, serving cached quote (%ds old)",
			symbol, stale.StaleAgeSeconds)
		return stale, nil
	}
	return models.Quote{}, fmt.Errorf("%w for %s: %v", ErrAllSourcesExhausted, symbol, err)
}

// GetHistorical returns candles oldest-first from the first healthy
// adapter. Historical data has no stale cache; exhaustion is an error.
func (o *FallbackOrchestrator) GetHistorical(ctx context.Context, symbol string, r Range, iv Interval) ([]models.Candle, error) {
	var candles []models.Candle
	err := o.walk(ctx, "history "+symbol, func(callCtx context.Context, a SourceAdapter) error {
		cs, err := a.FetchHistorical(callCtx, symbol, r, iv)
		if err != nil {
			return err
		}
		candles = cs
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w for %s history: %v", ErrAllSourcesExhausted, symbol, err)
	}
	return candles, nil
}

// GetSectorPerformance returns per-sector performance from the first
// healthy adapter.
func (o *FallbackOrchestrator) GetSectorPerformance(ctx context.Context) ([]models.SectorPerformance, error) {
	var sectors []models.SectorPerformance
	err := o.walk(ctx, "sectors", func(callCtx context.Context, a SourceAdapter) error {
		ss, err := a.FetchSectorPerformance(callCtx)
		if err != nil {
			return err
		}
		sectors = ss
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w for sectors: %v", ErrAllSourcesExhausted, err)
	}
	return sectors, nil
}

// GetMovers returns gainers, losers and most active from the first
// healthy adapter.
func (o *FallbackOrchestrator) GetMovers(ctx context.Context) (models.MoverSet, error) {
	var movers models.MoverSet
	err := o.walk(ctx, "movers", func(callCtx context.Context, a SourceAdapter) error {
		ms, err := a.FetchMovers(callCtx)
		if err != nil {
			return err
		}
		movers = ms
		return nil
	})
	if err != nil {
		return models.MoverSet{}, fmt.Errorf("%w for movers: %v", ErrAllSourcesExhausted, err)
	}
	return movers, nil
}

// walk tries each adapter once in priority order, skipping adapters in
// cool-down, until call succeeds.
func (o *FallbackOrchestrator) walk(ctx context.Context, op string, call func(context.Context, SourceAdapter) error) error {
	var lastErr error

	for _, a := range o.adapters {
		if o.inCooldown(a.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		err := o.invoke(ctx, a, call)
		if err == nil {
			o.recordSuccess(a.Name())
			return nil
		}

		lastErr = err
		if isCooldownError(err) {
			until := o.recordFailure(a.Name())
			log.Printf("Adapter %s failed on %s (%v), cooling down until %s",
				a.Name(), op, err, until.Format(time.RFC3339))
		} else {
			log.Printf("Adapter %s failed on %s: %v", a.Name(), op, err)
		}
	}

	if lastErr == nil {
		lastErr = errors.New("every adapter is cooling down")
	}
	return lastErr
}

// invoke runs one adapter call under the per-call timeout. An expired
// primary token triggers exactly one forced re-login and one retry
// within the same request.
func (o *FallbackOrchestrator) invoke(ctx context.Context, a SourceAdapter, call func(context.Context, SourceAdapter) error) error {
	err := o.callWithTimeout(ctx, a, call)

	var expired *AuthExpiredError
	if errors.As(err, &expired) && o.sessions != nil && a.Name() == o.primary {
		log.Printf("Primary token rejected, forcing re-login")
		if _, loginErr := o.sessions.ForceRelogin(ctx); loginErr != nil {
			return loginErr
		}
		err = o.callWithTimeout(ctx, a, call)
	}
	return err
}

func (o *FallbackOrchestrator) callWithTimeout(ctx context.Context, a SourceAdapter, call func(context.Context, SourceAdapter) error) error {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	err := call(callCtx, a)
	if err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return &NetworkError{Provider: a.Name(), Err: context.DeadlineExceeded}
	}
	return err
}

// isCooldownError reports whether a failure should place the adapter
// in cool-down: timeouts, connection failures and provider throttling.
// Schema and auth errors advance the chain without a cool-down.
func isCooldownError(err error) bool {
	var netErr *NetworkError
	var rateErr *RateLimitError
	return errors.As(err, &netErr) || errors.As(err, &rateErr) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (o *FallbackOrchestrator) inCooldown(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.health[name]
	return ok && h.CoolingDown(o.now())
}

func (o *FallbackOrchestrator) recordSuccess(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if h, ok := o.health[name]; ok {
		h.ConsecutiveFailures = 0
		h.CoolingDownUntil = time.Time{}
	}
}

func (o *FallbackOrchestrator) recordFailure(name string) time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.health[name]
	if !ok {
		return time.Time{}
	}
	h.ConsecutiveFailures++
	h.CoolingDownUntil = o.now().Add(o.backoff(h.ConsecutiveFailures))
	return h.CoolingDownUntil
}

// backoff doubles per consecutive failure, capped.
func (o *FallbackOrchestrator) backoff(failures int) time.Duration {
	d := o.cfg.BackoffBase
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= o.cfg.BackoffCap {
			return o.cfg.BackoffCap
		}
	}
	if d > o.cfg.BackoffCap {
		d = o.cfg.BackoffCap
	}
	return d
}

// HealthSnapshot returns a copy of each adapter's health in priority
// order.
func (o *FallbackOrchestrator) HealthSnapshot() []models.AdapterHealth {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]models.AdapterHealth, 0, len(o.adapters))
	for _, a := range o.adapters {
		if h, ok := o.health[a.Name()]; ok {
			out = append(out, *h)
		}
	}
	return out
}
