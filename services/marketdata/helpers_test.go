package marketdata

import (
	"context"
	"sync/atomic"
	"time"

	"tradermind_backend/models"
)

// fakeAdapter scripts one adapter's behavior per call.
type fakeAdapter struct {
	name    string
	calls   int64
	quoteFn func(call int64, symbol string) (models.Quote, error)
	delay   time.Duration

	historicalFn func() ([]models.Candle, error)
	sectorsFn    func() ([]models.SectorPerformance, error)
	moversFn     func() (models.MoverSet, error)
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) FetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	call := atomic.AddInt64(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return models.Quote{}, &NetworkError{Provider: f.name, Err: ctx.Err()}
		case <-time.After(f.delay):
		}
	}
	return f.quoteFn(call, symbol)
}

func (f *fakeAdapter) FetchHistorical(ctx context.Context, symbol string, r Range, iv Interval) ([]models.Candle, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.historicalFn != nil {
		return f.historicalFn()
	}
	return nil, &NetworkError{Provider: f.name, Err: context.DeadlineExceeded}
}

func (f *fakeAdapter) FetchSectorPerformance(ctx context.Context) ([]models.SectorPerformance, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.sectorsFn != nil {
		return f.sectorsFn()
	}
	return nil, &NetworkError{Provider: f.name, Err: context.DeadlineExceeded}
}

func (f *fakeAdapter) FetchMovers(ctx context.Context) (models.MoverSet, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.moversFn != nil {
		return f.moversFn()
	}
	return models.MoverSet{}, &NetworkError{Provider: f.name, Err: context.DeadlineExceeded}
}

func (f *fakeAdapter) callCount() int64 { return atomic.LoadInt64(&f.calls) }

// healthyAdapter always answers with a fixed price.
func healthyAdapter(name string, price float64) *fakeAdapter {
	return &fakeAdapter{
		name: name,
		quoteFn: func(_ int64, symbol string) (models.Quote, error) {
			return models.Quote{
				Symbol:       symbol,
				Price:        price,
				TimestampUTC: time.Now().UTC(),
				SourceTag:    name,
			}, nil
		},
	}
}

// failingAdapter always fails with err.
func failingAdapter(name string, err error) *fakeAdapter {
	return &fakeAdapter{
		name: name,
		quoteFn: func(_ int64, _ string) (models.Quote, error) {
			return models.Quote{}, err
		},
	}
}

// fakeLoginClient counts logins and can reject one-time codes.
type fakeLoginClient struct {
	logins      int64
	rejectCodes int64 // reject this many logins with ErrTOTPRejected
	err         error
	delay       time.Duration
	lifetime    time.Duration
}

func (f *fakeLoginClient) Login(ctx context.Context, clientCode, password, totpCode string) (models.Session, error) {
	n := atomic.AddInt64(&f.logins, 1)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return models.Session{}, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return models.Session{}, f.err
	}
	if n <= atomic.LoadInt64(&f.rejectCodes) {
		return models.Session{}, ErrTOTPRejected
	}

	lifetime := f.lifetime
	if lifetime == 0 {
		lifetime = 6 * time.Hour
	}
	now := time.Now().UTC()
	return models.Session{
		Token:        "token-" + time.Now().Format("150405.000000000"),
		RefreshToken: "refresh",
		IssuedAt:     now,
		ExpiresAt:    now.Add(lifetime),
	}, nil
}

func (f *fakeLoginClient) loginCount() int64 { return atomic.LoadInt64(&f.logins) }

const testTOTPSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func newTestSessionManager(client LoginClient) *SessionManager {
	return NewSessionManager(SessionManagerConfig{
		Provider:      "primary",
		ClientCode:    "C123",
		Password:      "pass",
		TOTPSecret:    testTOTPSecret,
		RenewalMargin: time.Minute,
	}, client)
}
