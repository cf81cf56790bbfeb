package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tradermind_backend/services/marketdata"
)

const angelTestSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

// newAngelFixture wires an adapter and session manager against a fake
// SmartAPI server that always accepts logins.
func newAngelFixture(t *testing.T, handler http.HandlerFunc) (*AngelOne, *httptest.Server) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc(angelLoginPath, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": true,
			"data": map[string]string{
				"jwtToken":     "jwt-abc",
				"refreshToken": "refresh-abc",
				"feedToken":    "feed-abc",
			},
		})
	})
	mux.HandleFunc("/", handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	adapter := NewAngelOne(srv.URL, "api-key", []string{"RELIANCE", "TCS"}, map[string][]string{
		"IT":        {"TCS"},
		"Oil & Gas": {"RELIANCE"},
	})
	sessions := marketdata.NewSessionManager(marketdata.SessionManagerConfig{
		Provider:      SourceAngelOne,
		ClientCode:    "C123",
		Password:      "pass",
		TOTPSecret:    angelTestSecret,
		RenewalMargin: time.Minute,
	}, adapter)
	adapter.AttachSessions(sessions)
	return adapter, srv
}

func TestAngelOne_Login(t *testing.T) {
	adapter, _ := newAngelFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	session, err := adapter.Login(context.Background(), "C123", "pass", "123456")
	require.NoError(t, err)
	require.Equal(t, "jwt-abc", session.Token)
	require.Equal(t, "refresh-abc", session.RefreshToken)
	require.WithinDuration(t, time.Now().Add(angelSessionTTL), session.ExpiresAt, time.Minute)
}

func TestAngelOne_LoginInvalidTOTPIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    false,
			"message":   "Invalid totp",
			"errorcode": "AB1050",
		})
	}))
	defer srv.Close()

	adapter := NewAngelOne(srv.URL, "api-key", nil, nil)
	_, err := adapter.Login(context.Background(), "C123", "pass", "000000")
	require.ErrorIs(t, err, marketdata.ErrTOTPRejected)
}

func TestAngelOne_LoginBadPasswordIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    false,
			"message":   "Invalid Password",
			"errorcode": "AB1007",
		})
	}))
	defer srv.Close()

	adapter := NewAngelOne(srv.URL, "api-key", nil, nil)
	_, err := adapter.Login(context.Background(), "C123", "wrong", "123456")

	var authErr *marketdata.AuthError
	require.ErrorAs(t, err, &authErr)
	require.NotErrorIs(t, err, marketdata.ErrTOTPRejected)
}

func TestAngelOne_FetchQuote(t *testing.T) {
	var gotPath, gotAuth, gotKey string
	adapter, _ := newAngelFixture(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("X-PrivateKey")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": true,
			"data": map[string]interface{}{
				"fetched": []map[string]interface{}{{
					"tradingSymbol": "RELIANCE-EQ",
					"symbolToken":   "2885",
					"ltp":           2950.50,
					"netChange":     12.30,
					"percentChange": 0.42,
					"tradeVolume":   1234567,
					"exchFeedTime":  "21-Aug-2026 15:29:59",
				}},
			},
		})
	})

	q, err := adapter.FetchQuote(context.Background(), "RELIANCE")
	require.NoError(t, err)
	require.Equal(t, angelQuotePath, gotPath)
	require.Equal(t, "Bearer jwt-abc", gotAuth)
	require.Equal(t, "api-key", gotKey)

	require.Equal(t, "RELIANCE", q.Symbol, "token maps back to the canonical symbol")
	require.InDelta(t, 2950.50, q.Price, 1e-9)
	require.InDelta(t, 0.42, q.ChangePercent, 1e-9)
	require.EqualValues(t, 1234567, q.Volume)
	require.Equal(t, SourceAngelOne, q.SourceTag)
	require.False(t, q.Stale)

	// 15:29:59 IST is 09:59:59 UTC
	want := time.Date(2026, time.August, 21, 9, 59, 59, 0, time.UTC)
	require.Equal(t, want, q.TimestampUTC)
}

func TestAngelOne_FetchQuoteUnknownSymbol(t *testing.T) {
	adapter, _ := newAngelFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := adapter.FetchQuote(context.Background(), "NOSUCH")
	var schemaErr *marketdata.SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestAngelOne_ExpiredTokenMapsToAuthExpired(t *testing.T) {
	adapter, _ := newAngelFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := adapter.FetchQuote(context.Background(), "RELIANCE")
	var expired *marketdata.AuthExpiredError
	require.ErrorAs(t, err, &expired)
}

func TestAngelOne_ThrottleMapsToRateLimit(t *testing.T) {
	adapter, _ := newAngelFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := adapter.FetchQuote(context.Background(), "RELIANCE")
	var rateErr *marketdata.RateLimitError
	require.ErrorAs(t, err, &rateErr)
	require.Equal(t, "30", rateErr.RetryAfter)
}

func TestAngelOne_FetchHistorical(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	adapter, _ := newAngelFixture(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": true,
			"data": [][]interface{}{
				{"2026-08-20T09:15:00+05:30", 2930.0, 2960.0, 2925.0, 2950.5, 1200000},
				{"2026-08-21T09:15:00+05:30", 2950.5, 2971.0, 2948.0, 2962.8, 980000},
			},
		})
	})

	candles, err := adapter.FetchHistorical(context.Background(), "RELIANCE", marketdata.RangeWeek, marketdata.IntervalDay)
	require.NoError(t, err)
	require.Equal(t, angelCandlePath, gotPath)
	require.Equal(t, "ONE_DAY", gotBody["interval"])
	require.Equal(t, "2885", gotBody["symboltoken"])
	require.Len(t, candles, 2)
	require.True(t, candles[0].TimestampUTC.Before(candles[1].TimestampUTC), "candles are oldest-first")
	require.InDelta(t, 2950.5, candles[0].Close, 1e-9)
	require.EqualValues(t, 980000, candles[1].Volume)
}

func TestAngelOne_FetchHistoricalShortRow(t *testing.T) {
	adapter, _ := newAngelFixture(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": true,
			"data":   [][]interface{}{{"2026-08-20T09:15:00+05:30", 2930.0}},
		})
	})

	_, err := adapter.FetchHistorical(context.Background(), "RELIANCE", marketdata.RangeDay, marketdata.IntervalDay)
	var schemaErr *marketdata.SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestAngelOne_FetchMoversUsesWatchlist(t *testing.T) {
	adapter, _ := newAngelFixture(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": true,
			"data": map[string]interface{}{
				"fetched": []map[string]interface{}{
					{"symbolToken": "2885", "ltp": 2950.5, "percentChange": 1.2, "tradeVolume": 100, "exchFeedTime": "21-Aug-2026 15:29:59"},
					{"symbolToken": "11536", "ltp": 4100.0, "percentChange": -0.8, "tradeVolume": 900, "exchFeedTime": "21-Aug-2026 15:29:59"},
				},
			},
		})
	})

	movers, err := adapter.FetchMovers(context.Background())
	require.NoError(t, err)
	require.Equal(t, "RELIANCE", movers.Gainers[0].Symbol)
	require.Equal(t, "TCS", movers.Losers[0].Symbol)
	require.Equal(t, "TCS", movers.MostActive[0].Symbol)
}

func TestAngelOne_FetchSectorPerformance(t *testing.T) {
	adapter, _ := newAngelFixture(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": true,
			"data": map[string]interface{}{
				"fetched": []map[string]interface{}{
					{"symbolToken": "2885", "ltp": 2950.5, "percentChange": 1.5, "exchFeedTime": "21-Aug-2026 15:29:59"},
					{"symbolToken": "11536", "ltp": 4100.0, "percentChange": -0.5, "exchFeedTime": "21-Aug-2026 15:29:59"},
				},
			},
		})
	})

	sectors, err := adapter.FetchSectorPerformance(context.Background())
	require.NoError(t, err)
	require.Len(t, sectors, 2)
	require.Equal(t, "Oil & Gas", sectors[0].SectorName)
	require.InDelta(t, 1.5, sectors[0].PerformancePercent, 1e-9)
	require.Equal(t, "IT", sectors[1].SectorName)
}
