package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tradermind_backend/models"
	"tradermind_backend/services/marketdata"
)

// SourceAngelOne tags data produced by the primary adapter.
const SourceAngelOne = "angelone"

// SmartAPI endpoint paths
const (
	angelLoginPath  = "/rest/auth/angelbroking/user/v1/loginByPassword"
	angelQuotePath  = "/rest/secure/angelbroking/market/v1/quote/"
	angelCandlePath = "/rest/secure/angelbroking/historical/v1/getCandleData"
	angelSessionTTL = 6 * time.Hour
	angelExchange   = "NSE"
)

// istZone is the exchange feed timezone; feed timestamps are converted
// to UTC on the way out.
var istZone = time.FixedZone("IST", 5*3600+30*60)

// nseSymbolTokens maps NSE trading symbols to SmartAPI instrument
// tokens. SmartAPI addresses instruments by token, not symbol.
var nseSymbolTokens = map[string]string{
	"RELIANCE": "2885", "TCS": "11536", "HDFCBANK": "1333",
	"BHARTIARTL": "10604", "ICICIBANK": "4963", "INFY": "1594",
	"SBIN": "3045", "ITC": "1660", "HINDUNILVR": "1394",
	"LT": "11483", "KOTAKBANK": "1922", "AXISBANK": "5900",
	"ASIANPAINT": "236", "MARUTI": "10999", "SUNPHARMA": "3351",
	"TITAN": "3506", "ULTRACEMCO": "11532", "WIPRO": "3787",
	"ONGC": "2475", "NTPC": "11630",
}

// AngelOne is the primary source adapter. It authenticates through the
// SessionManager's TOTP login flow and talks to the SmartAPI-shaped
// endpoints of the brokerage.
type AngelOne struct {
	baseURL   string
	apiKey    string
	http      *http.Client
	sessions  *marketdata.SessionManager
	watchlist []string
	sectorMap map[string][]string
}

// NewAngelOne creates the primary adapter. AttachSessions must be
// called before any fetch; the session manager itself is constructed
// with this client as its LoginClient.
func NewAngelOne(baseURL, apiKey string, watchlist []string, sectorMap map[string][]string) *AngelOne {
	return &AngelOne{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		http:      newHTTPClient(),
		watchlist: watchlist,
		sectorMap: sectorMap,
	}
}

// AttachSessions wires the session manager after construction; the
// manager needs this client for logins, this client needs the manager
// for tokens.
func (a *AngelOne) AttachSessions(sm *marketdata.SessionManager) {
	a.sessions = sm
}

func (a *AngelOne) Name() string { return SourceAngelOne }

type angelEnvelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	Data      json.RawMessage `json:"data"`
}

type angelLoginData struct {
	JWTToken     string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
	FeedToken    string `json:"feedToken"`
}

// Login exchanges client code, password and one-time code for a
// session. Implements marketdata.LoginClient.
func (a *AngelOne) Login(ctx context.Context, clientCode, password, totpCode string) (models.Session, error) {
	body := map[string]string{
		"clientcode": clientCode,
		"password":   password,
		"totp":       totpCode,
	}

	var env angelEnvelope
	if err := a.post(ctx, angelLoginPath, "", body, &env); err != nil {
		return models.Session{}, err
	}

	if !env.Status {
		// AB1050 is SmartAPI's invalid-TOTP code; the session manager
		// retries the adjacent time window on it.
		if env.ErrorCode == "AB1050" || strings.Contains(strings.ToLower(env.Message), "totp") {
			return models.Session{}, fmt.Errorf("%s: %w", env.Message, marketdata.ErrTOTPRejected)
		}
		return models.Session{}, &marketdata.AuthError{
			Provider: SourceAngelOne,
			Reason:   fmt.Sprintf("%s (%s)", env.Message, env.ErrorCode),
		}
	}

	var data angelLoginData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.JWTToken == "" {
		return models.Session{}, &marketdata.SchemaError{
			Provider: SourceAngelOne,
			Detail:   "login response missing jwtToken",
		}
	}

	now := time.Now().UTC()
	return models.Session{
		Token:        data.JWTToken,
		RefreshToken: data.RefreshToken,
		IssuedAt:     now,
		ExpiresAt:    now.Add(angelSessionTTL),
	}, nil
}

type angelQuoteData struct {
	Fetched []struct {
		TradingSymbol string  `json:"tradingSymbol"`
		SymbolToken   string  `json:"symbolToken"`
		LTP           float64 `json:"ltp"`
		NetChange     float64 `json:"netChange"`
		PercentChange float64 `json:"percentChange"`
		TradeVolume   int64   `json:"tradeVolume"`
		ExchFeedTime  string  `json:"exchFeedTime"`
	} `json:"fetched"`
	Unfetched []struct {
		SymbolToken string `json:"symbolToken"`
		Message     string `json:"message"`
	} `json:"unfetched"`
}

// FetchQuote returns the latest quote for one symbol.
func (a *AngelOne) FetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	quotes, err := a.fetchQuotes(ctx, []string{symbol})
	if err != nil {
		return models.Quote{}, err
	}
	if len(quotes) == 0 {
		return models.Quote{}, &marketdata.SchemaError{
			Provider: SourceAngelOne,
			Detail:   "quote response empty for " + symbol,
		}
	}
	return quotes[0], nil
}

// fetchQuotes performs one FULL-mode batch quote call.
func (a *AngelOne) fetchQuotes(ctx context.Context, symbols []string) ([]models.Quote, error) {
	tokens := make([]string, 0, len(symbols))
	symbolByToken := make(map[string]string, len(symbols))
	for _, s := range symbols {
		tok, ok := nseSymbolTokens[strings.ToUpper(s)]
		if !ok {
			return nil, &marketdata.SchemaError{
				Provider: SourceAngelOne,
				Detail:   "no instrument token for symbol " + s,
			}
		}
		tokens = append(tokens, tok)
		symbolByToken[tok] = strings.ToUpper(s)
	}

	token, err := a.sessions.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"mode":           "FULL",
		"exchangeTokens": map[string][]string{angelExchange: tokens},
	}

	var env angelEnvelope
	if err := a.post(ctx, angelQuotePath, token.Token, body, &env); err != nil {
		return nil, err
	}
	if !env.Status {
		return nil, &marketdata.SchemaError{
			Provider: SourceAngelOne,
			Detail:   fmt.Sprintf("quote call rejected: %s (%s)", env.Message, env.ErrorCode),
		}
	}

	var data angelQuoteData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, &marketdata.SchemaError{Provider: SourceAngelOne, Detail: "malformed quote payload"}
	}

	quotes := make([]models.Quote, 0, len(data.Fetched))
	for _, f := range data.Fetched {
		sym := symbolByToken[f.SymbolToken]
		if sym == "" {
			sym = f.TradingSymbol
		}
		ts, err := time.ParseInLocation("02-Jan-2006 15:04:05", f.ExchFeedTime, istZone)
		if err != nil {
			return nil, &marketdata.SchemaError{
				Provider: SourceAngelOne,
				Detail:   "unparseable exchFeedTime " + f.ExchFeedTime,
			}
		}
		quotes = append(quotes, models.Quote{
			Symbol:         sym,
			Price:          f.LTP,
			ChangeAbsolute: f.NetChange,
			ChangePercent:  f.PercentChange,
			Volume:         f.TradeVolume,
			TimestampUTC:   ts.UTC(),
			SourceTag:      SourceAngelOne,
		})
	}
	return quotes, nil
}

// angelIntervals maps canonical intervals to SmartAPI candle intervals.
var angelIntervals = map[marketdata.Interval]string{
	marketdata.IntervalMinute: "ONE_MINUTE",
	marketdata.IntervalHour:   "ONE_HOUR",
	marketdata.IntervalDay:    "ONE_DAY",
}

// FetchHistorical returns candles oldest-first for the requested range
// and interval.
func (a *AngelOne) FetchHistorical(ctx context.Context, symbol string, r marketdata.Range, iv marketdata.Interval) ([]models.Candle, error) {
	tok, ok := nseSymbolTokens[strings.ToUpper(symbol)]
	if !ok {
		return nil, &marketdata.SchemaError{
			Provider: SourceAngelOne,
			Detail:   "no instrument token for symbol " + symbol,
		}
	}

	token, err := a.sessions.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}

	to := time.Now().In(istZone)
	from := to.Add(-marketdata.RangeLookback(r))

	body := map[string]string{
		"exchange":    angelExchange,
		"symboltoken": tok,
		"interval":    angelIntervals[iv],
		"fromdate":    from.Format("2006-01-02 15:04"),
		"todate":      to.Format("2006-01-02 15:04"),
	}

	var env angelEnvelope
	if err := a.post(ctx, angelCandlePath, token.Token, body, &env); err != nil {
		return nil, err
	}
	if !env.Status {
		return nil, &marketdata.SchemaError{
			Provider: SourceAngelOne,
			Detail:   fmt.Sprintf("candle call rejected: %s (%s)", env.Message, env.ErrorCode),
		}
	}

	// Candle rows arrive as [timestamp, open, high, low, close, volume]
	var rows [][]json.RawMessage
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return nil, &marketdata.SchemaError{Provider: SourceAngelOne, Detail: "malformed candle payload"}
	}

	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return nil, &marketdata.SchemaError{
				Provider: SourceAngelOne,
				Detail:   fmt.Sprintf("candle row has %d fields, want 6", len(row)),
			}
		}
		var tsStr string
		if err := json.Unmarshal(row[0], &tsStr); err != nil {
			return nil, &marketdata.SchemaError{Provider: SourceAngelOne, Detail: "candle timestamp not a string"}
		}
		ts, err := time.Parse(time.RFC3339, tsStr)
		if err != nil {
			return nil, &marketdata.SchemaError{Provider: SourceAngelOne, Detail: "unparseable candle timestamp " + tsStr}
		}
		var ohlcv [5]float64
		for i := 0; i < 5; i++ {
			if err := json.Unmarshal(row[i+1], &ohlcv[i]); err != nil {
				return nil, &marketdata.SchemaError{Provider: SourceAngelOne, Detail: "candle field not numeric"}
			}
		}
		candles = append(candles, models.Candle{
			TimestampUTC: ts.UTC(),
			Open:         ohlcv[0],
			High:         ohlcv[1],
			Low:          ohlcv[2],
			Close:        ohlcv[3],
			Volume:       int64(ohlcv[4]),
		})
	}
	// SmartAPI already returns chronological rows; keep the contract
	// explicit anyway.
	marketdata.SortCandles(candles)
	return candles, nil
}

// FetchSectorPerformance averages change percent per configured sector
// from one batch quote of the sector members.
func (a *AngelOne) FetchSectorPerformance(ctx context.Context) ([]models.SectorPerformance, error) {
	quotes, err := a.fetchQuotes(ctx, a.watchlist)
	if err != nil {
		return nil, err
	}
	return marketdata.SectorsFromQuotes(a.sectorMap, quotes, SourceAngelOne), nil
}

// FetchMovers ranks the watchlist by change percent and volume.
func (a *AngelOne) FetchMovers(ctx context.Context) (models.MoverSet, error) {
	quotes, err := a.fetchQuotes(ctx, a.watchlist)
	if err != nil {
		return models.MoverSet{}, err
	}
	return marketdata.BuildMoverSet(quotes), nil
}

// post sends a SmartAPI request, decoding the envelope and converting
// transport and status failures into typed errors.
func (a *AngelOne) post(ctx context.Context, path, bearer string, body interface{}, out *angelEnvelope) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-UserType", "USER")
	req.Header.Set("X-SourceID", "WEB")
	req.Header.Set("X-PrivateKey", a.apiKey)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return &marketdata.NetworkError{Provider: SourceAngelOne, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return classifyStatus(SourceAngelOne, resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &marketdata.NetworkError{Provider: SourceAngelOne, Err: err}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &marketdata.SchemaError{Provider: SourceAngelOne, Detail: "response is not an API envelope"}
	}
	return nil
}
