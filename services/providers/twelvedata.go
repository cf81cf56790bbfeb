package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tradermind_backend/models"
	"tradermind_backend/services/marketdata"
)

// SourceTwelvedata tags data produced by the Twelvedata adapter.
const SourceTwelvedata = "twelvedata"

// Twelvedata is a key-authenticated secondary adapter. The API returns
// errors as 200 responses with an in-body status, and encodes all
// numerics as strings.
type Twelvedata struct {
	baseURL   string
	apiKey    string
	http      *http.Client
	watchlist []string
	sectorMap map[string][]string
}

// NewTwelvedata creates the Twelvedata adapter.
func NewTwelvedata(baseURL, apiKey string, watchlist []string, sectorMap map[string][]string) *Twelvedata {
	return &Twelvedata{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		http:      newHTTPClient(),
		watchlist: watchlist,
		sectorMap: sectorMap,
	}
}

func (t *Twelvedata) Name() string { return SourceTwelvedata }

// tdError is the in-body error envelope.
type tdError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// asTypedError converts an in-body Twelvedata error to a typed one,
// returning nil if the body is not an error envelope.
func (t *Twelvedata) asTypedError(raw []byte) error {
	var e tdError
	if err := json.Unmarshal(raw, &e); err != nil || e.Status != "error" {
		return nil
	}
	switch e.Code {
	case http.StatusTooManyRequests:
		return &marketdata.RateLimitError{Provider: SourceTwelvedata}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &marketdata.AuthError{Provider: SourceTwelvedata, Reason: e.Message}
	default:
		return &marketdata.SchemaError{
			Provider: SourceTwelvedata,
			Detail:   fmt.Sprintf("API error %d: %s", e.Code, e.Message),
		}
	}
}

type tdQuote struct {
	Symbol        string `json:"symbol"`
	Close         string `json:"close"`
	Change        string `json:"change"`
	PercentChange string `json:"percent_change"`
	Volume        string `json:"volume"`
	Timestamp     int64  `json:"timestamp"`
}

// FetchQuote returns the latest quote for one symbol.
func (t *Twelvedata) FetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	raw, err := t.get(ctx, "/quote", url.Values{"symbol": {t.formatSymbol(symbol)}})
	if err != nil {
		return models.Quote{}, err
	}
	if typedErr := t.asTypedError(raw); typedErr != nil {
		return models.Quote{}, typedErr
	}

	var q tdQuote
	if err := json.Unmarshal(raw, &q); err != nil {
		return models.Quote{}, &marketdata.SchemaError{Provider: SourceTwelvedata, Detail: "malformed quote payload"}
	}
	return t.toQuote(symbol, q)
}

// toQuote converts a provider quote, raising SchemaError on missing
// required fields rather than defaulting them.
func (t *Twelvedata) toQuote(symbol string, q tdQuote) (models.Quote, error) {
	price, err := parseFloatField(SourceTwelvedata, "close", q.Close)
	if err != nil {
		return models.Quote{}, err
	}
	change, err := parseFloatField(SourceTwelvedata, "change", q.Change)
	if err != nil {
		return models.Quote{}, err
	}
	pct, err := parseFloatField(SourceTwelvedata, "percent_change", q.PercentChange)
	if err != nil {
		return models.Quote{}, err
	}

	// Volume may legitimately be absent for indices
	var volume int64
	if q.Volume != "" {
		v, err := parseFloatField(SourceTwelvedata, "volume", q.Volume)
		if err != nil {
			return models.Quote{}, err
		}
		volume = int64(v)
	}

	if q.Timestamp == 0 {
		return models.Quote{}, &marketdata.SchemaError{Provider: SourceTwelvedata, Detail: `missing field "timestamp"`}
	}

	return models.Quote{
		Symbol:         strings.ToUpper(symbol),
		Price:          price,
		ChangeAbsolute: change,
		ChangePercent:  pct,
		Volume:         volume,
		TimestampUTC:   time.Unix(q.Timestamp, 0).UTC(),
		SourceTag:      SourceTwelvedata,
	}, nil
}

// tdIntervals maps canonical intervals to Twelvedata interval names.
var tdIntervals = map[marketdata.Interval]string{
	marketdata.IntervalMinute: "1min",
	marketdata.IntervalHour:   "1h",
	marketdata.IntervalDay:    "1day",
}

type tdSeries struct {
	Values []struct {
		Datetime string `json:"datetime"`
		Open     string `json:"open"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Close    string `json:"close"`
		Volume   string `json:"volume"`
	} `json:"values"`
	Status string `json:"status"`
}

// FetchHistorical returns candles oldest-first. Twelvedata delivers
// newest-first, so the series is reversed.
func (t *Twelvedata) FetchHistorical(ctx context.Context, symbol string, r marketdata.Range, iv marketdata.Interval) ([]models.Candle, error) {
	params := url.Values{
		"symbol":   {t.formatSymbol(symbol)},
		"interval": {tdIntervals[iv]},
		"start_date": {time.Now().UTC().
			Add(-marketdata.RangeLookback(r)).
			Format("2006-01-02 15:04:05")},
	}

	raw, err := t.get(ctx, "/time_series", params)
	if err != nil {
		return nil, err
	}
	if typedErr := t.asTypedError(raw); typedErr != nil {
		return nil, typedErr
	}

	var series tdSeries
	if err := json.Unmarshal(raw, &series); err != nil || series.Status != "ok" {
		return nil, &marketdata.SchemaError{Provider: SourceTwelvedata, Detail: "malformed time_series payload"}
	}

	candles := make([]models.Candle, 0, len(series.Values))
	for _, v := range series.Values {
		ts, err := time.Parse("2006-01-02 15:04:05", v.Datetime)
		if err != nil {
			// Daily bars use a date-only format
			ts, err = time.Parse("2006-01-02", v.Datetime)
			if err != nil {
				return nil, &marketdata.SchemaError{
					Provider: SourceTwelvedata,
					Detail:   "unparseable datetime " + v.Datetime,
				}
			}
		}

		open, err := parseFloatField(SourceTwelvedata, "open", v.Open)
		if err != nil {
			return nil, err
		}
		high, err := parseFloatField(SourceTwelvedata, "high", v.High)
		if err != nil {
			return nil, err
		}
		low, err := parseFloatField(SourceTwelvedata, "low", v.Low)
		if err != nil {
			return nil, err
		}
		cl, err := parseFloatField(SourceTwelvedata, "close", v.Close)
		if err != nil {
			return nil, err
		}
		var volume int64
		if v.Volume != "" {
			vol, err := parseFloatField(SourceTwelvedata, "volume", v.Volume)
			if err != nil {
				return nil, err
			}
			volume = int64(vol)
		}

		candles = append(candles, models.Candle{
			TimestampUTC: ts.UTC(),
			Open:         open,
			High:         high,
			Low:          low,
			Close:        cl,
			Volume:       volume,
		})
	}
	marketdata.SortCandles(candles)
	return candles, nil
}

// FetchSectorPerformance averages change percent per configured sector
// from one batch quote of the sector members.
func (t *Twelvedata) FetchSectorPerformance(ctx context.Context) ([]models.SectorPerformance, error) {
	quotes, err := t.fetchQuotes(ctx, t.watchlist)
	if err != nil {
		return nil, err
	}
	return marketdata.SectorsFromQuotes(t.sectorMap, quotes, SourceTwelvedata), nil
}

// FetchMovers ranks the watchlist by change percent and volume.
func (t *Twelvedata) FetchMovers(ctx context.Context) (models.MoverSet, error) {
	quotes, err := t.fetchQuotes(ctx, t.watchlist)
	if err != nil {
		return models.MoverSet{}, err
	}
	return marketdata.BuildMoverSet(quotes), nil
}

// fetchQuotes batch-quotes several symbols in one call. Twelvedata
// keys the batched response by requested symbol.
func (t *Twelvedata) fetchQuotes(ctx context.Context, symbols []string) ([]models.Quote, error) {
	formatted := make([]string, 0, len(symbols))
	for _, s := range symbols {
		formatted = append(formatted, t.formatSymbol(s))
	}

	raw, err := t.get(ctx, "/quote", url.Values{"symbol": {strings.Join(formatted, ",")}})
	if err != nil {
		return nil, err
	}
	if typedErr := t.asTypedError(raw); typedErr != nil {
		return nil, typedErr
	}

	var batch map[string]json.RawMessage
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, &marketdata.SchemaError{Provider: SourceTwelvedata, Detail: "malformed batch quote payload"}
	}

	quotes := make([]models.Quote, 0, len(symbols))
	for _, s := range symbols {
		entry, ok := batch[t.formatSymbol(s)]
		if !ok {
			continue
		}
		// Per-symbol errors inside a batch are skipped, not defaulted
		if typedErr := t.asTypedError(entry); typedErr != nil {
			continue
		}
		var q tdQuote
		if err := json.Unmarshal(entry, &q); err != nil {
			continue
		}
		quote, err := t.toQuote(s, q)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, quote)
	}

	if len(quotes) == 0 {
		return nil, &marketdata.SchemaError{Provider: SourceTwelvedata, Detail: "batch quote returned no usable symbols"}
	}
	return quotes, nil
}

// formatSymbol qualifies a bare NSE ticker the Twelvedata way.
func (t *Twelvedata) formatSymbol(symbol string) string {
	s := strings.ToUpper(symbol)
	if strings.Contains(s, ":") {
		return s
	}
	return s + ":NSE"
}

// get performs one GET request with the API key attached.
func (t *Twelvedata) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	params.Set("apikey", t.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, &marketdata.NetworkError{Provider: SourceTwelvedata, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, classifyStatus(SourceTwelvedata, resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &marketdata.NetworkError{Provider: SourceTwelvedata, Err: err}
	}
	return raw, nil
}
