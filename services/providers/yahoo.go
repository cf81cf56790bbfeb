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

// SourceYahoo tags data produced by the Yahoo Finance adapter.
const SourceYahoo = "yahoo"

// Yahoo is the unauthenticated fallback adapter. NSE tickers carry a
// ".NS" suffix on the wire; canonical symbols stay bare.
type Yahoo struct {
	baseURL   string
	http      *http.Client
	watchlist []string
	sectorMap map[string][]string
}

// NewYahoo creates the Yahoo Finance adapter.
func NewYahoo(baseURL string, watchlist []string, sectorMap map[string][]string) *Yahoo {
	return &Yahoo{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      newHTTPClient(),
		watchlist: watchlist,
		sectorMap: sectorMap,
	}
}

func (y *Yahoo) Name() string { return SourceYahoo }

type yahooQuoteResponse struct {
	QuoteResponse struct {
		Result []yahooQuote    `json:"result"`
		Error  json.RawMessage `json:"error"`
	} `json:"quoteResponse"`
}

// yahooQuote uses pointers because Yahoo omits or nulls fields freely.
type yahooQuote struct {
	Symbol                     string   `json:"symbol"`
	RegularMarketPrice         *float64 `json:"regularMarketPrice"`
	RegularMarketChange        *float64 `json:"regularMarketChange"`
	RegularMarketChangePercent *float64 `json:"regularMarketChangePercent"`
	RegularMarketVolume        *int64   `json:"regularMarketVolume"`
	RegularMarketTime          *int64   `json:"regularMarketTime"`
}

// FetchQuote returns the latest quote for one symbol.
func (y *Yahoo) FetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	quotes, err := y.fetchQuotes(ctx, []string{symbol})
	if err != nil {
		return models.Quote{}, err
	}
	if len(quotes) == 0 {
		return models.Quote{}, &marketdata.SchemaError{
			Provider: SourceYahoo,
			Detail:   "quote response empty for " + symbol,
		}
	}
	return quotes[0], nil
}

// fetchQuotes batch-quotes several symbols via the v7 quote endpoint.
func (y *Yahoo) fetchQuotes(ctx context.Context, symbols []string) ([]models.Quote, error) {
	wire := make([]string, 0, len(symbols))
	for _, s := range symbols {
		wire = append(wire, y.formatSymbol(s))
	}

	raw, err := y.get(ctx, "/v7/finance/quote", url.Values{"symbols": {strings.Join(wire, ",")}})
	if err != nil {
		return nil, err
	}

	var parsed yahooQuoteResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &marketdata.SchemaError{Provider: SourceYahoo, Detail: "malformed quote payload"}
	}
	if len(parsed.QuoteResponse.Error) > 0 && string(parsed.QuoteResponse.Error) != "null" {
		return nil, &marketdata.SchemaError{
			Provider: SourceYahoo,
			Detail:   "quote error: " + string(parsed.QuoteResponse.Error),
		}
	}

	quotes := make([]models.Quote, 0, len(parsed.QuoteResponse.Result))
	for _, r := range parsed.QuoteResponse.Result {
		// Null-priced results are a schema violation, never a zero quote
		if r.RegularMarketPrice == nil || r.RegularMarketTime == nil {
			return nil, &marketdata.SchemaError{
				Provider: SourceYahoo,
				Detail:   "result missing regularMarketPrice for " + r.Symbol,
			}
		}
		q := models.Quote{
			Symbol:       y.canonicalSymbol(r.Symbol),
			Price:        *r.RegularMarketPrice,
			TimestampUTC: time.Unix(*r.RegularMarketTime, 0).UTC(),
			SourceTag:    SourceYahoo,
		}
		if r.RegularMarketChange != nil {
			q.ChangeAbsolute = *r.RegularMarketChange
		}
		if r.RegularMarketChangePercent != nil {
			q.ChangePercent = *r.RegularMarketChangePercent
		}
		if r.RegularMarketVolume != nil {
			q.Volume = *r.RegularMarketVolume
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// yahooIntervals maps canonical intervals to chart API intervals.
var yahooIntervals = map[marketdata.Interval]string{
	marketdata.IntervalMinute: "1m",
	marketdata.IntervalHour:   "1h",
	marketdata.IntervalDay:    "1d",
}

// yahooRanges maps canonical ranges to chart API ranges.
var yahooRanges = map[marketdata.Range]string{
	marketdata.RangeDay:   "1d",
	marketdata.RangeWeek:  "5d",
	marketdata.RangeMonth: "1mo",
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error json.RawMessage `json:"error"`
	} `json:"chart"`
}

// FetchHistorical returns candles oldest-first from the v8 chart
// endpoint. Rows with null OHLC entries (halts, empty minutes) are
// dropped, not zero-filled.
func (y *Yahoo) FetchHistorical(ctx context.Context, symbol string, r marketdata.Range, iv marketdata.Interval) ([]models.Candle, error) {
	params := url.Values{
		"range":    {yahooRanges[r]},
		"interval": {yahooIntervals[iv]},
	}
	raw, err := y.get(ctx, "/v8/finance/chart/"+url.PathEscape(y.formatSymbol(symbol)), params)
	if err != nil {
		return nil, err
	}

	var parsed yahooChartResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &marketdata.SchemaError{Provider: SourceYahoo, Detail: "malformed chart payload"}
	}
	if len(parsed.Chart.Error) > 0 && string(parsed.Chart.Error) != "null" {
		return nil, &marketdata.SchemaError{
			Provider: SourceYahoo,
			Detail:   "chart error: " + string(parsed.Chart.Error),
		}
	}
	if len(parsed.Chart.Result) == 0 || len(parsed.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, &marketdata.SchemaError{Provider: SourceYahoo, Detail: "chart result empty for " + symbol}
	}

	result := parsed.Chart.Result[0]
	bars := result.Indicators.Quote[0]
	n := len(result.Timestamp)
	if len(bars.Open) != n || len(bars.High) != n || len(bars.Low) != n ||
		len(bars.Close) != n || len(bars.Volume) != n {
		return nil, &marketdata.SchemaError{
			Provider: SourceYahoo,
			Detail: fmt.Sprintf("chart arrays misaligned: %d timestamps, %d/%d/%d/%d/%d ohlcv",
				n, len(bars.Open), len(bars.High), len(bars.Low), len(bars.Close), len(bars.Volume)),
		}
	}

	candles := make([]models.Candle, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if bars.Open[i] == nil || bars.High[i] == nil || bars.Low[i] == nil || bars.Close[i] == nil {
			continue
		}
		c := models.Candle{
			TimestampUTC: time.Unix(ts, 0).UTC(),
			Open:         *bars.Open[i],
			High:         *bars.High[i],
			Low:          *bars.Low[i],
			Close:        *bars.Close[i],
		}
		if bars.Volume[i] != nil {
			c.Volume = *bars.Volume[i]
		}
		candles = append(candles, c)
	}
	marketdata.SortCandles(candles)
	return candles, nil
}

// FetchSectorPerformance averages change percent per configured sector
// from one batch quote of the sector members.
func (y *Yahoo) FetchSectorPerformance(ctx context.Context) ([]models.SectorPerformance, error) {
	quotes, err := y.fetchQuotes(ctx, y.watchlist)
	if err != nil {
		return nil, err
	}
	return marketdata.SectorsFromQuotes(y.sectorMap, quotes, SourceYahoo), nil
}

// FetchMovers ranks the watchlist by change percent and volume.
func (y *Yahoo) FetchMovers(ctx context.Context) (models.MoverSet, error) {
	quotes, err := y.fetchQuotes(ctx, y.watchlist)
	if err != nil {
		return models.MoverSet{}, err
	}
	return marketdata.BuildMoverSet(quotes), nil
}

// formatSymbol adds the NSE suffix Yahoo expects.
func (y *Yahoo) formatSymbol(symbol string) string {
	s := strings.ToUpper(symbol)
	if strings.Contains(s, ".") || strings.HasPrefix(s, "^") {
		return s
	}
	return s + ".NS"
}

// canonicalSymbol strips the wire suffix back off.
func (y *Yahoo) canonicalSymbol(symbol string) string {
	return strings.TrimSuffix(strings.ToUpper(symbol), ".NS")
}

// get performs one unauthenticated GET request.
func (y *Yahoo) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := y.http.Do(req)
	if err != nil {
		return nil, &marketdata.NetworkError{Provider: SourceYahoo, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		// Yahoo has no auth to expire; 401/403 here means throttling
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, &marketdata.RateLimitError{Provider: SourceYahoo}
		}
		return nil, classifyStatus(SourceYahoo, resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &marketdata.NetworkError{Provider: SourceYahoo, Err: err}
	}
	return raw, nil
}
