package marketdata

import (
	"context"
	"fmt"
	"sort"
	"time"

	"tradermind_backend/models"
)

// Range is the lookback period for historical candles.
type Range string

// Interval is the candle granularity.
type Interval string

const (
	RangeDay   Range = "day"
	RangeWeek  Range = "week"
	RangeMonth Range = "month"

	IntervalMinute Interval = "minute"
	IntervalHour   Interval = "hour"
	IntervalDay    Interval = "day"
)

// ParseRange validates a range query parameter.
func ParseRange(s string) (Range, error) {
	switch Range(s) {
	case RangeDay, RangeWeek, RangeMonth:
		return Range(s), nil
	}
	return "", fmt.Errorf("invalid range %q (expected day, week or month)", s)
}

// ParseInterval validates an interval query parameter.
func ParseInterval(s string) (Interval, error) {
	switch Interval(s) {
	case IntervalMinute, IntervalHour, IntervalDay:
		return Interval(s), nil
	}
	return "", fmt.Errorf("invalid interval %q (expected minute, hour or day)", s)
}

// RangeLookback returns the wall-clock lookback window for a range.
func RangeLookback(r Range) time.Duration {
	switch r {
	case RangeWeek:
		return 7 * 24 * time.Hour
	case RangeMonth:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// SortCandles orders candles oldest-first in place.
func SortCandles(candles []models.Candle) {
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].TimestampUTC.Before(candles[j].TimestampUTC)
	})
}

// SourceAdapter translates one provider's API into the canonical data
// model. Implementations attach their own auth, map timestamps to UTC
// and raise the typed errors from errors.go instead of provider-specific
// ones. Candle sequences are returned oldest-first.
type SourceAdapter interface {
	Name() string
	FetchQuote(ctx context.Context, symbol string) (models.Quote, error)
	FetchHistorical(ctx context.Context, symbol string, r Range, iv Interval) ([]models.Candle, error)
	FetchSectorPerformance(ctx context.Context) ([]models.SectorPerformance, error)
	FetchMovers(ctx context.Context) (models.MoverSet, error)
}
