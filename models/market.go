package models

import (
	"time"

	"gorm.io/gorm"
)

// Quote represents a normalized realtime quote from any data source.
// SourceTag always names the adapter that actually produced the data.
type Quote struct {
	Symbol          string    `json:"symbol"`
	Price           float64   `json:"price"`
	ChangeAbsolute  float64   `json:"change_absolute"`
	ChangePercent   float64   `json:"change_percent"`
	Volume          int64     `json:"volume"`
	TimestampUTC    time.Time `json:"timestamp_utc"`
	SourceTag       string    `json:"source_tag"`
	Stale           bool      `json:"stale"`
	StaleAgeSeconds int64     `json:"stale_age_seconds,omitempty"`
}

// Candle represents one OHLCV bar. Sequences are ordered oldest-first.
type Candle struct {
	TimestampUTC time.Time `json:"timestamp_utc"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       int64     `json:"volume"`
}

// SectorPerformance represents aggregate performance of one sector.
type SectorPerformance struct {
	SectorName         string  `json:"sector_name"`
	PerformancePercent float64 `json:"performance_percent"`
	SourceTag          string  `json:"source_tag"`
}

// MoverSet groups the top gainers, losers and most active quotes.
type MoverSet struct {
	Gainers    []Quote `json:"gainers"`
	Losers     []Quote `json:"losers"`
	MostActive []Quote `json:"most_active"`
}

// AdapterHealth tracks failure state for one source adapter.
type AdapterHealth struct {
	SourceTag           string    `json:"source_tag"`
	CoolingDownUntil    time.Time `json:"cooling_down_until"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// CoolingDown reports whether the adapter should be skipped at t.
func (h AdapterHealth) CoolingDown(t time.Time) bool {
	return t.Before(h.CoolingDownUntil)
}

// Session holds the primary provider's authentication state.
type Session struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Valid reports whether the session token can still be used at t,
// keeping a renewal margin before the actual expiry.
func (s Session) Valid(t time.Time, renewalMargin time.Duration) bool {
	if s.Token == "" {
		return false
	}
	return t.Before(s.ExpiresAt.Add(-renewalMargin))
}

// CachedQuote is the persisted form of the last good quote per symbol.
// Only the single most recent quote is kept for each symbol.
type CachedQuote struct {
	Symbol         string    `gorm:"primaryKey;size:32" json:"symbol"`
	Price          float64   `json:"price"`
	ChangeAbsolute float64   `json:"change_absolute"`
	ChangePercent  float64   `json:"change_percent"`
	Volume         int64     `json:"volume"`
	QuotedAt       time.Time `json:"quoted_at"`
	SourceTag      string    `gorm:"size:32" json:"source_tag"`
	FetchedAt      time.Time `json:"fetched_at"`
}

// TableName overrides the default table name for cached quotes.
func (CachedQuote) TableName() string {
	return "quote_cache"
}

// ToQuote rebuilds a Quote from a cached row, marking it stale.
func (cq CachedQuote) ToQuote(now time.Time) Quote {
	age := int64(now.Sub(cq.FetchedAt).Seconds())
	if age < 0 {
		age = 0
	}
	return Quote{
		Symbol:          cq.Symbol,
		Price:           cq.Price,
		ChangeAbsolute:  cq.ChangeAbsolute,
		ChangePercent:   cq.ChangePercent,
		Volume:          cq.Volume,
		TimestampUTC:    cq.QuotedAt,
		SourceTag:       cq.SourceTag,
		Stale:           true,
		StaleAgeSeconds: age,
	}
}

// FromQuote builds a cache row from a freshly fetched quote.
func FromQuote(q Quote, fetchedAt time.Time) CachedQuote {
	return CachedQuote{
		Symbol:         q.Symbol,
		Price:          q.Price,
		ChangeAbsolute: q.ChangeAbsolute,
		ChangePercent:  q.ChangePercent,
		Volume:         q.Volume,
		QuotedAt:       q.TimestampUTC,
		SourceTag:      q.SourceTag,
		FetchedAt:      fetchedAt,
	}
}

// MigrateMarketModels runs migrations for market data models.
func MigrateMarketModels(db *gorm.DB) error {
	return db.AutoMigrate(&CachedQuote{})
}
