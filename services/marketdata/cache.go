package marketdata

import (
	"log"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradermind_backend/models"
)

// QuoteCache keeps the single most recent good quote per symbol so a
// total outage can still serve stale-but-labeled data. Entries older
// than the TTL are unusable, not merely stale. Persistence through
// the sqlite database is optional and best-effort.
type QuoteCache struct {
	ttl time.Duration
	db  *gorm.DB

	mu      sync.RWMutex
	entries map[string]models.CachedQuote

	// now is replaceable in tests
	now func() time.Time
}

// NewQuoteCache creates a quote cache, loading any persisted rows when
// a database is provided.
func NewQuoteCache(ttl time.Duration, db *gorm.DB) *QuoteCache {
	c := &QuoteCache{
		ttl:     ttl,
		db:      db,
		entries: make(map[string]models.CachedQuote),
		now:     time.Now,
	}

	if db != nil {
		var rows []models.CachedQuote
		if err := db.Find(&rows).Error; err != nil {
			log.Printf("Could not load persisted quote cache: %v", err)
		} else {
			for _, row := range rows {
				c.entries[row.Symbol] = row
			}
			if len(rows) > 0 {
				log.Printf("Loaded %d cached quotes from database", len(rows))
			}
		}
	}

	return c
}

// Put records a freshly fetched quote as the last good value for its
// symbol.
func (c *QuoteCache) Put(q models.Quote) {
	row := models.FromQuote(q, c.now())
	c.mu.Lock()
	c.entries[q.Symbol] = row
	c.mu.Unlock()
}

// GetStale returns the cached quote for symbol marked stale with its
// age, or false when there is no entry or the entry is past the TTL.
func (c *QuoteCache) GetStale(symbol string) (models.Quote, bool) {
	c.mu.RLock()
	row, ok := c.entries[symbol]
	c.mu.RUnlock()
	if !ok {
		return models.Quote{}, false
	}

	now := c.now()
	if now.Sub(row.FetchedAt) > c.ttl {
		return models.Quote{}, false
	}
	return row.ToQuote(now), true
}

// Len returns the number of cached symbols.
func (c *QuoteCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Flush persists the in-memory entries to the database. No-op without
// a database.
func (c *QuoteCache) Flush() error {
	if c.db == nil {
		return nil
	}

	c.mu.RLock()
	rows := make([]models.CachedQuote, 0, len(c.entries))
	for _, row := range c.entries {
		rows = append(rows, row)
	}
	c.mu.RUnlock()

	if len(rows) == 0 {
		return nil
	}

	err := c.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
	if err != nil {
		return err
	}
	return nil
}

// Prune drops entries past the TTL from memory and, when persisted,
// from the database.
func (c *QuoteCache) Prune() int {
	cutoff := c.now().Add(-c.ttl)

	c.mu.Lock()
	removed := 0
	for symbol, row := range c.entries {
		if row.FetchedAt.Before(cutoff) {
			delete(c.entries, symbol)
			removed++
		}
	}
	c.mu.Unlock()

	if c.db != nil {
		if err := c.db.Where("fetched_at < ?", cutoff).Delete(&models.CachedQuote{}).Error; err != nil {
			log.Printf("Could not prune persisted quote cache: %v", err)
		}
	}
	return removed
}
