package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tradermind_backend/models"
)

func TestQuoteCache_PutAndGetStale(t *testing.T) {
	c := NewQuoteCache(2*time.Minute, nil)
	quotedAt := time.Now().UTC().Add(-10 * time.Second)
	c.Put(models.Quote{
		Symbol:       "RELIANCE",
		Price:        2950.50,
		TimestampUTC: quotedAt,
		SourceTag:    "angelone",
	})

	c.now = func() time.Time { return time.Now().Add(45 * time.Second) }

	q, ok := c.GetStale("RELIANCE")
	require.True(t, ok)
	require.True(t, q.Stale)
	require.Equal(t, int64(45), q.StaleAgeSeconds)
	require.Equal(t, "angelone", q.SourceTag)
	require.Equal(t, quotedAt, q.TimestampUTC, "the quote keeps its original market timestamp")
}

func TestQuoteCache_MissingSymbol(t *testing.T) {
	c := NewQuoteCache(2*time.Minute, nil)
	_, ok := c.GetStale("TCS")
	require.False(t, ok)
}

func TestQuoteCache_EntryPastTTLIsUnusable(t *testing.T) {
	c := NewQuoteCache(2*time.Minute, nil)
	c.Put(models.Quote{Symbol: "TCS", Price: 4100})

	c.now = func() time.Time { return time.Now().Add(3 * time.Minute) }

	_, ok := c.GetStale("TCS")
	require.False(t, ok)
}

func TestQuoteCache_PutReplacesOlderEntry(t *testing.T) {
	c := NewQuoteCache(2*time.Minute, nil)
	c.Put(models.Quote{Symbol: "INFY", Price: 1500})
	c.Put(models.Quote{Symbol: "INFY", Price: 1510})

	require.Equal(t, 1, c.Len())
	q, ok := c.GetStale("INFY")
	require.True(t, ok)
	require.InDelta(t, 1510, q.Price, 1e-9)
}

func TestQuoteCache_PruneDropsExpiredEntries(t *testing.T) {
	c := NewQuoteCache(2*time.Minute, nil)
	c.Put(models.Quote{Symbol: "OLD", Price: 1})

	c.now = func() time.Time { return time.Now().Add(3 * time.Minute) }
	c.Put(models.Quote{Symbol: "FRESH", Price: 2})

	removed := c.Prune()
	require.Equal(t, 1, removed)
	require.Equal(t, 1, c.Len())

	_, ok := c.GetStale("FRESH")
	require.True(t, ok)
}

func TestQuoteCache_FlushWithoutDatabaseIsNoop(t *testing.T) {
	c := NewQuoteCache(2*time.Minute, nil)
	c.Put(models.Quote{Symbol: "SBIN", Price: 800})
	require.NoError(t, c.Flush())
}
