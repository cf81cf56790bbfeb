package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"tradermind_backend/services/marketdata"
)

// Scheduler manages background jobs: watchlist cache warm-up, session
// renewal and quote cache housekeeping.
type Scheduler struct {
	cron      *gocron.Scheduler
	engine    *marketdata.Engine
	watchlist []string
}

// NewScheduler creates a new scheduler instance
func NewScheduler(engine *marketdata.Engine, watchlist []string) *Scheduler {
	return &Scheduler{
		cron:      gocron.NewScheduler(time.UTC),
		engine:    engine,
		watchlist: watchlist,
	}
}

// Start starts all scheduled jobs
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	// Warm the last-good quote cache every minute during trading hours
	// so an outage always has something recent to serve
	s.cron.Every(1).Minute().Do(func() {
		if isMarketOpen() {
			s.warmWatchlist()
		}
	})

	// Renew the provider session ahead of expiry; GetValidToken is a
	// no-op while the cached token is outside the renewal margin
	s.cron.Every(30).Minutes().Do(func() {
		s.renewSession()
	})

	// Persist the in-memory cache periodically
	s.cron.Every(10).Minutes().Do(func() {
		if err := s.engine.Cache.Flush(); err != nil {
			log.Printf("Error flushing quote cache: %v", err)
		}
	})

	// Drop entries past the TTL daily after market close
	s.cron.Every(1).Day().At("17:00").Do(func() {
		removed := s.engine.Cache.Prune()
		if removed > 0 {
			log.Printf("Pruned %d expired cached quotes", removed)
		}
	})

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// warmWatchlist refreshes the cached quote for every watchlist symbol
func (s *Scheduler) warmWatchlist() {
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	fetched := 0
	for _, symbol := range s.watchlist {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.engine.Orchestrator.GetQuote(ctx, symbol); err != nil {
			log.Printf("Error warming quote for %s: %v", symbol, err)
			continue
		}
		fetched++
	}
	log.Printf("Warmed quote cache for %d/%d watchlist symbols", fetched, len(s.watchlist))
}

// renewSession refreshes the primary session when it nears expiry
func (s *Scheduler) renewSession() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.engine.Sessions.GetValidToken(ctx); err != nil {
		log.Printf("Error renewing provider session: %v", err)
	}
}

// isMarketOpen checks NSE trading hours (09:15-15:30 IST, Mon-Fri)
func isMarketOpen() bool {
	ist := time.FixedZone("IST", 5*3600+30*60)
	now := time.Now().In(ist)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false
	}

	minutes := now.Hour()*60 + now.Minute()
	return minutes >= 9*60+15 && minutes <= 15*60+30
}
