package marketdata

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"tradermind_backend/models"
)

// SourceResult is one adapter's outcome within a comparison report.
type SourceResult struct {
	Quote            *models.Quote `json:"quote,omitempty"`
	Error            string        `json:"error,omitempty"`
	TimedOut         bool          `json:"timed_out,omitempty"`
	DeviationPercent *float64      `json:"deviation_percent,omitempty"`
	DeviationAlert   bool          `json:"deviation_alert,omitempty"`
}

// ComparisonReport maps each source tag to its result plus the
// pairwise deviation of each secondary from the primary's price.
type ComparisonReport struct {
	Symbol      string                   `json:"symbol"`
	Primary     string                   `json:"primary"`
	GeneratedAt time.Time                `json:"generated_at"`
	Sources     map[string]*SourceResult `json:"sources"`
}

// ReportSink archives comparison reports. Implementations must be safe
// for concurrent use; a nil sink disables archiving.
type ReportSink interface {
	SaveReport(ctx context.Context, report ComparisonReport) error
}

// ReportArchive is a queryable ReportSink. Implemented by
// MongoReportStore; nil on an Engine means no archive is configured.
type ReportArchive interface {
	ReportSink
	RecentReports(ctx context.Context, symbol string, limit int64) ([]ComparisonReport, error)
	Close(ctx context.Context) error
}

// ComparisonReporter fans one quote request out to every adapter
// concurrently under a shared deadline and reports per-source results
// with deviation metrics.
type ComparisonReporter struct {
	adapters []SourceAdapter
	primary  string
	deadline time.Duration
	alertPct float64
	sink     ReportSink

	// now is replaceable in tests
	now func() time.Time
}

// NewComparisonReporter creates a reporter over the same adapter set as
// the orchestrator. alertPct flags deviations whose magnitude exceeds
// it; sink may be nil.
func NewComparisonReporter(adapters []SourceAdapter, primaryName string, deadline time.Duration, alertPct float64, sink ReportSink) *ComparisonReporter {
	if deadline <= 0 {
		deadline = 8 * time.Second
	}
	return &ComparisonReporter{
		adapters: adapters,
		primary:  primaryName,
		deadline: deadline,
		alertPct: alertPct,
		sink:     sink,
		now:      time.Now,
	}
}

type fanoutResult struct {
	name  string
	quote models.Quote
	err   error
}

// Compare queries every adapter for symbol at once. Sources that do not
// answer before the shared deadline are reported as timed out; one slow
// adapter never delays the rest of the response.
func (r *ComparisonReporter) Compare(ctx context.Context, symbol string) ComparisonReport {
	fanCtx, cancel := context.WithTimeout(ctx, r.deadline)
	defer cancel()

	results := make(chan fanoutResult, len(r.adapters))
	for _, a := range r.adapters {
		go func(a SourceAdapter) {
			q, err := a.FetchQuote(fanCtx, symbol)
			results <- fanoutResult{name: a.Name(), quote: q, err: err}
		}(a)
	}

	report := ComparisonReport{
		Symbol:      symbol,
		Primary:     r.primary,
		GeneratedAt: r.now().UTC(),
		Sources:     make(map[string]*SourceResult, len(r.adapters)),
	}

	pending := len(r.adapters)
collect:
	for pending > 0 {
		select {
		case res := <-results:
			pending--
			if res.err != nil {
				sr := &SourceResult{Error: res.err.Error()}
				if fanCtx.Err() == context.DeadlineExceeded {
					sr.TimedOut = true
				}
				report.Sources[res.name] = sr
				continue
			}
			q := res.quote
			report.Sources[res.name] = &SourceResult{Quote: &q}
		case <-fanCtx.Done():
			break collect
		}
	}

	// Anything still outstanding missed the shared deadline.
	for _, a := range r.adapters {
		if _, ok := report.Sources[a.Name()]; !ok {
			report.Sources[a.Name()] = &SourceResult{
				Error:    "no response before deadline",
				TimedOut: true,
			}
		}
	}

	r.computeDeviations(&report)

	if r.sink != nil {
		go func(rep ComparisonReport) {
			saveCtx, saveCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer saveCancel()
			if err := r.sink.SaveReport(saveCtx, rep); err != nil {
				log.Printf("Could not archive comparison report for %s: %v", rep.Symbol, err)
			}
		}(report)
	}

	return report
}

// computeDeviations fills in (secondary - primary) / primary * 100 for
// each completed secondary. Deviations are only computed when the
// primary itself completed.
func (r *ComparisonReporter) computeDeviations(report *ComparisonReport) {
	primRes, ok := report.Sources[r.primary]
	if !ok || primRes.Quote == nil || primRes.Quote.Price == 0 {
		return
	}
	primPrice := decimal.NewFromFloat(primRes.Quote.Price)

	for name, res := range report.Sources {
		if name == r.primary || res.Quote == nil {
			continue
		}
		secPrice := decimal.NewFromFloat(res.Quote.Price)
		dev, _ := secPrice.Sub(primPrice).
			Div(primPrice).
			Mul(decimal.NewFromInt(100)).
			Round(4).
			Float64()
		res.DeviationPercent = &dev
		if r.alertPct > 0 && math.Abs(dev) > r.alertPct {
			res.DeviationAlert = true
		}
	}
}
