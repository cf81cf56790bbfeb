package marketdata

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCompare_ReportsDeviationFromPrimary(t *testing.T) {
	primary := healthyAdapter("angelone", 100)
	secondary := healthyAdapter("twelvedata", 102)
	r := NewComparisonReporter([]SourceAdapter{primary, secondary}, "angelone", time.Second, 1.0, nil)

	report := r.Compare(context.Background(), "RELIANCE")

	require.Equal(t, "RELIANCE", report.Symbol)
	require.Equal(t, "angelone", report.Primary)
	require.Len(t, report.Sources, 2)

	prim := report.Sources["angelone"]
	require.NotNil(t, prim.Quote)
	require.Nil(t, prim.DeviationPercent, "the primary has no deviation from itself")

	sec := report.Sources["twelvedata"]
	require.NotNil(t, sec.Quote)
	require.NotNil(t, sec.DeviationPercent)
	require.InDelta(t, 2.0, *sec.DeviationPercent, 1e-9)
	require.True(t, sec.DeviationAlert, "2% exceeds the 1% alert threshold")
}

func TestCompare_SmallDeviationDoesNotAlert(t *testing.T) {
	primary := healthyAdapter("angelone", 1000)
	secondary := healthyAdapter("yahoo", 1005)
	r := NewComparisonReporter([]SourceAdapter{primary, secondary}, "angelone", time.Second, 1.0, nil)

	report := r.Compare(context.Background(), "TCS")

	sec := report.Sources["yahoo"]
	require.NotNil(t, sec.DeviationPercent)
	require.InDelta(t, 0.5, *sec.DeviationPercent, 1e-9)
	require.False(t, sec.DeviationAlert)
}

func TestCompare_SlowAdapterIsMarkedTimedOut(t *testing.T) {
	primary := healthyAdapter("angelone", 100)
	slow := healthyAdapter("yahoo", 101)
	slow.delay = 500 * time.Millisecond
	r := NewComparisonReporter([]SourceAdapter{primary, slow}, "angelone", 100*time.Millisecond, 1.0, nil)

	start := time.Now()
	report := r.Compare(context.Background(), "INFY")
	require.Less(t, time.Since(start), 400*time.Millisecond, "one slow adapter must not delay the response")

	require.NotNil(t, report.Sources["angelone"].Quote)
	require.Nil(t, report.Sources["angelone"].DeviationPercent)

	yahoo := report.Sources["yahoo"]
	require.True(t, yahoo.TimedOut)
	require.Nil(t, yahoo.Quote)
	require.Nil(t, yahoo.DeviationPercent, "deviations only cover sources that completed")
}

func TestCompare_FailedPrimarySuppressesDeviations(t *testing.T) {
	primary := failingAdapter("angelone", &NetworkError{Provider: "angelone", Err: context.DeadlineExceeded})
	secondary := healthyAdapter("twelvedata", 102)
	r := NewComparisonReporter([]SourceAdapter{primary, secondary}, "angelone", time.Second, 1.0, nil)

	report := r.Compare(context.Background(), "SBIN")

	require.NotEmpty(t, report.Sources["angelone"].Error)
	require.Nil(t, report.Sources["twelvedata"].DeviationPercent)
}

func TestCompare_FailedSourceCarriesErrorText(t *testing.T) {
	primary := healthyAdapter("angelone", 100)
	broken := failingAdapter("twelvedata", &SchemaError{Provider: "twelvedata", Detail: "missing close field"})
	r := NewComparisonReporter([]SourceAdapter{primary, broken}, "angelone", time.Second, 1.0, nil)

	report := r.Compare(context.Background(), "ITC")

	td := report.Sources["twelvedata"]
	require.Nil(t, td.Quote)
	require.Contains(t, td.Error, "missing close field")
	require.False(t, td.TimedOut)
}

type recordingSink struct {
	mu      sync.Mutex
	reports []ComparisonReport
	saved   chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{saved: make(chan struct{}, 8)}
}

func (s *recordingSink) SaveReport(ctx context.Context, report ComparisonReport) error {
	s.mu.Lock()
	s.reports = append(s.reports, report)
	s.mu.Unlock()
	s.saved <- struct{}{}
	return nil
}

func TestCompare_ArchivesReportThroughSink(t *testing.T) {
	sink := newRecordingSink()
	primary := healthyAdapter("angelone", 100)
	r := NewComparisonReporter([]SourceAdapter{primary}, "angelone", time.Second, 1.0, sink)

	r.Compare(context.Background(), "RELIANCE")

	select {
	case <-sink.saved:
	case <-time.After(2 * time.Second):
		t.Fatal("report was not archived")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.reports, 1)
	require.Equal(t, "RELIANCE", sink.reports[0].Symbol)
}
