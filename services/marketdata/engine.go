package marketdata

// Engine bundles the aggregation subsystem: session lifecycle,
// fallback orchestration, cross-source comparison and the last-good
// quote cache. One Engine instance is created at startup and passed to
// every consumer; there is no package-level engine state.
type Engine struct {
	Sessions     *SessionManager
	Orchestrator *FallbackOrchestrator
	Reporter     *ComparisonReporter
	Cache        *QuoteCache

	// Reports is nil when no archive backend is configured.
	Reports ReportArchive
}
