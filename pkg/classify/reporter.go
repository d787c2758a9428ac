package classify

import (
	"sync"
	"time"

	"github.com/cuemby/trail/pkg/log"
	"github.com/cuemby/trail/pkg/metrics"
	"github.com/rs/zerolog"
)

// DefaultReportWindow is how long a fatal signature stays suppressed
const DefaultReportWindow = 30 * time.Minute

// Reporter records fatal failures for diagnostics, at most once per
// signature per window
type Reporter struct {
	window time.Duration
	now    func() time.Time
	logger zerolog.Logger

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewReporter creates a reporter with the given suppression window
func NewReporter(window time.Duration) *Reporter {
	if window <= 0 {
		window = DefaultReportWindow
	}
	return &Reporter{
		window: window,
		now:    time.Now,
		logger: log.WithComponent("diagnostics"),
		seen:   make(map[string]time.Time),
	}
}

// WithClock replaces the reporter's clock
func (r *Reporter) WithClock(now func() time.Time) *Reporter {
	r.now = now
	return r
}

// Report logs a fatal classification unless the same signature was
// reported within the window. Non-fatal classifications are ignored.
// It returns true if a report was emitted.
func (r *Reporter) Report(c Classification, err error) bool {
	if c.Class != Fatal {
		return false
	}

	now := r.now()

	r.mu.Lock()
	last, ok := r.seen[c.Signature]
	if ok && now.Sub(last) < r.window {
		r.mu.Unlock()
		metrics.FatalReports.WithLabelValues("true").Inc()
		return false
	}
	r.seen[c.Signature] = now
	r.prune(now)
	r.mu.Unlock()

	metrics.FatalReports.WithLabelValues("false").Inc()
	r.logger.Error().
		Err(err).
		Int("status", c.Status).
		Str("signature", c.Signature).
		Msg("Unexpected delivery failure")
	return true
}

// prune drops expired signatures; caller holds mu
func (r *Reporter) prune(now time.Time) {
	for sig, at := range r.seen {
		if now.Sub(at) >= r.window {
			delete(r.seen, sig)
		}
	}
}
