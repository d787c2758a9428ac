package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func histogramCount(t *testing.T, o prometheus.Observer) (uint64, float64) {
	t.Helper()
	m, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("%T is not a metric", o)
	}
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("failed to read histogram: %v", err)
	}
	return out.GetHistogram().GetSampleCount(), out.GetHistogram().GetSampleSum()
}

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	if d := timer.Duration(); d < 0 || d > time.Second {
		t.Fatalf("fresh timer reported %v", d)
	}

	time.Sleep(20 * time.Millisecond)
	first := timer.Duration()
	if first < 20*time.Millisecond {
		t.Errorf("Duration() = %v, want >= 20ms", first)
	}

	time.Sleep(5 * time.Millisecond)
	if second := timer.Duration(); second <= first {
		t.Errorf("Duration() went backwards: %v then %v", first, second)
	}
}

func TestTimerObserveDuration(t *testing.T) {
	flush := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_flush_duration_seconds",
		Help:    "Flush latency used by the timer test",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDuration(flush)

	count, sum := histogramCount(t, flush)
	if count != 1 {
		t.Errorf("sample count = %d, want 1", count)
	}
	if sum < 0.01 {
		t.Errorf("sample sum = %v, want >= 0.01s", sum)
	}
}

func TestFlushDurationIsRegistered(t *testing.T) {
	before, _ := histogramCount(t, FlushDuration)
	NewTimer().ObserveDuration(FlushDuration)
	after, _ := histogramCount(t, FlushDuration)

	if after != before+1 {
		t.Errorf("FlushDuration count = %d, want %d", after, before+1)
	}
}
