/*
Package metrics provides Prometheus metrics and health reporting for trail.

All metrics are registered on the default registry at init and exposed by the
admin API on /metrics. They fall into four groups:

	Sampler:    trail_samples_accepted_total, trail_samples_dropped_total{reason},
	            trail_samples_implausible_total
	Queue:      trail_queue_depth, trail_queue_evicted_total
	Sync:       trail_flushes_total{outcome}, trail_flush_duration_seconds,
	            trail_entries_delivered_total, trail_entries_discarded_total
	Auth:       trail_auth_state{state}, trail_token_refreshes_total{result},
	            trail_fatal_reports_total{suppressed}

Counters are updated inline by the component that owns the event. Gauges that
reflect stored state (queue depth, auth state) are refreshed by a Collector
every 15 seconds so they stay correct across restarts.

The health half of the package tracks named components. Readiness requires the
"queue" and "tracker" components to be registered and healthy.

# Usage

	timer := metrics.NewTimer()
	result := engine.Flush(ctx, 25)
	timer.ObserveDuration(metrics.FlushDuration)
	metrics.FlushesTotal.WithLabelValues(string(result.Outcome)).Inc()
*/
package metrics
