package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsTotal tracks live sessions in the tracker's derived state.
	SessionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "routeward_sessions_total",
			Help: "Number of live sessions in the tracker's derived state",
		},
	)

	// RoutesTotal tracks live topic routes, by direction.
	RoutesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "routeward_routes_total",
			Help: "Number of live topic routes by direction",
		},
		[]string{"direction"},
	)

	// PendingCommandsTotal tracks outstanding admin commands awaiting
	// success, by op.
	PendingCommandsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "routeward_pending_commands_total",
			Help: "Number of pending admin commands by operation",
		},
		[]string{"op"},
	)

	// CommandSendsTotal counts every admin send attempt, by op and
	// outcome (success, failure, timeout).
	CommandSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routeward_command_sends_total",
			Help: "Total admin command send attempts by op and outcome",
		},
		[]string{"op", "outcome"},
	)

	// CommandRetriesTotal counts retry attempts beyond the first send,
	// by op.
	CommandRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routeward_command_retries_total",
			Help: "Total admin command retries by op",
		},
		[]string{"op"},
	)

	// CommandSendDuration measures round-trip latency of admin sends.
	CommandSendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "routeward_command_send_duration_seconds",
			Help:    "Admin command send round-trip duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// DispatchQueueDepth tracks how many listener events are queued in
	// the tracker's ordered dispatcher.
	DispatchQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "routeward_dispatch_queue_depth",
			Help: "Number of listener events queued in the tracker's dispatcher",
		},
	)

	// DispatchDroppedTotal counts events dropped because the dispatcher
	// queue overflowed.
	DispatchDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "routeward_dispatch_dropped_total",
			Help: "Total listener events dropped due to dispatcher queue overflow",
		},
	)

	// FilteredEventsTotal counts discovery events suppressed by the
	// filter chain, by reason.
	FilteredEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routeward_filtered_events_total",
			Help: "Total discovery events suppressed by the filter chain, by filter",
		},
		[]string{"filter"},
	)
)

func init() {
	prometheus.MustRegister(
		SessionsTotal,
		RoutesTotal,
		PendingCommandsTotal,
		CommandSendsTotal,
		CommandRetriesTotal,
		CommandSendDuration,
		DispatchQueueDepth,
		DispatchDroppedTotal,
		FilteredEventsTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
