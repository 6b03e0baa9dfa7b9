// Package metrics holds the Prometheus collectors. Counters are incremented
// from the dispatcher and worker; core packages stay metrics-free so they
// can be reused without dragging a registry along.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var Verifications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "mailreach",
		Name:      "verifications_total",
		Help:      "Completed verifications by deciding tier and reachability",
	},
	[]string{"tier", "reachability"},
)

var ProbeDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "mailreach",
		Name:      "smtp_probe_duration_seconds",
		Help:      "Wall time of SMTP probe conversations",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
	},
	[]string{"outcome"},
)

var CacheLookups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "mailreach",
		Name:      "cache_lookups_total",
		Help:      "Verdict store and domain facts lookups by result",
	},
	[]string{"cache", "result"},
)

var JobTasks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "mailreach",
		Name:      "job_tasks_total",
		Help:      "Background queue tasks by kind and final status",
	},
	[]string{"kind", "status"},
)

var BufferedWrites = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "mailreach",
		Name:      "store_buffered_writes",
		Help:      "Verdicts waiting for the store to come back",
	},
)

func init() {
	prometheus.MustRegister(Verifications)
	prometheus.MustRegister(ProbeDuration)
	prometheus.MustRegister(CacheLookups)
	prometheus.MustRegister(JobTasks)
	prometheus.MustRegister(BufferedWrites)
}

// RegisterInFlight exposes the global SMTP limiter's occupancy as a gauge.
// Called once at startup, after the limiter exists.
func RegisterInFlight(fn func() int) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "mailreach",
			Name:      "smtp_inflight_probes",
			Help:      "SMTP probe slots currently held",
		},
		func() float64 { return float64(fn()) },
	))
}

// ObserveProbe records one probe conversation.
func ObserveProbe(outcome string, d time.Duration) {
	ProbeDuration.WithLabelValues(outcome).Observe(d.Seconds())
}
