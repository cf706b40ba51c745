package pkgproxy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProviderOps counts provider operations.
	// Labels: op (get_module, get_attr, set_attr, create_object, call), result (ok, not_found, error)
	ProviderOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pkgproxy",
			Subsystem: "provider",
			Name:      "operations_total",
			Help:      "Total number of provider protocol operations",
		},
		[]string{"op", "result"},
	)

	// ProviderOpDuration tracks how long provider operations take.
	// Labels: op
	ProviderOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pkgproxy",
			Subsystem: "provider",
			Name:      "operation_duration_seconds",
			Help:      "Duration of provider protocol operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// HandlesLive is the number of entries currently held by handle tables.
	// Labels: kind (module, class, instance, callable, value)
	HandlesLive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pkgproxy",
			Subsystem: "handles",
			Name:      "live",
			Help:      "Number of live handles by object kind",
		},
		[]string{"kind"},
	)

	// HandlesReleased counts handles removed by explicit release or TTL sweep.
	// Labels: reason (release, sweep)
	HandlesReleased = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pkgproxy",
			Subsystem: "handles",
			Name:      "released_total",
			Help:      "Total number of handles released",
		},
		[]string{"reason"},
	)

	// RealImports counts real imports performed inside the isolation section.
	// Labels: result (ok, error)
	RealImports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pkgproxy",
			Subsystem: "isolation",
			Name:      "imports_total",
			Help:      "Total number of real imports performed by the provider",
		},
		[]string{"result"},
	)

	// RetaggedModules counts registry entries moved under the remote prefix.
	RetaggedModules = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pkgproxy",
			Subsystem: "isolation",
			Name:      "retagged_modules_total",
			Help:      "Total number of module registry entries retagged after a real import",
		},
	)

	// ProxiesSynthesized counts proxies built by the synthesis engine.
	// Labels: kind (module, class, callable)
	ProxiesSynthesized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pkgproxy",
			Subsystem: "synthesis",
			Name:      "proxies_total",
			Help:      "Total number of proxies synthesized",
		},
		[]string{"kind"},
	)
)

// recordOp records the outcome and latency of one provider operation.
func recordOp(op string, start time.Time, err error) {
	ProviderOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		ProviderOps.WithLabelValues(op, "ok").Inc()
	case isNotFound(err):
		ProviderOps.WithLabelValues(op, "not_found").Inc()
	default:
		ProviderOps.WithLabelValues(op, "error").Inc()
	}
}

// recordImport records the outcome of one real import.
func recordImport(err error) {
	if err != nil {
		RealImports.WithLabelValues("error").Inc()
		return
	}
	RealImports.WithLabelValues("ok").Inc()
}
