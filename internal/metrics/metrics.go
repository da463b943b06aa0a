package metrics

import (
	"errors"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK    atomic.Bool
	gatherer atomic.Value // prometheus.Gatherer of the registry passed to Register

	reclaimProcesses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sysmaint",
			Subsystem: "reclaim",
			Name:      "processes_total",
			Help:      "Processes seen by working-set reclamation, by outcome.",
		}, []string{"outcome"},
	)
	reclaimFreed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sysmaint",
			Subsystem: "reclaim",
			Name:      "freed_bytes_total",
			Help:      "Working-set bytes observed freed by trims.",
		},
	)
	purgeRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sysmaint",
			Subsystem: "purge",
			Name:      "requests_total",
			Help:      "Kernel memory-list purge requests, by list and outcome.",
		}, []string{"list", "outcome"},
	)
	privilegeEnabled = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sysmaint",
			Subsystem: "privilege",
			Name:      "enabled",
			Help:      "Whether a token privilege was enabled in the last pass (1) or not (0).",
		}, []string{"name"},
	)
	stageRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sysmaint",
			Subsystem: "diag",
			Name:      "stage_runs_total",
			Help:      "Diagnostic stage executions, by stage and outcome.",
		}, []string{"stage", "outcome"},
	)
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sysmaint",
			Subsystem: "diag",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each diagnostic stage.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		}, []string{"stage"},
	)
	passDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sysmaint",
			Name:      "pass_duration_seconds",
			Help:      "Wall time of a full maintenance pass.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
// When r is also a Gatherer it becomes the source for WriteTextfile.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{reclaimProcesses, reclaimFreed, purgeRequests, privilegeEnabled, stageRuns, stageDuration, passDuration}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	if g, ok := r.(prometheus.Gatherer); ok {
		gatherer.Store(g)
	}
	regOK.Store(true)
	return nil
}

// WriteTextfile writes the registered metrics in the node_exporter textfile
// format. The tool runs once and exits, so this replaces a scrape endpoint.
func WriteTextfile(path string) error {
	if !regOK.Load() {
		return errors.New("metrics not registered")
	}
	g, _ := gatherer.Load().(prometheus.Gatherer)
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return prometheus.WriteToTextfile(path, g)
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func ObserveTrim(outcome string, freed uint64) {
	if regOK.Load() {
		reclaimProcesses.WithLabelValues(outcome).Inc()
		if freed > 0 {
			reclaimFreed.Add(float64(freed))
		}
	}
}

func ObservePurge(list, outcome string) {
	if regOK.Load() {
		purgeRequests.WithLabelValues(list, outcome).Inc()
	}
}

func SetPrivilege(name string, enabled bool) {
	if regOK.Load() {
		var value float64 = 0
		if enabled {
			value = 1
		}
		privilegeEnabled.WithLabelValues(name).Set(value)
	}
}

func ObserveStage(stage, outcome string, seconds float64) {
	if regOK.Load() {
		stageRuns.WithLabelValues(stage, outcome).Inc()
		stageDuration.WithLabelValues(stage).Observe(seconds)
	}
}

func ObservePass(seconds float64) {
	if regOK.Load() {
		passDuration.Observe(seconds)
	}
}
