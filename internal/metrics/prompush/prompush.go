// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// The sink is a long-running worker without a scrape endpoint, so collectors
// live in a private registry that is pushed to a Pushgateway on Flush. The
// "job" label travels as the Pushgateway grouping key rather than as a metric
// label.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"tablesink/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	cycleCounter  *prometheus.CounterVec // sink_cycles_total{status}
	cycleDuration *prometheus.SummaryVec // sink_cycle_duration_seconds{status}
	recordCounter *prometheus.CounterVec // sink_records_total{kind}
	reloadCounter *prometheus.CounterVec // sink_reloads_total{status}
}

// NewBackend constructs a Prometheus Pushgateway backend.
// jobName: the Pushgateway "job" name, usually the sink name.
// gatewayURL: base URL of the Pushgateway server.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "tablesink"
	}

	reg := prometheus.NewRegistry()

	cycleCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.CyclesTotal,
			Help: "Write cycles finished, partitioned by outcome (ready, backoff, failed).",
		},
		[]string{"status"},
	)
	cycleDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       metrics.CycleDurationSeconds,
			Help:       "Duration of write cycles in seconds, partitioned by outcome.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"status"},
	)
	recordCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Record counts per kind (taken, rejected, unknown_table, malformed, inserted).",
		},
		[]string{"kind"},
	)
	reloadCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.ReloadsTotal,
			Help: "Schema reload attempts, partitioned by status.",
		},
		[]string{"status"},
	)

	for name, c := range map[string]prometheus.Collector{
		"cycle counter":  cycleCounter,
		"cycle summary":  cycleDuration,
		"record counter": recordCounter,
		"reload counter": reloadCounter,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}

	return &Backend{
		gatewayURL:    gatewayURL,
		jobName:       jobName,
		reg:           reg,
		cycleCounter:  cycleCounter,
		cycleDuration: cycleDuration,
		recordCounter: recordCounter,
		reloadCounter: reloadCounter,
	}, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.CyclesTotal:
		if b.cycleCounter == nil {
			return
		}
		b.cycleCounter.WithLabelValues(labels["status"]).Add(delta)

	case metrics.RecordsTotal:
		if b.recordCounter == nil {
			return
		}
		b.recordCounter.WithLabelValues(labels["kind"]).Add(delta)

	case metrics.ReloadsTotal:
		if b.reloadCounter == nil {
			return
		}
		b.reloadCounter.WithLabelValues(labels["status"]).Add(delta)

	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.CycleDurationSeconds || b.cycleDuration == nil {
		return
	}
	b.cycleDuration.WithLabelValues(labels["status"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
