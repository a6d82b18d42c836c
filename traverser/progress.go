package traverser

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	states      prometheus.Gauge
	transitions prometheus.Counter
	faults      prometheus.Counter
	inFlight    prometheus.Gauge
	duration    prometheus.Histogram
}

// Create the metrics of a traversal. A nil registerer creates unregistered metrics.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		states: f.NewGauge(prometheus.GaugeOpts{
			Name: "probmc_traversal_states",
			Help: "Number of distinct states discovered",
		}),
		transitions: f.NewCounter(prometheus.CounterOpts{
			Name: "probmc_traversal_transitions_total",
			Help: "Number of transitions processed",
		}),
		faults: f.NewCounter(prometheus.CounterOpts{
			Name: "probmc_traversal_faults_total",
			Help: "Number of states whose expansion failed",
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "probmc_traversal_in_flight",
			Help: "Number of states currently being expanded",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "probmc_traversal_duration_seconds",
			Help:    "Duration of completed traversals",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 12),
		}),
	}
}

// Periodically log the progress of the traversal until ctx is done
func (t *Traverser) reportProgress(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.logProgress("Traversal progress")
		}
	}
}

func (t *Traverser) logProgress(msg string) {
	ongoing := t.frontier.Ongoing()
	t.metrics.inFlight.Set(float64(ongoing))
	t.logger.Info(msg,
		"phase", t.Phase(),
		"states", humanize.Comma(t.states.Load()),
		"transitions", humanize.Comma(t.transitions.Load()),
		"pending", t.frontier.Len(),
		"inFlight", ongoing,
		"memory", humanize.IBytes(t.cfg.Storage.MemoryUsage()),
	)
}
