package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	partitionDuration prom.Histogram
	runDuration       *prom.HistogramVec
	partitionResults  *prom.CounterVec
	runOutcomes       *prom.CounterVec
	ticks             prom.Counter
	workRemaining     prom.Gauge
	aggregateEntries  prom.Gauge
	pings             *prom.CounterVec
}

// NewPrometheusRecorder constructs the sitemapd collectors and registers them
// on reg. Register once per registry; MustRegister panics on duplicates.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		partitionDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "sitemapd",
			Name:      "partition_duration_seconds",
			Help:      "Duration of individual partition generations",
			Buckets:   prom.DefBuckets,
		}),
		runDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "sitemapd",
			Name:      "run_duration_seconds",
			Help:      "Total generation run duration by kind",
			Buckets:   prom.DefBuckets,
		}, []string{"kind"}),
		partitionResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "sitemapd",
			Name:      "partition_results_total",
			Help:      "Partition generation results by outcome",
		}, []string{"result"}),
		runOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "sitemapd",
			Name:      "run_outcomes_total",
			Help:      "Generation run outcomes by final status",
		}, []string{"outcome"}),
		ticks: prom.NewCounter(prom.CounterOpts{
			Namespace: "sitemapd",
			Name:      "ticks_total",
			Help:      "Periodic tick invocations",
		}),
		workRemaining: prom.NewGauge(prom.GaugeOpts{
			Namespace: "sitemapd",
			Name:      "work_remaining",
			Help:      "Partitions still queued in the active run",
		}),
		aggregateEntries: prom.NewGauge(prom.GaugeOpts{
			Namespace: "sitemapd",
			Name:      "aggregate_entries",
			Help:      "Total sitemap entries across all stored partitions",
		}),
		pings: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "sitemapd",
			Name:      "ping_results_total",
			Help:      "Search engine ping results by endpoint and outcome",
		}, []string{"endpoint", "result"}),
	}
	reg.MustRegister(pr.partitionDuration, pr.runDuration, pr.partitionResults,
		pr.runOutcomes, pr.ticks, pr.workRemaining, pr.aggregateEntries, pr.pings)
	return pr
}

func (p *PrometheusRecorder) ObservePartitionDuration(d time.Duration) {
	if p == nil || p.partitionDuration == nil {
		return
	}
	p.partitionDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveRunDuration(kind string, d time.Duration) {
	if p == nil || p.runDuration == nil {
		return
	}
	p.runDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncPartitionResult(result ResultLabel) {
	if p == nil || p.partitionResults == nil {
		return
	}
	p.partitionResults.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) IncRunOutcome(outcome string) {
	if p == nil || p.runOutcomes == nil {
		return
	}
	p.runOutcomes.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncTick() {
	if p == nil || p.ticks == nil {
		return
	}
	p.ticks.Inc()
}

func (p *PrometheusRecorder) SetWorkRemaining(n int) {
	if p == nil || p.workRemaining == nil {
		return
	}
	p.workRemaining.Set(float64(n))
}

func (p *PrometheusRecorder) SetAggregateEntries(n int) {
	if p == nil || p.aggregateEntries == nil {
		return
	}
	p.aggregateEntries.Set(float64(n))
}

func (p *PrometheusRecorder) IncPing(endpoint string, success bool) {
	if p == nil || p.pings == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.pings.WithLabelValues(endpoint, res).Inc()
}
