// Package metrics provides lightweight, lock-minimal performance counters
// for the streaming k-anonymization engine.
//
// Counters use sync/atomic so the ingest hot path incurs no mutex
// contention. The EC-fit latency dimension uses a single mutex; it is
// updated at most once per Ingest call. Every counter is additionally
// registered with github.com/prometheus/client_golang so /metrics can
// serve Prometheus exposition format alongside the JSON Snapshot.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all runtime counters for a running engine instance.
// The zero value is not ready to use; call New().
type Metrics struct {
	IngestTotal       atomic.Int64
	PublishTotal      atomic.Int64
	CompromiseTotal   atomic.Int64
	RefreshTotal      atomic.Int64
	ForceExtendTotal  atomic.Int64
	InputErrorsTotal  atomic.Int64

	fitMu   sync.Mutex
	fitStat latencyStats

	startTime time.Time

	promIngest      prometheus.Counter
	promPublish     prometheus.Counter
	promCompromise  prometheus.Counter
	promRefresh     prometheus.Counter
	promForceExtend prometheus.Counter
	promInputErrors prometheus.Counter
	promFitLatency  prometheus.Histogram
	promQueueLen    prometheus.GaugeFunc
}

// New returns a new Metrics with the start time recorded, registered
// against reg. queueLen is polled on every Prometheus scrape to expose
// the current accumulation-queue depth as a gauge.
func New(reg prometheus.Registerer, queueLen func() float64) *Metrics {
	m := &Metrics{startTime: time.Now()}

	m.promIngest = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kanon_ingest_total", Help: "Total records ingested.",
	})
	m.promPublish = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kanon_publish_total", Help: "Total records published.",
	})
	m.promCompromise = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kanon_compromise_total", Help: "Total records published via compromise fallback.",
	})
	m.promRefresh = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kanon_refresh_total", Help: "Total periodic refreshes performed.",
	})
	m.promForceExtend = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kanon_force_extend_total", Help: "Total force-extend operations performed.",
	})
	m.promInputErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kanon_input_errors_total", Help: "Total ingest calls rejected as invalid input.",
	})
	m.promFitLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "kanon_ec_fit_latency_ms", Help: "Latency of one whole Ingest call, in milliseconds.",
		Buckets: prometheus.DefBuckets,
	})
	if queueLen != nil {
		m.promQueueLen = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "kanon_queue_length", Help: "Current accumulation queue depth.",
		}, queueLen)
	}

	if reg != nil {
		reg.MustRegister(m.promIngest, m.promPublish, m.promCompromise,
			m.promRefresh, m.promForceExtend, m.promInputErrors, m.promFitLatency)
		if m.promQueueLen != nil {
			reg.MustRegister(m.promQueueLen)
		}
	}

	return m
}

// RecordIngest increments the ingest counter.
func (m *Metrics) RecordIngest() {
	m.IngestTotal.Add(1)
	m.promIngest.Inc()
}

// RecordPublish increments the publish counter, and the compromise
// counter too if the publication used the compromise fallback.
func (m *Metrics) RecordPublish(compromise bool) {
	m.PublishTotal.Add(1)
	m.promPublish.Inc()
	if compromise {
		m.CompromiseTotal.Add(1)
		m.promCompromise.Inc()
	}
}

// RecordRefresh increments the refresh counter.
func (m *Metrics) RecordRefresh() {
	m.RefreshTotal.Add(1)
	m.promRefresh.Inc()
}

// RecordForceExtend increments the force-extend counter.
func (m *Metrics) RecordForceExtend() {
	m.ForceExtendTotal.Add(1)
	m.promForceExtend.Inc()
}

// RecordInputError increments the input-error counter.
func (m *Metrics) RecordInputError() {
	m.InputErrorsTotal.Add(1)
	m.promInputErrors.Inc()
}

// RecordFitLatency records the duration of one Ingest call. The stream
// command times the whole call: fit/generalize, publication, the refresh
// check and the expiry sweep.
func (m *Metrics) RecordFitLatency(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0
	m.fitMu.Lock()
	m.fitStat.record(ms)
	m.fitMu.Unlock()
	m.promFitLatency.Observe(ms)
}

// Snapshot returns a point-in-time copy of all metrics, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.fitMu.Lock()
	fit := m.fitStat.snapshot()
	m.fitMu.Unlock()

	return Snapshot{
		Ingest:      m.IngestTotal.Load(),
		Publish:     m.PublishTotal.Load(),
		Compromise:  m.CompromiseTotal.Load(),
		Refresh:     m.RefreshTotal.Load(),
		ForceExtend: m.ForceExtendTotal.Load(),
		InputErrors: m.InputErrorsTotal.Load(),
		FitLatency:  fit,
		UptimeSecs:  time.Since(m.startTime).Seconds(),
	}
}

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Ingest      int64           `json:"ingest"`
	Publish     int64           `json:"publish"`
	Compromise  int64           `json:"compromise"`
	Refresh     int64           `json:"refresh"`
	ForceExtend int64           `json:"forceExtend"`
	InputErrors int64           `json:"inputErrors"`
	FitLatency  LatencySnapshot `json:"fitLatencyMs"`
	UptimeSecs  float64         `json:"uptimeSecs"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
