package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exposes bot activity as Prometheus metrics. A nil *Recorder is a
// valid no-op recorder.
type Recorder struct {
	fetches      *prometheus.CounterVec
	signals      *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	lastPrice    *prometheus.GaugeVec
	runningTasks prometheus.Gauge
	latency      *prometheus.HistogramVec
}

// New creates a Recorder registered on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		fetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalbot_fetches_total",
				Help: "Quote fetches by symbol and result",
			},
			[]string{"symbol", "result"},
		),
		signals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalbot_signals_total",
				Help: "Signals emitted by symbol and direction",
			},
			[]string{"symbol", "direction"},
		),
		outcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalbot_outcomes_total",
				Help: "Signal outcomes recorded by the tracker",
			},
			[]string{"status"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalbot_errors_total",
				Help: "Errors by pipeline stage",
			},
			[]string{"stage"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalbot_last_price",
				Help: "Last fetched USD price of a symbol",
			},
			[]string{"symbol"},
		),
		runningTasks: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "signalbot_running_tasks",
				Help: "Symbol tasks currently running",
			},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalbot_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
	}
}

func (r *Recorder) RecordFetch(symbol string, ok bool) {
	if r == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	r.fetches.WithLabelValues(symbol, result).Inc()
}

func (r *Recorder) RecordSignal(symbol, direction string) {
	if r == nil {
		return
	}
	r.signals.WithLabelValues(symbol, direction).Inc()
}

func (r *Recorder) RecordOutcome(status string) {
	if r == nil {
		return
	}
	r.outcomes.WithLabelValues(status).Inc()
}

func (r *Recorder) RecordError(stage string) {
	if r == nil {
		return
	}
	r.errorsTotal.WithLabelValues(stage).Inc()
}

func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	if r == nil {
		return
	}
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

func (r *Recorder) SetRunningTasks(n int) {
	if r == nil {
		return
	}
	r.runningTasks.Set(float64(n))
}

// ObserveStage records the time elapsed since start for stage.
func (r *Recorder) ObserveStage(stage string, start time.Time) {
	if r == nil {
		return
	}
	r.latency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
