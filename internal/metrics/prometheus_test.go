package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordFetch("BTC", true)
	r.RecordFetch("BTC", true)
	r.RecordFetch("BTC", false)
	r.RecordSignal("BTC", "LONG")
	r.RecordOutcome("hit_tp")
	r.RecordError("fetch")
	r.RecordLastPrice("BTC", 64000)
	r.SetRunningTasks(3)
	r.ObserveStage("pipeline", time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(r.fetches.WithLabelValues("BTC", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fetches.WithLabelValues("BTC", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.signals.WithLabelValues("BTC", "LONG")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.outcomes.WithLabelValues("hit_tp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("fetch")))
	assert.Equal(t, 64000.0, testutil.ToFloat64(r.lastPrice.WithLabelValues("BTC")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.runningTasks))
	assert.Equal(t, 1, testutil.CollectAndCount(r.latency))
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.RecordFetch("BTC", true)
		r.RecordSignal("BTC", "LONG")
		r.RecordOutcome("expired")
		r.RecordError("fetch")
		r.RecordLastPrice("BTC", 1)
		r.SetRunningTasks(1)
		r.ObserveStage("pipeline", time.Now())
	})
}
