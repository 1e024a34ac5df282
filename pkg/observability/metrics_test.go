package observability

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountersAndGauges(t *testing.T) {
	r := NewMetricsRegistry()

	c := r.Counter("executions_started")
	c.Inc()
	c.Add(2)
	assert.Equal(t, int64(3), c.Value())
	// Same name returns the same counter.
	assert.Equal(t, int64(3), r.Counter("executions_started").Value())

	g := r.Gauge("executions_running")
	g.Inc()
	g.Inc()
	g.Dec()
	assert.Equal(t, int64(1), g.Value())
	g.Set(7)
	assert.Equal(t, int64(7), g.Value())
}

func TestHistogram(t *testing.T) {
	h := NewMetricsRegistry().Histogram("step_seconds")
	count, sum, avg, min, max := h.Snapshot()
	assert.Equal(t, int64(0), count)
	assert.Equal(t, 0.0, avg)

	for _, v := range []float64{0.5, 1.5, 4.0} {
		h.Observe(v)
	}
	count, sum, avg, min, max = h.Snapshot()
	assert.Equal(t, int64(3), count)
	assert.InDelta(t, 6.0, sum, 1e-9)
	assert.InDelta(t, 2.0, avg, 1e-9)
	assert.Equal(t, 0.5, min)
	assert.Equal(t, 4.0, max)
}

func TestSnapshotKeys(t *testing.T) {
	r := NewMetricsRegistry()
	r.Counter("executions_completed").Inc()
	r.Gauge("executions_running").Set(2)
	r.Histogram("execution_seconds").Observe(1.25)

	snap := r.Snapshot()
	assert.Equal(t, int64(1), snap["counter.executions_completed"])
	assert.Equal(t, int64(2), snap["gauge.executions_running"])
	assert.Equal(t, int64(1), snap["histogram.execution_seconds.count"])
	assert.Equal(t, 1.25, snap["histogram.execution_seconds.max"])
}

func TestConcurrentUse(t *testing.T) {
	r := NewMetricsRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Counter("steps_completed").Inc()
				r.Histogram("step_seconds").Observe(float64(j))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(800), r.Counter("steps_completed").Value())
	count, _, _, _, _ := r.Histogram("step_seconds").Snapshot()
	assert.Equal(t, int64(800), count)
}
