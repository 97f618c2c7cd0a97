package workflow

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics accumulates loop counters for the lifetime of the process. The
// loop itself is single-threaded; the mutex exists because the Prometheus
// handler and Snapshot readers run on other goroutines.
type Metrics struct {
	registry *prometheus.Registry

	iterations   prometheus.Counter
	stepDuration *prometheus.HistogramVec
	stepFailures *prometheus.CounterVec

	mu    sync.Mutex
	snap  Snapshot
	steps map[string]*StepStats
}

// StepStats are the accumulated counters for one step.
type StepStats struct {
	Runs     int64
	Failures int64
	Total    time.Duration
}

// Snapshot is a read-only copy of the engine counters.
type Snapshot struct {
	Iterations int64
	Successes  int64
	Failures   int64
	Steps      map[string]StepStats
}

// NewMetrics creates the engine metrics with their own registry so the
// caller can mount a /metrics handler without pulling in global state.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "certagent_iterations_total",
			Help: "Workflow iterations started.",
		}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certagent_step_duration_seconds",
			Help:    "Execution time per workflow step.",
			Buckets: prometheus.DefBuckets,
		}, []string{"step"}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "certagent_step_failures_total",
			Help: "Failures per workflow step.",
		}, []string{"step"}),
		steps: make(map[string]*StepStats),
	}
	m.registry.MustRegister(m.iterations, m.stepDuration, m.stepFailures)
	return m
}

// Registry exposes the Prometheus registry for the optional metrics
// listener.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) iterationStarted() {
	m.iterations.Inc()
	m.mu.Lock()
	m.snap.Iterations++
	m.mu.Unlock()
}

func (m *Metrics) iterationFinished(ok bool) {
	m.mu.Lock()
	if ok {
		m.snap.Successes++
	} else {
		m.snap.Failures++
	}
	m.mu.Unlock()
}

func (m *Metrics) stepObserved(step string, d time.Duration, failed bool) {
	m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
	if failed {
		m.stepFailures.WithLabelValues(step).Inc()
	}
	m.mu.Lock()
	st := m.steps[step]
	if st == nil {
		st = &StepStats{}
		m.steps[step] = st
	}
	st.Runs++
	st.Total += d
	if failed {
		st.Failures++
	}
	m.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.snap
	out.Steps = make(map[string]StepStats, len(m.steps))
	for name, st := range m.steps {
		out.Steps[name] = *st
	}
	return out
}
