package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"projects/solver"
)

const namespace = "combinator"

type Metrics struct {
	Runs         *prometheus.CounterVec
	Duration     prometheus.Histogram
	Trials       prometheus.Counter
	CappedTrials prometheus.Counter
	BestCost     *prometheus.GaugeVec
	Overflow     *prometheus.GaugeVec
	Warnings     *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solve_runs_total",
			Help:      "Solve runs by outcome.",
		}, []string{"outcome"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "solve_duration_seconds",
			Help:      "Wall time of successful solve runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		Trials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solve_trials_total",
			Help:      "Randomized trials evaluated.",
		}),
		CappedTrials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solve_capped_trials_total",
			Help:      "Trials discarded because the swap optimizer hit its round cap.",
		}),
		BestCost: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "solve_best_cost",
			Help:      "Cost of the latest best solution per round.",
		}, []string{"round"}),
		Overflow: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "solve_overflow_students",
			Help:      "Students of the latest solution with none of their choices honored.",
		}, []string{"round", "kind"}),
		Warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preference_warnings_total",
			Help:      "Preference entries that named no known identifier.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.Runs, m.Duration, m.Trials, m.CappedTrials, m.BestCost, m.Overflow, m.Warnings)
	return m
}

func (m *Metrics) ObserveSolve(round string, inst *solver.Instance, res *solver.Result, elapsed time.Duration) {
	m.Runs.WithLabelValues("ok").Inc()
	m.Duration.Observe(elapsed.Seconds())
	m.Trials.Add(float64(res.Trials))
	m.CappedTrials.Add(float64(res.CappedTrials))
	m.BestCost.WithLabelValues(round).Set(res.Best.Cost)
	p, w := inst.OverflowCounts(res.Best.Assignments)
	m.Overflow.WithLabelValues(round, "project").Set(float64(p))
	m.Overflow.WithLabelValues(round, "work-package").Set(float64(w))
}

func (m *Metrics) ObserveFailure() {
	m.Runs.WithLabelValues("error").Inc()
}

func (m *Metrics) ObserveWarning(kind string) {
	m.Warnings.WithLabelValues(kind).Inc()
}
