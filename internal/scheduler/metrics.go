package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Outcome label values of solved problems.
const (
	outcomeSolved     = "solved"
	outcomeInfeasible = "infeasible"
	outcomeUnknown    = "unknown"
)

var (
	solveTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_solve_total",
			Help: "Total number of solved reconfiguration problems by outcome.",
		},
		[]string{"outcome"},
	)

	solveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "planner_solve_duration_seconds",
			Help:    "Duration of the search of reconfiguration problems, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	searchNodesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "planner_search_nodes_total",
			Help: "Total number of search nodes explored.",
		},
	)

	planActions = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "planner_plan_actions",
			Help:    "Number of actions of the computed plans.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(solveTotal)
	prometheus.MustRegister(solveDuration)
	prometheus.MustRegister(searchNodesTotal)
	prometheus.MustRegister(planActions)

	for _, o := range []string{outcomeSolved, outcomeInfeasible, outcomeUnknown} {
		solveTotal.WithLabelValues(o)
	}
}

func observeSolve(r *Result) {
	outcome := outcomeUnknown
	switch {
	case r.Plan != nil:
		outcome = outcomeSolved
		planActions.Observe(float64(r.Plan.Size()))
	case r.Stats.ProvenInfeasible():
		outcome = outcomeInfeasible
	}
	solveTotal.WithLabelValues(outcome).Inc()
	solveDuration.Observe(r.Stats.SolvingDuration.Seconds())
	searchNodesTotal.Add(float64(r.Stats.Nodes))
}
