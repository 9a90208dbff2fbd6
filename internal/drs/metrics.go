package drs

import "github.com/prometheus/client_golang/prometheus"

var (
	drsRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_drs_runs_total",
			Help: "Total number of DRS runs by outcome.",
		},
		[]string{"outcome"},
	)

	appliedActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_drs_applied_actions_total",
			Help: "Total number of plan actions applied on the inventory by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(drsRuns)
	prometheus.MustRegister(appliedActions)
}
