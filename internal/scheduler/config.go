// Package scheduler computes reconfiguration plans. It turns a source model, the
// requested VM states and a set of placement constraints into a finite-domain
// problem, and searches it for a feasible, optionally optimal, plan.
package scheduler

import "time"

// DefaultMaxEnd is the default upper bound of every time variable.
const DefaultMaxEnd = 3600

// ObjectiveAlterer computes, from the value of the best solution, the bound the
// next solution must reach.
type ObjectiveAlterer func(best int) int

// Parameters tune a solving process.
type Parameters struct {
	// TimeLimit bounds the search. Zero or less means no limit.
	TimeLimit time.Duration `mapstructure:"time_limit"`

	// MaxEnd is the horizon of the plan.
	MaxEnd int `mapstructure:"max_end"`

	// Optimize continues the search after the first solution to improve the objective.
	Optimize bool `mapstructure:"optimize"`

	// Repair restricts the manageable VMs to the ones that may be misplaced.
	Repair bool `mapstructure:"repair"`

	// SolutionLimit stops the search after that many solutions. Zero means no limit.
	SolutionLimit int `mapstructure:"solution_limit"`

	// NodeLimit stops the search after that many search nodes. Zero means no limit.
	NodeLimit int `mapstructure:"node_limit"`

	// Durations gives the duration of every action.
	Durations *DurationEvaluators `mapstructure:"-"`

	// Alterer retargets the objective bound between solutions.
	Alterer ObjectiveAlterer `mapstructure:"-"`

	// OnSolution is notified of every solution found.
	OnSolution func(Solution) `mapstructure:"-"`
}

// DefaultParameters returns the default solving parameters.
func DefaultParameters() Parameters {
	return Parameters{
		MaxEnd:    DefaultMaxEnd,
		Durations: NewDurationEvaluators(),
	}
}

func (p Parameters) withDefaults() Parameters {
	if p.MaxEnd <= 0 {
		p.MaxEnd = DefaultMaxEnd
	}
	if p.Durations == nil {
		p.Durations = NewDurationEvaluators()
	}
	return p
}
