package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// SolutionStatistics describes one solution found during the search.
type SolutionStatistics struct {
	Elapsed      time.Duration `json:"elapsed"`
	Nodes        int           `json:"nodes"`
	Backtracks   int           `json:"backtracks"`
	HasObjective bool          `json:"has_objective"`
	Objective    int           `json:"objective"`
}

// SolvingStatistics describes a solving process.
type SolvingStatistics struct {
	NbVMs         int `json:"nb_vms"`
	NbNodes       int `json:"nb_nodes"`
	NbManagedVMs  int `json:"nb_managed_vms"`
	NbConstraints int `json:"nb_constraints"`

	CoreBuildDuration time.Duration `json:"core_build_duration"`
	InjectionDuration time.Duration `json:"injection_duration"`
	SolvingDuration   time.Duration `json:"solving_duration"`

	TimeLimit time.Duration `json:"time_limit"`
	Optimize  bool          `json:"optimize"`

	Nodes      int `json:"nodes"`
	Backtracks int `json:"backtracks"`
	Fails      int `json:"fails"`
	// Rejected counts the search solutions that did not convert into a plan.
	Rejected int `json:"rejected"`

	Solutions []SolutionStatistics `json:"solutions"`

	// Completed is true when the search space was explored entirely with the
	// default objective bounds: without solution the problem is infeasible,
	// and when optimizing the last one is optimal.
	Completed bool `json:"completed"`
}

// NbSolutions returns the number of solutions found.
func (s SolvingStatistics) NbSolutions() int { return len(s.Solutions) }

// Best returns the objective value of the last solution.
func (s SolvingStatistics) Best() (int, bool) {
	if len(s.Solutions) == 0 || !s.Solutions[len(s.Solutions)-1].HasObjective {
		return 0, false
	}
	return s.Solutions[len(s.Solutions)-1].Objective, true
}

// ProvenInfeasible reports whether the search proved there is no solution.
func (s SolvingStatistics) ProvenInfeasible() bool {
	return s.Completed && len(s.Solutions) == 0
}

// ProvenOptimal reports whether the last solution of an optimization is
// proven optimal.
func (s SolvingStatistics) ProvenOptimal() bool {
	return s.Completed && s.Optimize && len(s.Solutions) > 0
}

func (s SolvingStatistics) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d VMs (%d managed), %d nodes, %d constraints\n", s.NbVMs, s.NbManagedVMs, s.NbNodes, s.NbConstraints)
	fmt.Fprintf(&b, "build: %s, injection: %s, search: %s", s.CoreBuildDuration, s.InjectionDuration, s.SolvingDuration)
	if s.TimeLimit > 0 {
		fmt.Fprintf(&b, " (limit %s)", s.TimeLimit)
	}
	fmt.Fprintf(&b, "\n%d nodes, %d backtracks, %d fails, %d solutions", s.Nodes, s.Backtracks, s.Fails, len(s.Solutions))
	if s.Rejected > 0 {
		fmt.Fprintf(&b, ", %d rejected", s.Rejected)
	}
	switch {
	case s.ProvenOptimal():
		b.WriteString(", optimal")
	case s.Completed:
		b.WriteString(", exhaustive")
	}
	for i, sol := range s.Solutions {
		fmt.Fprintf(&b, "\n  %d) at %s, %d nodes", i+1, sol.Elapsed, sol.Nodes)
		if sol.HasObjective {
			fmt.Fprintf(&b, ", objective %d", sol.Objective)
		}
	}
	return b.String()
}
