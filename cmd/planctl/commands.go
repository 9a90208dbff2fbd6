package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/instance"
	"github.com/limiquantix/planner/internal/plan"
	"github.com/limiquantix/planner/internal/scheduler"
)

var (
	errInfeasible = errors.New("no plan satisfies the constraints")
	errNoSolution = errors.New("no plan found within the search limits")
)

type solveOptions struct {
	instance  string
	optimize  bool
	repair    bool
	timeLimit time.Duration
	maxEnd    int
	out       string
	stats     bool
}

// solve computes the plan of an instance file and writes it to opts.out, or
// to stdout in JSON.
func solve(opts solveOptions, stdout, stderr io.Writer, logger *zap.Logger) error {
	inst, err := readInstance(opts.instance)
	if err != nil {
		return err
	}

	params := scheduler.DefaultParameters()
	params.Optimize = opts.optimize
	params.Repair = opts.repair
	params.TimeLimit = opts.timeLimit
	if opts.maxEnd > 0 {
		params.MaxEnd = opts.maxEnd
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	res, err := scheduler.NewScheduler(params, logger).Solve(ctx, *inst)
	if err != nil {
		return err
	}
	if opts.stats {
		fmt.Fprintln(stderr, res.Stats.String())
	}
	if !res.Solved() {
		if res.Stats.ProvenInfeasible() {
			return errInfeasible
		}
		return errNoSolution
	}

	if opts.out == "" {
		return instance.EncodePlan(stdout, res.Plan, instance.FormatJSON)
	}
	f, err := os.Create(opts.out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", opts.out, err)
	}
	if err := instance.EncodePlan(f, res.Plan, instance.FormatOf(opts.out)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// check replays a plan on the model of an instance and verifies that it is
// legal, never overloads a node and ends in a state satisfying every
// constraint.
func check(instancePath, planPath string, w io.Writer) error {
	inst, err := readInstance(instancePath)
	if err != nil {
		return err
	}
	f, err := os.Open(planPath)
	if err != nil {
		return fmt.Errorf("failed to open plan: %w", err)
	}
	defer f.Close()
	decoded, err := instance.DecodePlan(f, instance.FormatOf(planPath))
	if err != nil {
		return fmt.Errorf("failed to read plan: %w", err)
	}

	p := plan.New(inst.Model)
	p.ID = decoded.ID
	for _, a := range decoded.Actions() {
		if err := p.Add(a); err != nil {
			return err
		}
	}
	dst, err := p.Result()
	if err != nil {
		return fmt.Errorf("plan does not apply: %w", err)
	}
	if err := scheduler.CheckResources(p); err != nil {
		return err
	}

	var violated []string
	for _, c := range inst.Constraints {
		if !c.IsSatisfied(dst) {
			violated = append(violated, c.String())
		}
	}
	if len(violated) > 0 {
		return fmt.Errorf("%d constraints violated: %s", len(violated), strings.Join(violated, ", "))
	}

	fmt.Fprintf(w, "plan %s is valid: %d actions, duration %d\n", p.ID, p.Size(), p.Duration())
	return nil
}

func readInstance(path string) (*scheduler.Instance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open instance: %w", err)
	}
	defer f.Close()
	inst, err := instance.Decode(f, instance.FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read instance %s: %w", path, err)
	}
	return inst, nil
}
