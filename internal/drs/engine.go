// Package drs implements the Distributed Resource Scheduler. It periodically
// converts the inventory into a reconfiguration problem, solves it in repair
// mode and keeps the resulting plans through an approve, reject or apply
// workflow.
package drs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/config"
	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/instance"
	"github.com/limiquantix/planner/internal/plan"
	"github.com/limiquantix/planner/internal/repository"
	"github.com/limiquantix/planner/internal/repository/etcd"
	"github.com/limiquantix/planner/internal/scheduler"
)

// LeaderChecker checks if this instance is the leader.
type LeaderChecker interface {
	IsLeader() bool
}

// SnapshotPublisher shares the model of the last run.
type SnapshotPublisher interface {
	PublishSnapshot(ctx context.Context, s etcd.Snapshot) error
}

// Config gathers the settings of the engine.
type Config struct {
	DRS    config.DRSConfig
	Solver config.SolverConfig
}

// Repositories are the stores the engine reads and writes.
type Repositories struct {
	Nodes    repository.NodeRepository
	VMs      repository.VMRepository
	Policies repository.PolicyRepository
	Plans    repository.PlanRepository
	// Cache is optional.
	Cache repository.PlanCache
}

// Option configures optional collaborators of the engine.
type Option func(*Engine)

// WithLeaderChecker restricts periodic runs to the leader.
func WithLeaderChecker(l LeaderChecker) Option {
	return func(e *Engine) { e.leaderChecker = l }
}

// WithPublisher publishes the model of every run.
func WithPublisher(p SnapshotPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithExecutor replaces the executor applying plan actions.
func WithExecutor(x Executor) Option {
	return func(e *Engine) { e.executor = x }
}

// WithRegistry replaces the constraint registry used to decode policies.
func WithRegistry(r *instance.Registry) Option {
	return func(e *Engine) { e.builder.registry = r }
}

// Engine is the DRS engine that computes and applies reconfiguration plans.
type Engine struct {
	cfg           Config
	repos         Repositories
	builder       *builder
	executor      Executor
	leaderChecker LeaderChecker
	publisher     SnapshotPublisher
	logger        *zap.Logger

	// runMu serializes runs and applications.
	runMu sync.Mutex

	mu          sync.RWMutex
	isRunning   bool
	lastRun     time.Time
	lastOutcome string
}

// NewEngine creates a new DRS engine.
func NewEngine(cfg Config, repos Repositories, logger *zap.Logger, opts ...Option) *Engine {
	logger = logger.With(zap.String("component", "drs"))
	e := &Engine{
		cfg:    cfg,
		repos:  repos,
		logger: logger,
		builder: &builder{
			cfg:      cfg,
			registry: instance.NewRegistry(),
			logger:   logger,
		},
	}
	e.executor = NewInventoryExecutor(repos.Nodes, repos.VMs, logger)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start runs the engine every interval until ctx is done.
func (e *Engine) Start(ctx context.Context) {
	if !e.cfg.DRS.Enabled {
		e.logger.Info("DRS engine disabled")
		return
	}

	e.mu.Lock()
	if e.isRunning {
		e.mu.Unlock()
		return
	}
	e.isRunning = true
	e.mu.Unlock()

	e.logger.Info("Starting DRS engine",
		zap.Duration("interval", e.cfg.DRS.Interval),
		zap.String("automation_level", e.cfg.DRS.AutomationLevel),
		zap.Int("max_migrations", e.cfg.DRS.MaxMigrations),
	)

	ticker := time.NewTicker(e.cfg.DRS.Interval)
	defer ticker.Stop()

	e.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("DRS engine stopped")
			e.mu.Lock()
			e.isRunning = false
			e.mu.Unlock()
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	if e.leaderChecker != nil && !e.leaderChecker.IsLeader() {
		e.logger.Debug("Not leader, skipping DRS run")
		return
	}
	if _, err := e.RunOnce(ctx); err != nil {
		e.logger.Error("DRS run failed", zap.Error(err))
	}
	if n, err := e.repos.Plans.DeleteOld(ctx, time.Now().Add(-24*time.Hour)); err != nil {
		e.logger.Warn("Failed to cleanup old plans", zap.Error(err))
	} else if n > 0 {
		e.logger.Debug("Cleaned up old plans", zap.Int("count", n))
	}
}

// Inventory reads the current inventory.
func (e *Engine) Inventory(ctx context.Context) (Inventory, error) {
	var inv Inventory
	var err error
	if inv.Nodes, err = e.repos.Nodes.List(ctx); err != nil {
		return inv, fmt.Errorf("failed to list nodes: %w", err)
	}
	if inv.VMs, err = e.repos.VMs.List(ctx); err != nil {
		return inv, fmt.Errorf("failed to list vms: %w", err)
	}
	if e.repos.Policies != nil {
		if inv.Policies, err = e.repos.Policies.List(ctx); err != nil {
			return inv, fmt.Errorf("failed to list policies: %w", err)
		}
	}
	return inv, nil
}

// RunOnce computes a plan for the current inventory. It returns nil when the
// inventory needs no change. With the full automation level the plan is
// applied right away unless it exceeds the migration budget.
func (e *Engine) RunOnce(ctx context.Context) (*domain.PlanRecord, error) {
	e.runMu.Lock()
	rec, err := e.run(ctx)
	e.runMu.Unlock()

	outcome := outcomeOf(rec, err)
	drsRuns.WithLabelValues(outcome).Inc()
	e.mu.Lock()
	e.lastRun = time.Now()
	e.lastOutcome = outcome
	e.mu.Unlock()

	if err != nil || rec == nil {
		return rec, err
	}
	if e.cfg.DRS.AutomationLevel == config.AutomationFull && rec.Status == domain.PlanStatusPending && rec.Reason == "" {
		e.logger.Info("Auto-applying DRS plan", zap.String("id", rec.ID))
		return e.Apply(ctx, rec.ID, "drs")
	}
	return rec, nil
}

func (e *Engine) run(ctx context.Context) (*domain.PlanRecord, error) {
	start := time.Now()
	inv, err := e.Inventory(ctx)
	if err != nil {
		return nil, err
	}
	inst, err := e.builder.Instance(inv)
	if err != nil {
		return nil, fmt.Errorf("failed to build instance: %w", err)
	}

	params := e.cfg.Solver.Parameters()
	params.Repair = true
	rec, err := e.solve(ctx, *inst, params, domain.PlanSourceDRS)
	if err != nil {
		return nil, err
	}

	if e.publisher != nil {
		snap := etcd.Snapshot{Model: instance.FromModel(inst.Model)}
		if rec != nil {
			snap.PlanID = rec.ID
		}
		if err := e.publisher.PublishSnapshot(ctx, snap); err != nil {
			e.logger.Warn("Failed to publish snapshot", zap.Error(err))
		}
	}

	e.logger.Debug("DRS run complete",
		zap.Duration("duration", time.Since(start)),
		zap.Int("nodes", len(inv.Nodes)),
		zap.Int("vms", len(inv.VMs)),
		zap.Int("constraints", len(inst.Constraints)),
	)
	return rec, nil
}

// Plan solves an instance submitted through the API and stores the plan.
func (e *Engine) Plan(ctx context.Context, inst scheduler.Instance, params scheduler.Parameters) (*domain.PlanRecord, error) {
	return e.solve(ctx, inst, params, domain.PlanSourceAPI)
}

// solve computes and stores the plan of an instance. A solved instance with
// an empty plan gives a nil record; an instance without plan gives a failed one.
func (e *Engine) solve(ctx context.Context, inst scheduler.Instance, params scheduler.Parameters, source domain.PlanSource) (*domain.PlanRecord, error) {
	fingerprint, err := instance.Fingerprint(inst, params)
	if err != nil {
		e.logger.Warn("Failed to fingerprint instance", zap.Error(err))
	}
	if rec := e.cached(ctx, fingerprint); rec != nil {
		return rec, nil
	}

	res, err := scheduler.NewScheduler(params, e.logger).Solve(ctx, inst)
	if err != nil {
		return nil, err
	}

	rec := &domain.PlanRecord{
		Source:      source,
		Status:      domain.PlanStatusPending,
		Fingerprint: fingerprint,
		ManagedVMs:  res.Stats.NbManagedVMs,
	}
	if inst.Objective != nil {
		rec.Objective = inst.Objective.String()
	}
	switch {
	case res.Solved() && res.Plan.Size() == 0:
		e.logger.Debug("Inventory is already balanced")
		return nil, nil
	case res.Solved():
		rec.ID = res.Plan.ID
		rec.Actions = res.Plan.Actions()
		rec.Duration = res.Plan.Duration()
		rec.Optimal = res.Stats.ProvenOptimal()
		if v, ok := res.Stats.Best(); ok {
			rec.Value = &v
		}
		if budget := e.cfg.DRS.MaxMigrations; source == domain.PlanSourceDRS && budget > 0 && migrations(rec.Actions) > budget {
			rec.Reason = fmt.Sprintf("plan needs %d migrations, more than the budget of %d", migrations(rec.Actions), budget)
		}
	case res.Stats.ProvenInfeasible():
		rec.Status = domain.PlanStatusFailed
		rec.Reason = "no plan satisfies the constraints"
	default:
		rec.Status = domain.PlanStatusFailed
		rec.Reason = "no plan found within the search limits"
	}

	rec, err = e.repos.Plans.Create(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to store plan: %w", err)
	}
	e.logger.Info("Plan computed",
		zap.String("id", rec.ID),
		zap.String("source", string(rec.Source)),
		zap.String("status", string(rec.Status)),
		zap.Int("actions", len(rec.Actions)),
		zap.Int("duration", rec.Duration),
		zap.String("reason", rec.Reason),
	)

	if e.repos.Cache != nil && fingerprint != "" && rec.Status == domain.PlanStatusPending {
		if err := e.repos.Cache.SetPlan(ctx, fingerprint, rec); err != nil {
			e.logger.Warn("Failed to cache plan", zap.Error(err))
		}
	}
	return rec, nil
}

// cached returns the stored plan of a fingerprint while it is still pending.
func (e *Engine) cached(ctx context.Context, fingerprint string) *domain.PlanRecord {
	if e.repos.Cache == nil || fingerprint == "" {
		return nil
	}
	hit, err := e.repos.Cache.GetPlan(ctx, fingerprint)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.logger.Warn("Failed to read plan cache", zap.Error(err))
		}
		return nil
	}
	rec, err := e.repos.Plans.Get(ctx, hit.ID)
	if err != nil || rec.Status != domain.PlanStatusPending {
		return nil
	}
	e.logger.Debug("Reusing cached plan", zap.String("id", rec.ID))
	return rec
}

// Pending returns the plans waiting for a decision.
func (e *Engine) Pending(ctx context.Context, limit int) ([]*domain.PlanRecord, error) {
	return e.repos.Plans.List(ctx, domain.PlanFilter{Status: domain.PlanStatusPending, Limit: limit})
}

// Approve marks a pending plan as approved.
func (e *Engine) Approve(ctx context.Context, id, approvedBy string) (*domain.PlanRecord, error) {
	rec, err := e.repos.Plans.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != domain.PlanStatusPending {
		return nil, fmt.Errorf("plan %s is %s: %w", id, rec.Status, domain.ErrConflict)
	}

	rec.Status = domain.PlanStatusApproved
	e.logger.Info("Plan approved", zap.String("id", id), zap.String("by", approvedBy))
	return e.repos.Plans.Update(ctx, rec)
}

// Reject marks a plan as rejected.
func (e *Engine) Reject(ctx context.Context, id, reason string) (*domain.PlanRecord, error) {
	rec, err := e.repos.Plans.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.IsFinal() {
		return nil, fmt.Errorf("plan %s is %s: %w", id, rec.Status, domain.ErrConflict)
	}

	rec.Status = domain.PlanStatusRejected
	rec.Reason = reason
	e.logger.Info("Plan rejected", zap.String("id", id), zap.String("reason", reason))
	return e.repos.Plans.Update(ctx, rec)
}

// Apply executes a plan on the inventory. The plan is replayed on the
// current inventory first; a plan that no longer applies is marked failed
// and ErrStalePlan is returned. With the manual automation level only
// approved plans may be applied.
func (e *Engine) Apply(ctx context.Context, id, appliedBy string) (*domain.PlanRecord, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	rec, err := e.repos.Plans.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case rec.Status == domain.PlanStatusApproved:
	case rec.Status == domain.PlanStatusPending && e.cfg.DRS.AutomationLevel != config.AutomationManual:
	default:
		return nil, fmt.Errorf("plan %s is %s: %w", id, rec.Status, domain.ErrConflict)
	}

	order, err := e.executionOrder(ctx, rec)
	if err != nil {
		rec.Status = domain.PlanStatusFailed
		rec.Reason = err.Error()
		if _, uerr := e.repos.Plans.Update(ctx, rec); uerr != nil {
			e.logger.Error("Failed to update plan", zap.String("id", id), zap.Error(uerr))
		}
		return nil, fmt.Errorf("plan %s: %w", id, err)
	}

	for i, a := range order {
		if err := e.executor.Execute(ctx, a); err != nil {
			rec.Status = domain.PlanStatusFailed
			rec.Reason = fmt.Sprintf("action %d (%s) failed: %v", i, a, err)
			if _, uerr := e.repos.Plans.Update(ctx, rec); uerr != nil {
				e.logger.Error("Failed to update plan", zap.String("id", id), zap.Error(uerr))
			}
			return nil, fmt.Errorf("failed to apply %s: %w", a, err)
		}
		appliedActions.WithLabelValues(string(a.Kind)).Inc()
	}

	now := time.Now()
	rec.Status = domain.PlanStatusApplied
	rec.AppliedAt = &now
	rec.AppliedBy = appliedBy
	e.logger.Info("Plan applied",
		zap.String("id", id),
		zap.String("by", appliedBy),
		zap.Int("actions", len(order)),
	)
	return e.repos.Plans.Update(ctx, rec)
}

// executionOrder checks the actions against the current inventory and orders
// them along their dependencies.
func (e *Engine) executionOrder(ctx context.Context, rec *domain.PlanRecord) ([]plan.Action, error) {
	inv, err := e.Inventory(ctx)
	if err != nil {
		return nil, err
	}
	mo, convErr := inv.Model()
	if mo == nil {
		return nil, fmt.Errorf("%w: inventory: %w", domain.ErrStalePlan, convErr)
	}
	stale := func(err error) error {
		// Inconsistent VMs are left out of the model and often explain why.
		return fmt.Errorf("%w: %w", domain.ErrStalePlan, multierr.Append(err, convErr))
	}
	p := plan.New(mo)
	p.ID = rec.ID
	for _, a := range rec.Actions {
		if err := p.Add(a); err != nil {
			return nil, stale(err)
		}
	}
	if _, err := p.Result(); err != nil {
		return nil, stale(err)
	}
	return p.Dependencies().ExecutionOrder()
}

// LastRun returns when the last run happened and how it ended.
func (e *Engine) LastRun() (time.Time, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastRun, e.lastOutcome
}

// IsRunning returns true if the DRS loop is running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isRunning
}

// IsLeader reports whether this instance may run the engine.
func (e *Engine) IsLeader() bool {
	return e.leaderChecker == nil || e.leaderChecker.IsLeader()
}

func migrations(actions []plan.Action) int {
	n := 0
	for _, a := range actions {
		if a.Kind == plan.ActionMigrateVM {
			n++
		}
	}
	return n
}

func outcomeOf(rec *domain.PlanRecord, err error) string {
	switch {
	case err != nil:
		return "error"
	case rec == nil:
		return "balanced"
	default:
		return string(rec.Status)
	}
}
