package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/repository"
)

// Ensure PlanRepository implements repository.PlanRepository
var _ repository.PlanRepository = (*PlanRepository)(nil)

// PlanRepository stores plan records in the plans table. Actions are kept
// as a JSONB document.
type PlanRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPlanRepository creates a new PostgreSQL plan repository.
func NewPlanRepository(db *DB, logger *zap.Logger) *PlanRepository {
	return &PlanRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "plan")),
	}
}

const planColumns = `id, source, status, reason, fingerprint, objective, objective_value,
	optimal, managed_vms, duration, actions, created_at, updated_at, applied_at, applied_by`

// Create stores a new plan record.
func (r *PlanRepository) Create(ctx context.Context, p *domain.PlanRecord) (*domain.PlanRecord, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	actionsJSON, err := json.Marshal(p.Actions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal actions: %w", err)
	}

	query := `
		INSERT INTO plans (
			id, source, status, reason, fingerprint, objective, objective_value,
			optimal, managed_vms, duration, actions
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`

	err = r.db.pool.QueryRow(ctx, query,
		p.ID,
		string(p.Source),
		string(p.Status),
		p.Reason,
		p.Fingerprint,
		p.Objective,
		p.Value,
		p.Optimal,
		p.ManagedVMs,
		p.Duration,
		actionsJSON,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		r.logger.Error("Failed to create plan", zap.Error(err), zap.String("id", p.ID))
		return nil, fmt.Errorf("failed to insert plan: %w", err)
	}

	r.logger.Debug("Created plan", zap.String("id", p.ID), zap.Int("actions", len(p.Actions)))
	return p, nil
}

// Get retrieves a plan record by ID.
func (r *PlanRepository) Get(ctx context.Context, id string) (*domain.PlanRecord, error) {
	row := r.db.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id)
	p, err := scanPlan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return p, nil
}

// List returns the records matching the filter, most recent first.
func (r *PlanRepository) List(ctx context.Context, filter domain.PlanFilter) ([]*domain.PlanRecord, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Source != "" {
		args = append(args, string(filter.Source))
		conds = append(conds, fmt.Sprintf("source = $%d", len(args)))
	}

	query := `SELECT ` + planColumns + ` FROM plans`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var result []*domain.PlanRecord
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// Update stores the workflow fields of a plan record.
func (r *PlanRepository) Update(ctx context.Context, p *domain.PlanRecord) (*domain.PlanRecord, error) {
	query := `
		UPDATE plans
		SET status = $2, reason = $3, applied_at = $4, applied_by = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.pool.QueryRow(ctx, query,
		p.ID,
		string(p.Status),
		p.Reason,
		p.AppliedAt,
		p.AppliedBy,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update plan: %w", err)
	}
	return p, nil
}

// DeleteOld removes the final records created before olderThan.
func (r *PlanRepository) DeleteOld(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := r.db.pool.Exec(ctx, `
		DELETE FROM plans
		WHERE created_at < $1 AND status IN ('REJECTED', 'APPLIED', 'FAILED')
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old plans: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		r.logger.Info("Deleted old plans", zap.Int64("count", n))
	}
	return int(tag.RowsAffected()), nil
}

func scanPlan(row pgx.Row) (*domain.PlanRecord, error) {
	var (
		p           domain.PlanRecord
		source      string
		status      string
		actionsJSON []byte
		appliedBy   *string
	)
	err := row.Scan(
		&p.ID,
		&source,
		&status,
		&p.Reason,
		&p.Fingerprint,
		&p.Objective,
		&p.Value,
		&p.Optimal,
		&p.ManagedVMs,
		&p.Duration,
		&actionsJSON,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.AppliedAt,
		&appliedBy,
	)
	if err != nil {
		return nil, err
	}
	p.Source = domain.PlanSource(source)
	p.Status = domain.PlanStatus(status)
	if appliedBy != nil {
		p.AppliedBy = *appliedBy
	}
	if err := json.Unmarshal(actionsJSON, &p.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
	}
	return &p, nil
}
