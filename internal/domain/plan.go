package domain

import (
	"time"

	"github.com/limiquantix/planner/internal/plan"
)

// PlanStatus represents the workflow status of a plan.
type PlanStatus string

const (
	PlanStatusPending  PlanStatus = "PENDING"
	PlanStatusApproved PlanStatus = "APPROVED"
	PlanStatusRejected PlanStatus = "REJECTED"
	PlanStatusApplied  PlanStatus = "APPLIED"
	PlanStatusFailed   PlanStatus = "FAILED"
)

// PlanSource tells who requested a plan.
type PlanSource string

const (
	PlanSourceDRS PlanSource = "DRS"
	PlanSourceAPI PlanSource = "API"
)

// PlanRecord is a computed reconfiguration plan and its workflow state.
type PlanRecord struct {
	ID          string        `json:"id"`
	Source      PlanSource    `json:"source"`
	Status      PlanStatus    `json:"status"`
	Reason      string        `json:"reason,omitempty"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	Objective   string        `json:"objective,omitempty"`
	Value       *int          `json:"objective_value,omitempty"`
	Optimal     bool          `json:"optimal"`
	ManagedVMs  int           `json:"managed_vms"`
	Duration    int           `json:"duration"`
	Actions     []plan.Action `json:"actions"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
	AppliedBy string     `json:"applied_by,omitempty"`
}

// IsFinal returns true once the plan can no longer change status.
func (p *PlanRecord) IsFinal() bool {
	switch p.Status {
	case PlanStatusRejected, PlanStatusApplied, PlanStatusFailed:
		return true
	}
	return false
}

// PlanFilter selects plan records.
type PlanFilter struct {
	Status PlanStatus
	Source PlanSource
	Limit  int
}

// Matches reports whether the record passes the filter.
func (f PlanFilter) Matches(p *PlanRecord) bool {
	return (f.Status == "" || p.Status == f.Status) && (f.Source == "" || p.Source == f.Source)
}
