// Package domain contains the control-plane domain models and business logic errors.
package domain

import "errors"

// Common domain errors
var (
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned when trying to create a resource that already exists.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidArgument is returned when an invalid argument is provided.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPermissionDenied is returned when the caller lacks permission for an operation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrConflict is returned when there's a conflict with current state.
	ErrConflict = errors.New("conflict with current state")

	// ErrStalePlan is returned when a plan no longer applies to the inventory.
	ErrStalePlan = errors.New("plan is stale")

	// ErrNotLeader is returned when an operation requires the leader instance.
	ErrNotLeader = errors.New("not the leader")
)
