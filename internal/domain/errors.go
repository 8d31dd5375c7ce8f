// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidInput indicates a request failed domain validation.
var ErrInvalidInput = errors.New("invalid input")

// ErrNoAgentsAvailable indicates every agent invocation in a consultation failed.
var ErrNoAgentsAvailable = errors.New("no agents available")

// ErrBudgetExceeded indicates a mission's spend reached its budget limit.
var ErrBudgetExceeded = errors.New("budget exceeded")

// ErrMissionAborted indicates a mission was halted by an explicit client abort.
var ErrMissionAborted = errors.New("mission aborted")

// ErrCheckpointPending indicates step execution is suspended on an unresolved checkpoint.
var ErrCheckpointPending = errors.New("checkpoint pending")

// ErrInvalidCheckpointOption indicates a checkpoint response selected an option
// that is not part of the checkpoint's option set.
var ErrInvalidCheckpointOption = errors.New("invalid checkpoint option")
