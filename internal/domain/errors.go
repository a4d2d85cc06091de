package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrAssembly     = errors.New("assembly failed")
	ErrNotification = errors.New("notification failed")
)

// ValidationError rejects malformed input before anything is persisted.
type ValidationError struct {
	Field   string
	Reason  string
	Details map[string]any
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e ValidationError) Is(target error) bool { return target == ErrValidation }

type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return e.Kind + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

type ConflictError struct {
	Reason string
}

func (e ConflictError) Error() string { return e.Reason }

func (e ConflictError) Is(target error) bool { return target == ErrConflict }

// AssemblyError wraps a merge, stamp, render or store failure.
type AssemblyError struct {
	Op  string
	Err error
}

func (e AssemblyError) Error() string {
	if e.Err == nil {
		return e.Op + ": assembly failed"
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e AssemblyError) Unwrap() error { return e.Err }

func (e AssemblyError) Is(target error) bool { return target == ErrAssembly }

type NotificationError struct {
	Target string
	Err    error
}

func (e NotificationError) Error() string {
	return fmt.Sprintf("notify %s: %v", e.Target, e.Err)
}

func (e NotificationError) Unwrap() error { return e.Err }

func (e NotificationError) Is(target error) bool { return target == ErrNotification }
