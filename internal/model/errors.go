package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures for the error log and retry policy.
type ErrorKind string

const (
	KindNotFound              ErrorKind = "not_found"
	KindDirtyWorkingTree      ErrorKind = "dirty_working_tree"
	KindRefNotFound           ErrorKind = "ref_not_found"
	KindAmbiguousHistory      ErrorKind = "ambiguous_history"
	KindTransientCollaborator ErrorKind = "transient_collaborator"
	KindCollaboratorFailure   ErrorKind = "collaborator_failure"
	KindValidationMismatch    ErrorKind = "validation_mismatch"
	KindStore                 ErrorKind = "store"
	KindInternal              ErrorKind = "internal"
)

// PipelineError carries a classified kind across the executor boundary.
// Executors never let an unclassified error escape to the scheduler.
type PipelineError struct {
	Kind ErrorKind
	Err  error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind.
func NewError(kind ErrorKind, err error) *PipelineError {
	return &PipelineError{Kind: kind, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind ErrorKind, format string, args ...any) *PipelineError {
	return &PipelineError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the classified kind from err, KindInternal if unclassified.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// IsTransient reports whether err should be retried inside the executor.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransientCollaborator
}
