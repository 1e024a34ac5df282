package engine

import (
	"errors"
	"fmt"
)

// SourceNotFoundError reports a load path that does not exist.
type SourceNotFoundError struct {
	Path string
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("source file not found: %s", e.Path)
}

// StepConfigError reports a malformed step configuration: a missing
// required field, an unknown operation, or an invalid value. Configuration
// does not change between immediate retries, so these never retry.
type StepConfigError struct {
	Reason string
}

func (e *StepConfigError) Error() string { return e.Reason }

func configErrorf(format string, args ...any) error {
	return &StepConfigError{Reason: fmt.Sprintf(format, args...)}
}

// UnresolvedParameterError reports a ${name} token with no matching key in
// the execution's parameter map.
type UnresolvedParameterError struct {
	Name string
}

func (e *UnresolvedParameterError) Error() string {
	return fmt.Sprintf("unresolved parameter ${%s}", e.Name)
}

// JoinKeyError reports a join key column absent from one side.
type JoinKeyError struct {
	Column string
	Side   string
}

func (e *JoinKeyError) Error() string {
	return fmt.Sprintf("join key %q not found in %s dataset", e.Column, e.Side)
}

// IsConfigError classifies failures for the retry loop: configuration and
// parameter errors fail a step on first occurrence, everything else is
// treated as transient and participates in retries.
func IsConfigError(err error) bool {
	var ce *StepConfigError
	var pe *UnresolvedParameterError
	return errors.As(err, &ce) || errors.As(err, &pe)
}
