package models

import (
	"fmt"
	"strings"
)

// SchemaViolationError indicates a malformed deal spec: a missing required
// field or an unknown enum value found during hydration.
type SchemaViolationError struct {
	Path string
	Msg  string
}

func (e *SchemaViolationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("schema violation at %s: %s", e.Path, e.Msg)
	}
	return fmt.Sprintf("schema violation: %s", e.Msg)
}

// NewSchemaViolation creates a SchemaViolationError for the given spec path.
func NewSchemaViolation(path, format string, args ...any) *SchemaViolationError {
	return &SchemaViolationError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

// LogicIntegrityError indicates a syntactically valid spec with unresolved
// references. It lists every problem found, not just the first.
type LogicIntegrityError struct {
	Problems []string
}

func (e *LogicIntegrityError) Error() string {
	return fmt.Sprintf("deal spec failed integrity validation: %s", strings.Join(e.Problems, "; "))
}

// EvaluationError indicates a rule expression failure at evaluation time.
// The message formats are load-bearing: downstream tooling matches on the
// "Unknown variable in rule:" and "Calculation error:" prefixes.
type EvaluationError struct {
	Msg string
}

func (e *EvaluationError) Error() string {
	return e.Msg
}

// NewUnknownVariableError creates an EvaluationError for an unresolved name.
func NewUnknownVariableError(name string) *EvaluationError {
	return &EvaluationError{Msg: fmt.Sprintf("Unknown variable in rule: %s", name)}
}

// NewCalculationError creates an EvaluationError for any other evaluation failure.
func NewCalculationError(format string, args ...any) *EvaluationError {
	return &EvaluationError{Msg: fmt.Sprintf("Calculation error: %s", fmt.Sprintf(format, args...))}
}

// InvariantViolationError indicates programmer or data error: a negative
// deposit, a withdrawal that would drive a bucket negative beyond tolerance,
// or a reference to an unknown cash bucket.
type InvariantViolationError struct {
	Msg string
}

func (e *InvariantViolationError) Error() string {
	return e.Msg
}

// NewInvariantViolation creates an InvariantViolationError.
func NewInvariantViolation(format string, args ...any) *InvariantViolationError {
	return &InvariantViolationError{Msg: fmt.Sprintf(format, args...)}
}

// ExternalFailureError wraps a failure in an external collaborator, such as
// the ML cashflow provider.
type ExternalFailureError struct {
	Msg string
	Err error
}

func (e *ExternalFailureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ExternalFailureError) Unwrap() error {
	return e.Err
}
