// Package apperrors defines the error taxonomy shared by the controller and
// the HTTP surface. Every error a subsystem can return is one of the kinds
// below; the HTTP surface maps kinds to status codes via As instead of
// inspecting error strings.
package apperrors

import (
	"fmt"
	"strings"
)

// Kind is the taxonomy discriminant from spec §7.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindRerunNeeded  Kind = "rerun_required"
	KindValidation   Kind = "validation"
	KindDependency   Kind = "dependency"
	KindScheduler    Kind = "scheduler"
	KindTemplate     Kind = "template"
	KindConfig       Kind = "config"
)

// Error is the unified error type. Subsystem and Operand name what failed
// (e.g. "state store", run_id) so the message is actionable without the
// caller needing to parse it.
type Error struct {
	Kind        Kind
	Subsystem   string
	Operand     string
	Message     string
	Remediation string
	Errors      []string // ValidationError: the full list of preflight failures
	Warnings    []string // ValidationError: non-fatal preflight warnings
	Cause       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Subsystem)
	if e.Operand != "" {
		fmt.Fprintf(&b, "(%s)", e.Operand)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Remediation != "" {
		b.WriteString(" — ")
		b.WriteString(e.Remediation)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, subsystem, operand, msg string) *Error {
	return &Error{Kind: kind, Subsystem: subsystem, Operand: operand, Message: msg}
}

// NotFound builds a NotFound error for a missing run or stage.
func NotFound(subsystem, operand, msg string) *Error {
	return newErr(KindNotFound, subsystem, operand, msg)
}

// Conflict builds a Conflict error (e.g. create collision, adapter update
// while trim is running).
func Conflict(subsystem, operand, msg string) *Error {
	return newErr(KindConflict, subsystem, operand, msg)
}

// RerunRequired builds the error returned when a stage's done-flag already
// exists and confirm_rerun was not set.
func RerunRequired(stage, runID string) *Error {
	e := newErr(KindRerunNeeded, "controller", runID, fmt.Sprintf("stage %q already completed", stage))
	e.Remediation = fmt.Sprintf("resubmit with confirm_rerun=true to rerun %q", stage)
	return e
}

// Validation builds a ValidationError carrying the full errors/warnings list
// from the stage validator.
func Validation(stage string, errs, warnings []string) *Error {
	e := newErr(KindValidation, "validator", stage, "preflight validation failed")
	e.Errors = errs
	e.Warnings = warnings
	return e
}

// Dependency builds a DependencyError naming the unmet prerequisite stage.
func Dependency(stage, missingDep string) *Error {
	e := newErr(KindDependency, "controller", stage, fmt.Sprintf("dependency %s not completed", missingDep))
	e.Remediation = fmt.Sprintf("submit and complete %q first", missingDep)
	return e
}

// Scheduler builds a SchedulerError wrapping a submit/status/cancel/accounts
// failure or timeout.
func Scheduler(operand, msg string, cause error) *Error {
	e := newErr(KindScheduler, "scheduler", operand, msg)
	e.Cause = cause
	return e
}

// Template builds a TemplateError (missing template file or unknown
// placeholder), carrying the offending path as operand.
func Template(path, msg string, cause error) *Error {
	e := newErr(KindTemplate, "template", path, msg)
	e.Cause = cause
	return e
}

// Config builds a ConfigError for install/work directory misconfiguration.
func Config(operand, msg string, cause error) *Error {
	e := newErr(KindConfig, "config", operand, msg)
	e.Cause = cause
	return e
}

// As returns the first *Error found by following err's Unwrap() error chain,
// starting with err itself. Errors that unwrap to a list (Unwrap() []error,
// as built by errors.Join) are not searched.
func As(err error) (*Error, bool) {
	ae, ok := err.(*Error)
	if ok {
		return ae, true
	}
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
		if ae, ok := err.(*Error); ok {
			return ae, true
		}
		if err == nil {
			return nil, false
		}
	}
}
