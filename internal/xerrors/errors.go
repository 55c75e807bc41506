// Package xerrors provides the standardized application error used
// across the report store, adapted from the log-capture pipeline's
// error taxonomy to the store's own error kinds (spec.md §7).
package xerrors

import (
	"fmt"
	"time"
)

// Severity levels for a StoreError.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Error codes, one per row of spec.md §7's error table.
const (
	CodeReportMalformed = "REPORT_MALFORMED"
	CodeReportIO        = "REPORT_IO"
	CodeIndexQuery      = "INDEX_QUERY_FAILED"
	CodeIndexCommit     = "INDEX_COMMIT_FAILED"
	CodeIndexPerTask    = "INDEX_TASK_UPDATE_FAILED"
	CodeHandleCache     = "HANDLE_CACHE_FAILED"
	CodeStoreStartup    = "STORE_STARTUP_FAILED"
)

// StoreError is the standardized error type. Every component in the
// store wraps the errors it doesn't swallow in one of these so that
// logging has a consistent shape.
type StoreError struct {
	Code      string
	Component string
	Operation string
	Message   string
	Cause     error
	Severity  Severity
	Timestamp time.Time
	TaskID    string
}

func New(code, component, operation, message string) *StoreError {
	return &StoreError{
		Code:      code,
		Component: component,
		Operation: operation,
		Message:   message,
		Severity:  SeverityMedium,
		Timestamp: time.Now(),
	}
}

func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Component, e.Operation, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
}

func (e *StoreError) Unwrap() error { return e.Cause }

func (e *StoreError) Wrap(cause error) *StoreError {
	e.Cause = cause
	return e
}

func (e *StoreError) WithSeverity(s Severity) *StoreError {
	e.Severity = s
	return e
}

func (e *StoreError) WithTaskID(taskID string) *StoreError {
	e.TaskID = taskID
	return e
}

// Fatal constructs a startup error — the one place this package's
// errors are allowed to propagate to the caller and abort the process
// (spec.md §7's "Startup error" row).
func Fatal(operation, message string, cause error) *StoreError {
	return New(CodeStoreStartup, "store", operation, message).WithSeverity(SeverityCritical).Wrap(cause)
}
