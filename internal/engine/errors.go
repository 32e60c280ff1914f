package engine

import (
	"errors"
	"fmt"
	"strings"
)

// IssueCode identifies a single parameter validation failure.
type IssueCode string

const (
	IssueMissingParameter IssueCode = "MissingParameter"
	IssueTypeMismatch     IssueCode = "TypeMismatch"
	IssueInvalidEnumValue IssueCode = "InvalidEnumValue"
	IssueOutOfRange       IssueCode = "OutOfRange"
	IssuePatternMismatch  IssueCode = "PatternMismatch"
)

type ParameterIssue struct {
	Name    string    `json:"name"`
	Code    IssueCode `json:"code"`
	Message string    `json:"message"`
}

// ValidationError carries every offending parameter, not just the first.
type ValidationError struct {
	Issues []ParameterIssue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "parameter validation failed"
	}
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s", issue.Name, issue.Message))
	}
	return "parameter validation failed: " + strings.Join(parts, "; ")
}

// PlanError reports a request-shape problem detected before any SQL runs.
type PlanError struct {
	Code   string
	RefIDs []string
	Reason string
}

const (
	PlanCyclicDependency = "CyclicDependency"
	PlanUnknownReference = "UnknownReference"
	PlanDuplicateRefID   = "DuplicateRefId"
	PlanInvalidNode      = "InvalidNode"
)

func (e *PlanError) Error() string {
	if len(e.RefIDs) > 0 {
		return fmt.Sprintf("%s [%s]: %s", e.Code, strings.Join(e.RefIDs, ","), e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// TimeRangeError reports an unparseable or inconsistent time range selector.
type TimeRangeError struct {
	Value  string
	Reason string
}

func (e *TimeRangeError) Error() string {
	return fmt.Sprintf("invalid time range %q: %s", e.Value, e.Reason)
}

// ExpressionError reports a derived-node expression that cannot be parsed or
// evaluated.
type ExpressionError struct {
	Expression string
	Reason     string
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("invalid expression %q: %s", e.Expression, e.Reason)
}

// UpstreamMissingError indicates a derived node referenced a result that was
// never computed. The planner orders dependencies first, so this is an
// internal invariant violation rather than a client error.
type UpstreamMissingError struct {
	RefID string
}

func (e *UpstreamMissingError) Error() string {
	return fmt.Sprintf("upstream result %q is missing", e.RefID)
}

// QueryError surfaces a failure from the target database with credentials
// redacted from the driver message.
type QueryError struct {
	RefID   string
	Timeout bool
	Message string
}

func (e *QueryError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("node %s: query timed out", e.RefID)
	}
	return fmt.Sprintf("node %s: %s", e.RefID, e.Message)
}

// ConnectionFailedError reports a target database that could not be reached.
// The message is redacted before it is stored.
type ConnectionFailedError struct {
	DataSourceRef string
	Message       string
}

func (e *ConnectionFailedError) Error() string {
	return fmt.Sprintf("data source %s: %s", e.DataSourceRef, e.Message)
}

// ErrPoolExhausted is returned when the pool is saturated and a connection
// could not be checked out within the configured acquire timeout.
var ErrPoolExhausted = errors.New("connection pool exhausted")
