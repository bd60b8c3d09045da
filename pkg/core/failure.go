package core

import "fmt"

// FailureKind classifies a backend execution failure.
type FailureKind string

// Execution failure kinds.
const (
	FailureSyntax        FailureKind = "SYNTAX"
	FailureMissingObject FailureKind = "MISSING_OBJECT"
	FailureType          FailureKind = "TYPE"
	FailureTimeout       FailureKind = "TIMEOUT"
	FailureConnection    FailureKind = "CONNECTION"
	FailureUnknownDomain FailureKind = "UNKNOWN_DOMAIN"
	FailureBackend       FailureKind = "BACKEND"
)

// ExecutionFailure is returned for every error raised while executing a statement.
type ExecutionFailure struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("execution failed (%s): %s", e.Kind, e.Message)
}

func (e *ExecutionFailure) Unwrap() error {
	return e.Err
}

// NewExecutionFailure wraps err with a kind, using err's text as the message.
func NewExecutionFailure(kind FailureKind, err error) *ExecutionFailure {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &ExecutionFailure{Kind: kind, Message: msg, Err: err}
}
