package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies automation failures.
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindPersistence     ErrorKind = "persistence"
	KindActionExecution ErrorKind = "action_execution"
	KindEvaluation      ErrorKind = "evaluation"
)

var (
	ErrRuleNotFound     = errors.New("rule not found")
	ErrTemplateNotFound = errors.New("template not found")
	ErrBuiltinRule      = errors.New("built-in rules cannot be deleted")
	ErrNoShipments      = errors.New("no shipments provided")
	ErrCollaborator     = errors.New("collaborator not configured")
)

// AutomationError wraps an underlying error with its kind and the failing operation.
type AutomationError struct {
	Kind    ErrorKind
	Op      string
	Err     error
	Message string
}

func (e *AutomationError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *AutomationError) Unwrap() error { return e.Err }

func validationError(op string, err error) error {
	return &AutomationError{Kind: KindValidation, Op: op, Err: err}
}

func persistenceError(op string, err error) error {
	return &AutomationError{Kind: KindPersistence, Op: op, Err: err}
}

func actionError(op string, err error) error {
	return &AutomationError{Kind: KindActionExecution, Op: op, Err: err}
}

func evaluationError(op string, err error) error {
	return &AutomationError{Kind: KindEvaluation, Op: op, Err: err}
}

// KindOf returns the kind of err, or "" when err is not an AutomationError.
func KindOf(err error) ErrorKind {
	var ae *AutomationError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

func IsValidation(err error) bool  { return KindOf(err) == KindValidation }
func IsPersistence(err error) bool { return KindOf(err) == KindPersistence }
