package agenterr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	Security        Kind = "security"
	GenerationParse Kind = "generation_parse"
	Execution       Kind = "execution"
	BudgetExhausted Kind = "budget_exhausted"
	Service         Kind = "service"
	Unknown         Kind = "unknown"
)

// Error is the failure shape shared by the sanitizer, the agents, and their collaborators.
// SQL carries the statement that was being processed, if any.
type Error struct {
	Kind     Kind
	Message  string
	SQL      string
	Attempts int
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: err}
}

func Wrapf(err error, kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: err}
}

func (e *Error) WithSQL(sql string) *Error {
	e.SQL = sql
	return e
}

// KindOf returns the kind of the outermost *Error in the chain.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return Unknown
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the Refiner may spend another attempt on err.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Security, Execution, GenerationParse:
		return true
	default:
		return false
	}
}
