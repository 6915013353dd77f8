package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the boundary layer.
type Kind int

const (
	Internal Kind = iota
	NotFound
	InvalidArgument
	RuleFailure
	ExecutionFailure
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NOT_FOUND"
	case InvalidArgument:
		return "INVALID_ARGUMENT"
	case RuleFailure:
		return "RULE_FAILURE"
	case ExecutionFailure:
		return "EXECUTION_FAILURE"
	default:
		return "INTERNAL_ERROR"
	}
}

// Status returns the HTTP status the boundary uses for the kind.
func (k Kind) Status() int {
	switch k {
	case NotFound:
		return 404
	case InvalidArgument:
		return 400
	case RuleFailure:
		return 422
	default:
		return 500
	}
}

type Error struct {
	Kind    Kind          `json:"-"`
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
	Err     error         `json:"-"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

type ErrorResponse struct {
	Error *Error `json:"error"`
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Code: kind.String(), Status: kind.Status(), Message: msg}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	e := New(kind, fmt.Sprintf(format, args...))
	e.Err = err
	return e
}

func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

func InvalidArgumentf(format string, args ...any) *Error {
	return New(InvalidArgument, fmt.Sprintf(format, args...))
}

// RuleFailed carries the failing rule's message to the caller unchanged.
func RuleFailed(rule, message string) *Error {
	e := New(RuleFailure, message)
	e.Details = []ErrorDetail{{Rule: rule, Message: message}}
	return e
}

func ExecutionFailuref(err error, format string, args ...any) *Error {
	return Wrap(ExecutionFailure, err, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
