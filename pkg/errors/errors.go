// Package errors defines the error kinds shared by the index engine and the
// services built on it, plus the mapping from those kinds to HTTP statuses.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrIO             = errors.New("storage i/o failure")
	ErrLockContention = errors.New("index is locked by another writer")
	ErrParse          = errors.New("malformed query")
	ErrNotFound       = errors.New("not found")
	ErrInvalidState   = errors.New("invalid state")
	ErrInvalidInput   = errors.New("invalid input")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrInternal       = errors.New("internal error")
	ErrTimeout        = errors.New("operation timed out")
	ErrUnavailable    = errors.New("dependency unavailable")
)

// OpError records a failed operation on a path. errors.Is matches both the
// kind and the underlying cause.
type OpError struct {
	Kind error
	Op   string
	Path string
	Err  error
}

func (e *OpError) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg + ": " + e.Kind.Error()
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IO wraps err as an ErrIO failure of op on path.
func IO(op, path string, err error) error {
	return &OpError{Kind: ErrIO, Op: op, Path: path, Err: err}
}

// Op builds an OpError of the given kind with a formatted cause.
func Op(kind error, op, format string, args ...any) error {
	return &OpError{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrParse), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrLockContention):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
