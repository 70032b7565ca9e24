package failclosed

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/status"
)

// #region error
// Error is a fail-closed contract violation. Callers must treat it as halting
// for the affected job.
type Error struct {
	Code    Code
	Context string
}

// New creates a violation with a static context string.
func New(code Code, context string) *Error {
	return &Error{Code: code, Context: context}
}

// Newf creates a violation with a formatted context.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Context: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Context == "" {
		return fmt.Sprintf("fail-closed %s", e.Code)
	}
	return fmt.Sprintf("fail-closed %s: %s", e.Code, e.Context)
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// GRPCStatus lets status.FromError convert the violation at an RPC boundary.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.Code.GRPCCode(), e.Error())
}

// As extracts a fail-closed violation from an error chain.
func As(err error) (*Error, bool) {
	var fc *Error
	if errors.As(err, &fc) {
		return fc, true
	}
	return nil, false
}

// HasCode reports whether err carries a violation with the given code.
func HasCode(err error, code Code) bool {
	fc, ok := As(err)
	return ok && fc.Code == code
}

// #endregion error
