package commands

import (
	"errors"
	"fmt"

	"github.com/MrLemur/retcon/internal/models"
)

// Process exit codes
const (
	ExitFailure      = 1
	ExitInvalidSpec  = 2
	ExitUnresolved   = 3
	ExitStuck        = 4
	ExitFatalRuntime = 5
)

// ExitCoder is an error that carries a process exit code
type ExitCoder interface {
	error
	ExitCode() int
}

// ExitError is an error that carries an explicit process exit code.
// It supports wrapping via Unwrap so errors.Is/As work as expected.
type ExitError struct {
	code  int
	msg   string
	cause error
}

func (e *ExitError) Error() string {
	if e.cause == nil {
		return e.msg
	}
	if e.msg == "" {
		return e.cause.Error()
	}
	return fmt.Sprintf("%s: %v", e.msg, e.cause)
}

func (e *ExitError) ExitCode() int { return e.code }

func (e *ExitError) Unwrap() error { return e.cause }

// NewExitError creates an ExitError with a message
func NewExitError(code int, msg string) error {
	return &ExitError{code: normalize(code), msg: msg}
}

// WrapExitError creates an ExitError that wraps an underlying cause
func WrapExitError(code int, msg string, cause error) error {
	if cause == nil {
		return NewExitError(code, msg)
	}
	return &ExitError{code: normalize(code), msg: msg, cause: cause}
}

// ExitCodeOf extracts an exit code from any error, defaulting to 1
func ExitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var ec ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return ExitFailure
}

// classify attaches the exit code matching a domain error
func classify(err error) error {
	if err == nil {
		return nil
	}
	var (
		ec          ExitCoder
		specErr     *models.SpecValidationError
		unresolved  *models.UnresolvedResumeError
		branchErr   *models.BranchError
		buildExeErr *models.BuildExecutionError
	)
	switch {
	case errors.As(err, &ec):
		return err
	case errors.As(err, &specErr):
		return WrapExitError(ExitInvalidSpec, "", err)
	case errors.As(err, &unresolved):
		return WrapExitError(ExitUnresolved, "", err)
	case errors.As(err, &branchErr), errors.As(err, &buildExeErr):
		return WrapExitError(ExitFatalRuntime, "", err)
	default:
		return err
	}
}

func normalize(code int) int {
	if code <= 0 {
		return ExitFailure
	}
	return code
}
