package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNothingToCommit is returned when a commit was requested over a clean working tree
var ErrNothingToCommit = errors.New("nothing to commit")

// SpecValidationError reports a malformed or incomplete history specification
type SpecValidationError struct {
	Path     string
	Problems []string
	Err      error
}

func (e *SpecValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid history specification")
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	for _, p := range e.Problems {
		b.WriteString("\n  - ")
		b.WriteString(p)
	}
	return b.String()
}

func (e *SpecValidationError) Unwrap() error { return e.Err }

// BranchError reports an unusable branch state: missing refs, no merge-base,
// or a cleaned branch that does not grow from the expected base.
type BranchError struct {
	Branch string
	Reason string
	Err    error
}

func (e *BranchError) Error() string {
	msg := fmt.Sprintf("branch %s: %s", e.Branch, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BranchError) Unwrap() error { return e.Err }

// BuildExecutionError means a build or test command could not be launched at
// all. A command that runs and fails is a failed Verdict instead.
type BuildExecutionError struct {
	Step    string
	Command []string
	Err     error
}

func (e *BuildExecutionError) Error() string {
	return fmt.Sprintf("cannot run %s command %q: %v", e.Step, strings.Join(e.Command, " "), e.Err)
}

func (e *BuildExecutionError) Unwrap() error { return e.Err }

// UnresolvedResumeError is returned when a stuck commit is resumed without a
// Resolved entry after its Stuck entry.
type UnresolvedResumeError struct {
	Index   int
	Message string
	Summary string
}

func (e *UnresolvedResumeError) Error() string {
	return fmt.Sprintf("commit %d (%q) is stuck: %s\nadd a resolved entry to its history, e.g. { resolved = \"what you changed\" }, or run `retcon resolve`",
		e.Index+1, e.Message, e.Summary)
}
