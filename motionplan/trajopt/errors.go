package trajopt

import (
	"fmt"

	"github.com/pkg/errors"
)

// BuildError is returned for any malformed problem description. It wraps one of UnknownManipulatorError,
// InvalidRangeError or ParseError, or a plain error for other inconsistencies.
type BuildError struct {
	Err error
}

func (e *BuildError) Error() string {
	return "cannot build trajectory problem: " + e.Err.Error()
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

func newBuildError(err error) error {
	var already *BuildError
	if errors.As(err, &already) {
		return err
	}
	return &BuildError{Err: err}
}

func newBuildErrorf(format string, args ...interface{}) error {
	return &BuildError{Err: errors.Errorf(format, args...)}
}

// UnknownManipulatorError is returned when the environment has no manipulator with the requested name.
type UnknownManipulatorError struct {
	Name string
}

func (e *UnknownManipulatorError) Error() string {
	return fmt.Sprintf("manipulator does not exist: %q", e.Name)
}

// InvalidRangeError is returned when a value, usually a step index, lies outside what the problem allows.
type InvalidRangeError struct {
	Term   string
	Field  string
	Reason string
}

func (e *InvalidRangeError) Error() string {
	if e.Term == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("term %q has invalid %s: %s", e.Term, e.Field, e.Reason)
}

func newStepRangeError(term string, first, last, numSteps int) error {
	return &InvalidRangeError{
		Term:   term,
		Field:  "step range",
		Reason: fmt.Sprintf("[%d, %d] is not an ordered range inside [0, %d]", first, last, numSteps-1),
	}
}

// ParseError is returned when a problem document cannot be decoded.
type ParseError struct {
	// Path locates the offending element, such as "costs[2]".
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return "cannot parse problem document: " + e.Err.Error()
	}
	return fmt.Sprintf("cannot parse problem document at %s: %s", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func newParseError(path string, err error) error {
	return &BuildError{Err: &ParseError{Path: path, Err: err}}
}
