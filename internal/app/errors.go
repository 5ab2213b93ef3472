package app

import (
	"errors"
	"fmt"
)

// Application errors.
var (
	// ErrAlreadyRunning indicates the host is already running.
	ErrAlreadyRunning = errors.New("host already running")

	// ErrNotRunning indicates the host is not running.
	ErrNotRunning = errors.New("host not running")
)

// InitError reports which component failed during startup.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return "init " + e.Component + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// ComponentError represents an error from a specific component during
// shutdown or other coordinated operations.
type ComponentError struct {
	Component string
	Action    string
	Err       error
}

// NewComponentError creates a new ComponentError.
func NewComponentError(component, action string, err error) *ComponentError {
	return &ComponentError{
		Component: component,
		Action:    action,
		Err:       err,
	}
}

func (e *ComponentError) Error() string {
	if e == nil {
		return ""
	}

	if e.Action != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Component, e.Action, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Component, e.Action)
	}

	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Component, e.Err)
	}

	return e.Component
}

func (e *ComponentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrorList collects multiple errors. Not safe for concurrent use.
type ErrorList struct {
	errors []error
}

// NewErrorList creates a new ErrorList.
func NewErrorList() *ErrorList {
	return &ErrorList{
		errors: make([]error, 0),
	}
}

// Add adds an error to the list. Nil errors are ignored.
func (e *ErrorList) Add(err error) {
	if err != nil {
		e.errors = append(e.errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e *ErrorList) HasErrors() bool {
	return len(e.errors) > 0
}

// Len returns the number of errors.
func (e *ErrorList) Len() int {
	return len(e.errors)
}

// Errors returns a copy of the error slice.
func (e *ErrorList) Errors() []error {
	if e == nil || len(e.errors) == 0 {
		return nil
	}
	out := make([]error, len(e.errors))
	copy(out, e.errors)
	return out
}

// Error returns a combined error message.
func (e *ErrorList) Error() string {
	if e == nil || len(e.errors) == 0 {
		return ""
	}

	if len(e.errors) == 1 {
		return e.errors[0].Error()
	}

	return fmt.Sprintf("%d errors: first: %v", len(e.errors), e.errors[0])
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e *ErrorList) Unwrap() []error {
	if e == nil {
		return nil
	}
	return e.errors
}

// AsError returns nil if there are no errors, otherwise the list.
func (e *ErrorList) AsError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// First returns the first error, or nil if empty.
func (e *ErrorList) First() error {
	if len(e.errors) == 0 {
		return nil
	}
	return e.errors[0]
}
