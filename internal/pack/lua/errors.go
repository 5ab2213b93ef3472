package lua

import "errors"

// Errors for Lua state operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrInstructionLimit is returned when a script exceeds its
	// instruction budget.
	ErrInstructionLimit = errors.New("lua instruction limit exceeded")
)
