package pack

// State represents the lifecycle state of a pack.
type State int

// Pack states.
const (
	// StateUnloaded - Pack is not loaded.
	StateUnloaded State = iota

	// StateLoaded - Pack code is loaded but not activated.
	StateLoaded

	// StateActivating - Pack is being activated.
	StateActivating

	// StateActive - Pack is active and serving its game.
	StateActive

	// StateDeactivating - Pack is being deactivated.
	StateDeactivating

	// StateError - Pack encountered an error.
	StateError
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateDeactivating:
		return "deactivating"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// IsUsable returns true if the pack can be used (loaded or active).
func (s State) IsUsable() bool {
	return s == StateLoaded || s == StateActive
}
