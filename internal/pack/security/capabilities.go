package security

import (
	"fmt"
	"strings"
)

// Capability represents a permission that a pack can request.
// Capabilities are hierarchical - granting a parent capability
// implicitly grants all child capabilities.
type Capability string

// Core capabilities that packs can request.
const (
	// CapabilityStorage allows reading and writing the pack's own
	// isolated database artifact. It never reaches outside that file.
	CapabilityStorage Capability = "storage"

	// CapabilityUsers grants all member directory access, including
	// any future users.* capability.
	CapabilityUsers Capability = "users"

	// CapabilityUsersRead allows minimized member lookups through the
	// read-only directory facade.
	CapabilityUsersRead Capability = "users.read"

	// CapabilityLog allows writing to the host log stream.
	CapabilityLog Capability = "log"
)

// CapabilityInfo provides metadata about a capability.
type CapabilityInfo struct {
	// Name is the capability identifier.
	Name Capability

	// DisplayName is a human-readable name.
	DisplayName string

	// Description explains what the capability allows.
	Description string

	// Parent is the parent capability (for hierarchical capabilities).
	Parent Capability

	// RiskLevel indicates how sensitive this capability is.
	RiskLevel RiskLevel

	// RequiresApproval indicates the operator must explicitly approve
	// the grant rather than accepting the manifest as-is.
	RequiresApproval bool
}

// RiskLevel indicates the sensitivity of a capability.
type RiskLevel int

const (
	// RiskLow indicates minimal sensitivity.
	RiskLow RiskLevel = iota

	// RiskMedium indicates moderate sensitivity.
	RiskMedium

	// RiskHigh indicates significant sensitivity.
	RiskHigh
)

// String returns a string representation of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

// capabilityRegistry holds metadata about all known capabilities.
var capabilityRegistry = map[Capability]CapabilityInfo{
	CapabilityStorage: {
		Name:             CapabilityStorage,
		DisplayName:      "Pack Storage",
		Description:      "Read and write the pack's own isolated database",
		RiskLevel:        RiskLow,
		RequiresApproval: false,
	},
	CapabilityUsers: {
		Name:             CapabilityUsers,
		DisplayName:      "Member Directory",
		Description:      "All member directory access, current and future",
		RiskLevel:        RiskHigh,
		RequiresApproval: true,
	},
	CapabilityUsersRead: {
		Name:             CapabilityUsersRead,
		DisplayName:      "Member Lookup",
		Description:      "Look up member id, username, and display name",
		Parent:           CapabilityUsers,
		RiskLevel:        RiskMedium,
		RequiresApproval: false,
	},
	CapabilityLog: {
		Name:             CapabilityLog,
		DisplayName:      "Host Log",
		Description:      "Write pack messages to the host log stream",
		RiskLevel:        RiskLow,
		RequiresApproval: false,
	},
}

// GetCapabilityInfo returns information about a capability.
func GetCapabilityInfo(cap Capability) (CapabilityInfo, bool) {
	info, ok := capabilityRegistry[cap]
	return info, ok
}

// IsValidCapability returns true if the capability is known.
func IsValidCapability(cap Capability) bool {
	_, ok := capabilityRegistry[cap]
	return ok
}

// AllCapabilities returns all known capabilities.
func AllCapabilities() []Capability {
	caps := make([]Capability, 0, len(capabilityRegistry))
	for cap := range capabilityRegistry {
		caps = append(caps, cap)
	}
	return caps
}

// ApprovalCapabilities returns capabilities that require operator approval.
func ApprovalCapabilities() []Capability {
	var caps []Capability
	for cap, info := range capabilityRegistry {
		if info.RequiresApproval {
			caps = append(caps, cap)
		}
	}
	return caps
}

// IsChildOf returns true if child is a child of parent.
func IsChildOf(child, parent Capability) bool {
	// Direct string prefix check for hierarchical capabilities
	return strings.HasPrefix(string(child), string(parent)+".")
}

// ImpliesCapability returns true if having 'granted' implies having 'required'.
func ImpliesCapability(granted, required Capability) bool {
	// Same capability
	if granted == required {
		return true
	}

	// Check if granted is a parent of required
	return IsChildOf(required, granted)
}

// CapabilityError represents a capability-related error.
type CapabilityError struct {
	Capability Capability
	Operation  string
	Message    string
}

// Error implements the error interface.
func (e *CapabilityError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("capability %q required for %s: %s", e.Capability, e.Operation, e.Message)
	}
	return fmt.Sprintf("capability %q: %s", e.Capability, e.Message)
}

// NewCapabilityError creates a new capability error.
func NewCapabilityError(cap Capability, operation, message string) *CapabilityError {
	return &CapabilityError{
		Capability: cap,
		Operation:  operation,
		Message:    message,
	}
}
