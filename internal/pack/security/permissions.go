package security

import (
	"fmt"
	"sync"
)

// PermissionChecker validates permissions for pack operations.
// One checker belongs to one pack; the granted set comes from the
// pack manifest, possibly narrowed by host configuration.
type PermissionChecker struct {
	mu sync.RWMutex

	// Granted capabilities
	capabilities map[Capability]bool

	// Pack identity, used in denial messages
	packName string
}

// NewPermissionChecker creates a new permission checker.
func NewPermissionChecker(packName string) *PermissionChecker {
	return &PermissionChecker{
		capabilities: make(map[Capability]bool),
		packName:     packName,
	}
}

// PackName returns the name of the pack this checker belongs to.
func (pc *PermissionChecker) PackName() string {
	return pc.packName
}

// Grant grants a capability to the pack.
func (pc *PermissionChecker) Grant(cap Capability) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.capabilities[cap] = true
}

// GrantAll grants multiple capabilities.
func (pc *PermissionChecker) GrantAll(caps []Capability) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	for _, cap := range caps {
		pc.capabilities[cap] = true
	}
}

// Revoke revokes a capability from the pack.
func (pc *PermissionChecker) Revoke(cap Capability) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	delete(pc.capabilities, cap)
}

// HasCapability returns true if the capability is granted.
func (pc *PermissionChecker) HasCapability(cap Capability) bool {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	// Direct check
	if pc.capabilities[cap] {
		return true
	}

	// Check if any granted capability implies this one
	for granted := range pc.capabilities {
		if ImpliesCapability(granted, cap) {
			return true
		}
	}

	return false
}

// CheckCapability returns an error if the capability is not granted.
func (pc *PermissionChecker) CheckCapability(cap Capability) error {
	if !pc.HasCapability(cap) {
		return pc.denied(cap, "")
	}
	return nil
}

// Capabilities returns all granted capabilities.
func (pc *PermissionChecker) Capabilities() []Capability {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	caps := make([]Capability, 0, len(pc.capabilities))
	for cap := range pc.capabilities {
		caps = append(caps, cap)
	}
	return caps
}

// CheckStorage checks if a pack storage operation is permitted.
func (pc *PermissionChecker) CheckStorage(operation string) error {
	if !pc.HasCapability(CapabilityStorage) {
		return pc.denied(CapabilityStorage, operation)
	}
	return nil
}

// CheckUsersRead checks if a member directory lookup is permitted.
func (pc *PermissionChecker) CheckUsersRead(operation string) error {
	if !pc.HasCapability(CapabilityUsersRead) {
		return pc.denied(CapabilityUsersRead, operation)
	}
	return nil
}

// CheckLog checks if writing to the host log is permitted.
func (pc *PermissionChecker) CheckLog(operation string) error {
	if !pc.HasCapability(CapabilityLog) {
		return pc.denied(CapabilityLog, operation)
	}
	return nil
}

// denied builds the capability error for a refused operation.
func (pc *PermissionChecker) denied(cap Capability, operation string) *CapabilityError {
	msg := "not granted"
	if pc.packName != "" {
		msg = fmt.Sprintf("not granted to pack %q", pc.packName)
	}
	return NewCapabilityError(cap, operation, msg)
}

// Reset clears all granted capabilities.
func (pc *PermissionChecker) Reset() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.capabilities = make(map[Capability]bool)
}
