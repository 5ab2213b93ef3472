// Package security provides the capability model for the pack system.
//
// Packs run third-party Lua inside the catalogue host, so every surface
// they can touch is gated by a capability declared in the pack manifest:
//
// # Capabilities
//
// Capabilities are permissions that packs must request in their manifest.
// The capability system is hierarchical - granting a parent capability
// (e.g., "users") implicitly grants all child capabilities (e.g.,
// "users.read").
//
// Core capabilities:
//   - storage: the pack's own isolated database
//   - users.read: minimized member directory lookups
//   - log: the host log stream
//
// There is no filesystem, network, or shell capability. Packs cannot be
// granted those surfaces at all.
//
// # Permissions
//
// The PermissionChecker holds the capabilities granted to one pack and
// answers yes/no for each gated operation. API module injection consults
// it so that an ungranted module never appears in the pack's Lua state.
//
// # Resource Limits
//
// ResourceMonitor tracks what a pack consumes and trips when a ceiling
// is crossed:
//
//   - Memory limits (advisory)
//   - Execution timeouts
//   - Instruction limits (Lua VM)
//   - Storage quota for the pack's database artifact
//   - Rate limiting for storage statements and member lookups
//   - Log output ceilings
//
// Example usage:
//
//	checker := security.NewPermissionChecker("dice-ladder")
//	checker.Grant(security.CapabilityStorage)
//
//	if err := checker.CheckStorage("run"); err != nil {
//	    // Access denied
//	}
//
//	monitor := security.NewResourceMonitor(security.DefaultResourceLimits())
//	if monitor.IncrementInstructions(1000) {
//	    // Limit exceeded
//	}
package security
