// Package sandbox isolates the data surface a community pack can touch.
//
// Every pack the catalogue activates receives a Context assembled here. The
// context exposes exactly two things:
//
//   - PackStorage: run/get/all/exec over the pack's own SQLite artifact,
//     one file per pack under the pack data directory. Mutations pass a
//     size-quota check first; reads never do, so a pack that has overrun
//     its budget can still get its data back out.
//   - CoreFacade: a read-only, parameterized view onto the core user
//     table. Results are projected down to id, username, and display name
//     before they leave the façade; credentials, contact details, and
//     roles cannot cross the boundary.
//
// Pack identifiers come from manifests and are not trusted. SanitizeToken
// maps an identifier onto a filesystem-safe token rune by rune, which is
// what keeps `../../etc/passwd` from ever resolving outside the data
// directory. Two identifiers that sanitize to the same token are refused
// by the StorageManager rather than silently sharing an artifact.
//
// The context lifecycle is Unopened → Active (first successful handle
// open) → Closed (explicit teardown). Operations on a closed context fail
// with ErrContextClosed; nothing is silently dropped.
//
// Nothing in this package knows about Lua. The pack runtime binds these
// interfaces into script-visible modules one level up.
package sandbox
