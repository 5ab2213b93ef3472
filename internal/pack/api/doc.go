// Package api provides the Lua API modules exposed to parlor packs.
//
// The API package bridges pack Lua scripts and the catalogue host. Packs
// reach the host through the "parlor" namespace, which aggregates several
// submodules:
//
//   - parlor.storage: the pack's own isolated database (run, get, all, exec)
//   - parlor.users: minimized member lookups (get, get_many, username_map, exists)
//   - parlor.auth: the member the current hook runs for (current_user)
//   - parlor.log: the host log stream (debug, info, warn, error)
//   - parlor.util: string and table helpers plus score formatting
//
// Each submodule is also requirable on its own, so both forms work:
//
//	local parlor = require("parlor")
//	parlor.storage.run("INSERT INTO scores(points) VALUES (?)", 100)
//
//	local storage = require("parlor.storage")
//	storage.run("INSERT INTO scores(points) VALUES (?)", 100)
//
// # Architecture
//
// Each API module implements the Module interface:
//
//	type Module interface {
//	    Name() string
//	    RequiredCapability() security.Capability
//	    Register(L *lua.LState) error
//	}
//
// Modules register themselves under a _parlor_<name> staging global; the
// registry collects those into the "parlor" table and preloads it so
// require resolves through the sandbox guard.
//
// # Capability-Based Security
//
// API modules declare their required capabilities. When injecting modules
// into a pack's Lua state, the Registry checks the pack's granted
// capabilities and only injects modules the pack has permission to use.
// A pack without the storage capability never sees parlor.storage at all;
// require("parlor.storage") fails inside its sandbox.
//
// # Context
//
// The Context struct hands modules their host-side surfaces: the pack's
// sandbox storage, the member directory facade, the auth provider, the
// host logger, and an optional resource monitor that rate limits storage
// statements and member lookups. One Context (and one Registry) is built
// per pack, because storage and users are pack-scoped.
package api
