// Package pack runs community game packs inside parlor.
//
// A pack is a directory (or single Lua file) of third-party code that adds
// one game to the catalogue. Pack code runs in-process through a restricted
// Lua runtime and touches host data only through a sandboxed context:
// isolated per-pack SQLite storage with a size quota, plus a read-only
// façade over the core user table.
//
// # Pack Structure
//
// Packs can be either single-file or directory-based:
//
// Single-file pack:
//
//	~/.config/parlor/packs/dice-ladder.lua
//
// Directory pack:
//
//	~/.config/parlor/packs/dice-ladder/
//	├── pack.json        # Manifest (optional but recommended)
//	└── init.lua         # Entry point
//
// # Manifest
//
// The pack.json manifest describes the pack:
//
//	{
//	  "name": "dice-ladder",
//	  "version": "1.0.0",
//	  "title": "Dice Ladder",
//	  "description": "Climb the ladder, one roll at a time",
//	  "entry": "init.lua",
//	  "capabilities": ["storage", "users.read", "log"],
//	  "storage": {"maxSizeBytes": 10485760}
//	}
//
// The storage request is clamped to the host ceiling; a pack cannot grant
// itself more disk than the operator allows.
//
// # Capabilities
//
// Packs must declare required capabilities in their manifest:
//
//   - storage: isolated per-pack SQLite storage
//   - users.read: read-only access to the minimized member directory
//   - log: structured logging through the host
//
// There is no filesystem, network, or shell capability. The Lua io, os,
// and debug libraries stay shut for every pack.
//
// # Pack Lifecycle
//
// Packs go through these states:
//
//	StateUnloaded -> Load() -> StateLoaded
//	StateLoaded -> Activate() -> StateActive
//	StateActive -> Deactivate() -> StateLoaded
//	StateLoaded -> Unload() -> StateUnloaded
//
// Deactivation closes the pack's data context; activation assembles a
// fresh one.
//
// # Architecture
//
//   - Manager: pack lifecycle (discovery, loading, activation, events)
//   - Host: per-pack Lua state, permissions, and data context
//   - Loader: discovers packs in the filesystem
//   - Watcher: fsnotify-driven reload of changed packs
//
// # Example Pack
//
//	-- init.lua
//	local parlor = require("parlor")
//
//	function setup(config)
//	    parlor.storage.exec([[
//	        CREATE TABLE IF NOT EXISTS scores (
//	            user_id INTEGER PRIMARY KEY,
//	            points  INTEGER NOT NULL DEFAULT 0
//	        )
//	    ]])
//	end
//
//	function activate()
//	    parlor.log.info("dice ladder ready")
//	end
//
//	function on_roll(user_id, roll)
//	    parlor.storage.run(
//	        "INSERT INTO scores(user_id, points) VALUES (?, ?) " ..
//	        "ON CONFLICT(user_id) DO UPDATE SET points = points + ?",
//	        user_id, roll, roll)
//	end
package pack
