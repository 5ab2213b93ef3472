// Package lua wraps gopher-lua for running untrusted game pack scripts.
//
// A State is a single sandboxed interpreter: only the base, table, string,
// math, and (neutered) package libraries are opened, the code-loading
// globals are removed, and require is replaced with a whitelist that
// resolves the parlor modules plus the safe built-ins and nothing else.
// There is no capability that opens io, os, or debug; packs talk to the
// outside world exclusively through the parlor modules preloaded by the
// host.
//
// gopher-lua states are not goroutine-safe. State methods take an internal
// mutex, so callers from multiple goroutines serialize on the state rather
// than corrupting it.
package lua
