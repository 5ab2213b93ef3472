package pack

import "errors"

// Pack system errors.
var (
	// ErrPackNotFound is returned when a pack cannot be located.
	ErrPackNotFound = errors.New("pack not found")

	// ErrNoEntryPoint is returned when a pack has no valid entry point.
	ErrNoEntryPoint = errors.New("pack has no entry point (pack.json or init.lua)")

	// ErrNilManifest is returned when a nil manifest is provided.
	ErrNilManifest = errors.New("manifest is nil")

	// ErrAlreadyLoaded is returned when attempting to load an already loaded pack.
	ErrAlreadyLoaded = errors.New("pack is already loaded")

	// ErrNotLoaded is returned when attempting to use an unloaded pack.
	ErrNotLoaded = errors.New("pack is not loaded")

	// ErrInvalidPack is returned when pack validation fails.
	ErrInvalidPack = errors.New("invalid pack")
)
