package pack

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/dshills/parlor/internal/pack/security"
)

// Manifest describes a pack's metadata and requirements.
type Manifest struct {
	// Identity
	Name        string `json:"name"`        // Unique identifier (e.g., "dice-ladder")
	Version     string `json:"version"`     // Semver (e.g., "1.2.0")
	Title       string `json:"title"`       // Human-readable catalogue title
	Description string `json:"description"` // Short description
	Author      string `json:"author"`      // Author name or org
	License     string `json:"license"`     // SPDX license identifier
	Homepage    string `json:"homepage"`    // URL to pack homepage

	// Entry point
	Entry string `json:"entry"` // Relative path to the entry Lua file (default: "init.lua")

	// Catalogue slug (default: the pack name)
	Slug string `json:"slug"`

	// Capabilities requested
	Capabilities []security.Capability `json:"capabilities"`

	// Storage request
	Storage StorageRequest `json:"storage"`

	// Internal: path to the pack directory
	path string
}

// StorageRequest declares the pack's artifact needs. The request is a
// ceiling the pack asks for, not one it is owed: the host clamps it.
type StorageRequest struct {
	MaxSizeBytes int64 `json:"maxSizeBytes"`
}

// Validation errors.
var (
	ErrMissingName       = errors.New("manifest: name is required")
	ErrInvalidName       = errors.New("manifest: name must be lowercase alphanumeric with hyphens or underscores")
	ErrMissingVersion    = errors.New("manifest: version is required")
	ErrInvalidVersion    = errors.New("manifest: version must be valid semver")
	ErrInvalidEntry      = errors.New("manifest: entry must be a .lua file")
	ErrInvalidSlug       = errors.New("manifest: slug must be lowercase alphanumeric with hyphens or underscores")
	ErrInvalidCapability = errors.New("manifest: invalid capability")
	ErrInvalidQuota      = errors.New("manifest: storage.maxSizeBytes must not be negative")
)

// namePattern validates pack names and catalogue slugs.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// semverPattern validates version strings (simplified semver).
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// LoadManifest loads and validates a pack manifest from a file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	// Set the path to the pack directory
	m.path = filepath.Dir(path)

	m.applyDefaults()

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// LoadManifestFromDir loads a manifest from a pack directory.
// Looks for pack.json in the directory.
func LoadManifestFromDir(dir string) (*Manifest, error) {
	return LoadManifest(filepath.Join(dir, "pack.json"))
}

// NewManifestMinimal creates a minimal manifest for single-file packs.
func NewManifestMinimal(name, path string) *Manifest {
	return &Manifest{
		Name:    name,
		Version: "0.0.0",
		Entry:   "init.lua",
		Slug:    name,
		path:    path,
	}
}

// applyDefaults sets default values for optional fields.
func (m *Manifest) applyDefaults() {
	if m.Entry == "" {
		m.Entry = "init.lua"
	}
	if m.Version == "" {
		m.Version = "0.0.0"
	}
	if m.Slug == "" {
		m.Slug = m.Name
	}
}

// Validate checks that the manifest is valid.
func (m *Manifest) Validate() error {
	// Required fields
	if m.Name == "" {
		return ErrMissingName
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("%w: %s", ErrInvalidName, m.Name)
	}

	if m.Version == "" {
		return ErrMissingVersion
	}
	if !semverPattern.MatchString(m.Version) {
		return fmt.Errorf("%w: %s", ErrInvalidVersion, m.Version)
	}

	// Entry file
	if m.Entry != "" && filepath.Ext(m.Entry) != ".lua" {
		return fmt.Errorf("%w: %s", ErrInvalidEntry, m.Entry)
	}

	// Slug
	if m.Slug != "" && !namePattern.MatchString(m.Slug) {
		return fmt.Errorf("%w: %s", ErrInvalidSlug, m.Slug)
	}

	// Capabilities
	for _, cap := range m.Capabilities {
		if !security.IsValidCapability(cap) {
			return fmt.Errorf("%w: %s", ErrInvalidCapability, cap)
		}
	}

	// Storage request
	if m.Storage.MaxSizeBytes < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuota, m.Storage.MaxSizeBytes)
	}

	return nil
}

// Path returns the path to the pack directory.
func (m *Manifest) Path() string {
	return m.path
}

// EntryPath returns the full path to the entry Lua file.
func (m *Manifest) EntryPath() string {
	return filepath.Join(m.path, m.Entry)
}

// HasCapability returns true if the pack requests the capability.
func (m *Manifest) HasCapability(cap security.Capability) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// EffectiveQuota resolves the pack's storage ceiling against the host
// ceiling: a missing or zero request means the host ceiling applies, and
// a request above the host ceiling is clamped to it. A negative host
// ceiling disables the clamp entirely.
func (m *Manifest) EffectiveQuota(hostCeiling int64) int64 {
	req := m.Storage.MaxSizeBytes
	if req <= 0 {
		return hostCeiling
	}
	if hostCeiling > 0 && req > hostCeiling {
		return hostCeiling
	}
	return req
}

// String returns a string representation of the manifest.
func (m *Manifest) String() string {
	title := m.Title
	if title == "" {
		title = m.Name
	}
	return fmt.Sprintf("%s v%s", title, m.Version)
}

// Clone creates a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	clone := *m

	if m.Capabilities != nil {
		clone.Capabilities = make([]security.Capability, len(m.Capabilities))
		copy(clone.Capabilities, m.Capabilities)
	}

	return &clone
}
