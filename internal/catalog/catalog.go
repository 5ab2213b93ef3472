// Package catalog maps catalogue slugs to installed packs.
//
// The catalogue file lists what the site offers; the pack loader knows
// what is installed. The registry joins the two: it validates the file,
// answers slug lookups, and reports entries whose pack is not present.
// Page rendering, routing, and dataset delivery live outside this
// package.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/dshills/parlor/internal/pack"
)

// Validation errors.
var (
	ErrMissingSlug   = errors.New("catalog: entry slug is required")
	ErrInvalidSlug   = errors.New("catalog: slug must be lowercase alphanumeric with hyphens or underscores")
	ErrMissingPack   = errors.New("catalog: entry pack is required")
	ErrDuplicateSlug = errors.New("catalog: duplicate slug")
	ErrEntryNotFound = errors.New("catalog: entry not found")
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Entry is one catalogue listing. Slug is the public identifier a page
// request carries; Pack names the installed pack that serves it.
type Entry struct {
	Slug     string `yaml:"slug"`
	Title    string `yaml:"title"`
	Pack     string `yaml:"pack"`
	Featured bool   `yaml:"featured"`
}

// Validate checks a single entry.
func (e Entry) Validate() error {
	if e.Slug == "" {
		return ErrMissingSlug
	}
	if !slugPattern.MatchString(e.Slug) {
		return fmt.Errorf("%w: %s", ErrInvalidSlug, e.Slug)
	}
	if e.Pack == "" {
		return fmt.Errorf("%w: slug %s", ErrMissingPack, e.Slug)
	}
	return nil
}

// catalogFile is the on-disk shape of catalog.yaml.
type catalogFile struct {
	Entries []Entry `yaml:"entries"`
}

// LoadFile parses and validates a catalogue file. Duplicate slugs fail
// validation; file order is preserved.
func LoadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalogue: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalogue: %w", err)
	}

	seen := make(map[string]bool, len(file.Entries))
	for _, entry := range file.Entries {
		if err := entry.Validate(); err != nil {
			return nil, err
		}
		if seen[entry.Slug] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSlug, entry.Slug)
		}
		seen[entry.Slug] = true
	}

	return file.Entries, nil
}

// Registry answers slug lookups against the installed packs.
type Registry struct {
	mu sync.RWMutex

	entries map[string]Entry
	order   []string

	loader *pack.Loader
}

// NewRegistry creates an empty registry resolving through the loader.
func NewRegistry(loader *pack.Loader) *Registry {
	return &Registry{
		entries: make(map[string]Entry),
		loader:  loader,
	}
}

// LoadFile loads a catalogue file into the registry, replacing the
// current entries.
func (r *Registry) LoadFile(path string) error {
	entries, err := LoadFile(path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]Entry, len(entries))
	r.order = r.order[:0]
	for _, entry := range entries {
		r.entries[entry.Slug] = entry
		r.order = append(r.order, entry.Slug)
	}
	return nil
}

// Add registers a single entry.
func (r *Registry) Add(entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[entry.Slug]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSlug, entry.Slug)
	}
	r.entries[entry.Slug] = entry
	r.order = append(r.order, entry.Slug)
	return nil
}

// Get returns the entry for a slug.
func (r *Registry) Get(slug string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[slug]
	return entry, ok
}

// List returns all entries in file order.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.order))
	for _, slug := range r.order {
		entries = append(entries, r.entries[slug])
	}
	return entries
}

// Featured returns the featured entries in file order.
func (r *Registry) Featured() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var featured []Entry
	for _, slug := range r.order {
		if entry := r.entries[slug]; entry.Featured {
			featured = append(featured, entry)
		}
	}
	return featured
}

// Count returns the number of entries.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Resolve maps a slug to the manifest of its installed pack.
func (r *Registry) Resolve(slug string) (*pack.Manifest, error) {
	r.mu.RLock()
	entry, ok := r.entries[slug]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, slug)
	}

	info, err := r.loader.FindPack(entry.Pack)
	if err != nil {
		return nil, fmt.Errorf("catalogue entry %s: %w", slug, err)
	}
	if info.Manifest == nil {
		return nil, fmt.Errorf("catalogue entry %s: pack %s has no manifest", slug, entry.Pack)
	}
	return info.Manifest, nil
}

// Missing returns entries whose pack is not installed. The catalogue can
// legitimately list packs ahead of their installation; callers decide
// whether that is a warning or an error.
func (r *Registry) Missing() []Entry {
	r.mu.RLock()
	order := append([]string{}, r.order...)
	r.mu.RUnlock()

	var missing []Entry
	for _, slug := range order {
		entry, ok := r.Get(slug)
		if !ok {
			continue
		}
		if _, err := r.loader.FindPack(entry.Pack); err != nil {
			missing = append(missing, entry)
		}
	}
	return missing
}
