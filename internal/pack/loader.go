package pack

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Loader discovers packs in the filesystem.
type Loader struct {
	mu sync.Mutex

	// Search paths for packs (checked in order)
	paths []string

	// Discovered packs cache
	discovered map[string]*PackInfo
}

// PackInfo contains discovery information about a pack.
type PackInfo struct {
	Name     string
	Path     string
	Manifest *Manifest
	State    State
	Error    error
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithPaths sets the pack search paths.
func WithPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.paths = paths
	}
}

// NewLoader creates a new pack loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		paths:      DefaultPackPaths(),
		discovered: make(map[string]*PackInfo),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// DefaultPackPaths returns the default pack search paths.
func DefaultPackPaths() []string {
	paths := make([]string, 0, 3)

	// User packs: ~/.config/parlor/packs/
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "parlor", "packs"))
	}

	// User data packs: ~/.local/share/parlor/packs/
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".local", "share", "parlor", "packs"))
	}

	// Site packs: ./.parlor/packs/
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".parlor", "packs"))
	}

	return paths
}

// Paths returns the configured search paths.
func (l *Loader) Paths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.paths...)
}

// AddPath adds a search path.
func (l *Loader) AddPath(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths = append(l.paths, path)
}

// Discover finds all packs in the search paths.
// Returns packs sorted by name.
func (l *Loader) Discover() ([]*PackInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.discovered = make(map[string]*PackInfo)

	for _, basePath := range l.paths {
		// Missing paths are not errors; an empty install has none.
		_ = l.discoverInPath(basePath)
	}

	packs := make([]*PackInfo, 0, len(l.discovered))
	for _, info := range l.discovered {
		packs = append(packs, info)
	}

	sort.Slice(packs, func(i, j int) bool {
		return packs[i].Name < packs[j].Name
	})

	return packs, nil
}

// discoverInPath finds packs in a single directory.
// Must be called with mu held.
func (l *Loader) discoverInPath(basePath string) error {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			// Check for single-file packs (name.lua)
			if filepath.Ext(entry.Name()) == ".lua" {
				name := strings.TrimSuffix(entry.Name(), ".lua")
				l.addSingleFilePack(name, filepath.Join(basePath, entry.Name()))
			}
			continue
		}

		packPath := filepath.Join(basePath, entry.Name())
		info := l.inspectPack(entry.Name(), packPath)

		// Don't override earlier discoveries (first path wins)
		if _, exists := l.discovered[info.Name]; !exists {
			l.discovered[info.Name] = info
		}
	}

	return nil
}

// addSingleFilePack records a single-file pack.
// Must be called with mu held.
func (l *Loader) addSingleFilePack(name, luaPath string) {
	if _, exists := l.discovered[name]; exists {
		return
	}

	manifest := NewManifestMinimal(name, filepath.Dir(luaPath))
	manifest.Entry = filepath.Base(luaPath)

	l.discovered[name] = &PackInfo{
		Name:     name,
		Path:     filepath.Dir(luaPath),
		Manifest: manifest,
		State:    StateUnloaded,
	}
}

// inspectPack examines a pack directory and returns its info.
func (l *Loader) inspectPack(name, path string) *PackInfo {
	info := &PackInfo{
		Name:  name,
		Path:  path,
		State: StateUnloaded,
	}

	// Try to load manifest
	manifestPath := filepath.Join(path, "pack.json")
	if _, err := os.Stat(manifestPath); err == nil {
		manifest, err := LoadManifest(manifestPath)
		if err != nil {
			info.Error = fmt.Errorf("invalid manifest: %w", err)
			info.State = StateError
			return info
		}
		info.Manifest = manifest
		info.Name = manifest.Name // Use name from manifest
		return info
	}

	// No manifest - check for init.lua
	initPath := filepath.Join(path, "init.lua")
	if _, err := os.Stat(initPath); err == nil {
		info.Manifest = NewManifestMinimal(name, path)
		return info
	}

	// No valid entry point found
	info.Error = ErrNoEntryPoint
	info.State = StateError
	return info
}

// Get returns info for a specific pack by name.
func (l *Loader) Get(name string) (*PackInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, ok := l.discovered[name]
	return info, ok
}

// Refresh re-discovers packs.
func (l *Loader) Refresh() ([]*PackInfo, error) {
	return l.Discover()
}

// FindByPath returns the discovered pack rooted at the given directory.
// Pack names come from manifests and can differ from directory names,
// so path watchers resolve through this instead of filepath.Base.
func (l *Loader) FindByPath(path string) (*PackInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, info := range l.discovered {
		if info.Path == path {
			return info, true
		}
	}
	return nil, false
}

// FindPack searches for a pack by name across all paths.
// Returns the first match found.
func (l *Loader) FindPack(name string) (*PackInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Check cache first
	if info, ok := l.discovered[name]; ok {
		return info, nil
	}

	// Search each path
	for _, basePath := range l.paths {
		// Check directory pack
		packPath := filepath.Join(basePath, name)
		if stat, err := os.Stat(packPath); err == nil && stat.IsDir() {
			info := l.inspectPack(name, packPath)
			if info.Error == nil {
				l.discovered[name] = info
				return info, nil
			}
		}

		// Check single-file pack
		luaPath := filepath.Join(basePath, name+".lua")
		if _, err := os.Stat(luaPath); err == nil {
			manifest := NewManifestMinimal(name, basePath)
			manifest.Entry = name + ".lua"
			info := &PackInfo{
				Name:     name,
				Path:     basePath,
				Manifest: manifest,
				State:    StateUnloaded,
			}
			l.discovered[name] = info
			return info, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrPackNotFound, name)
}

// ValidatePack checks if a pack at the given path is valid.
func (l *Loader) ValidatePack(path string) error {
	info := l.inspectPack(filepath.Base(path), path)
	if info.Error != nil {
		return info.Error
	}
	if info.Manifest == nil {
		return ErrNoEntryPoint
	}
	if err := info.Manifest.Validate(); err != nil {
		return err
	}
	// The declared entry file must exist.
	if _, err := os.Stat(info.Manifest.EntryPath()); err != nil {
		return fmt.Errorf("%w: entry %s: %v", ErrInvalidPack, info.Manifest.Entry, err)
	}
	return nil
}

// ListNames returns the names of all discovered packs.
func (l *Loader) ListNames() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	names := make([]string, 0, len(l.discovered))
	for name := range l.discovered {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of discovered packs.
func (l *Loader) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.discovered)
}

// HasErrors returns true if any discovered packs have errors.
func (l *Loader) HasErrors() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, info := range l.discovered {
		if info.Error != nil {
			return true
		}
	}
	return false
}

// Errors returns all packs that have errors.
func (l *Loader) Errors() []*PackInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errored []*PackInfo
	for _, info := range l.discovered {
		if info.Error != nil {
			errored = append(errored, info)
		}
	}
	return errored
}
