package pack

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dshills/parlor/internal/pack/security"
)

func writeManifest(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "pack.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	return path
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, `{
		"name": "dice-ladder",
		"version": "1.2.0",
		"title": "Dice Ladder",
		"description": "Climb the ladder one roll at a time",
		"author": "parlor",
		"entry": "main.lua",
		"slug": "dice",
		"capabilities": ["storage", "users.read"],
		"storage": {"maxSizeBytes": 1048576}
	}`)

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}

	if m.Name != "dice-ladder" {
		t.Errorf("Name = %q, want %q", m.Name, "dice-ladder")
	}
	if m.Version != "1.2.0" {
		t.Errorf("Version = %q, want %q", m.Version, "1.2.0")
	}
	if m.Title != "Dice Ladder" {
		t.Errorf("Title = %q, want %q", m.Title, "Dice Ladder")
	}
	if m.Entry != "main.lua" {
		t.Errorf("Entry = %q, want %q", m.Entry, "main.lua")
	}
	if m.Slug != "dice" {
		t.Errorf("Slug = %q, want %q", m.Slug, "dice")
	}
	if len(m.Capabilities) != 2 {
		t.Fatalf("len(Capabilities) = %d, want 2", len(m.Capabilities))
	}
	if m.Capabilities[0] != security.CapabilityStorage {
		t.Errorf("Capabilities[0] = %q, want %q", m.Capabilities[0], security.CapabilityStorage)
	}
	if m.Storage.MaxSizeBytes != 1048576 {
		t.Errorf("Storage.MaxSizeBytes = %d, want 1048576", m.Storage.MaxSizeBytes)
	}
	if m.Path() != dir {
		t.Errorf("Path() = %q, want %q", m.Path(), dir)
	}
	if want := filepath.Join(dir, "main.lua"); m.EntryPath() != want {
		t.Errorf("EntryPath() = %q, want %q", m.EntryPath(), want)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, `{"name": "minimal"}`)

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}

	if m.Entry != "init.lua" {
		t.Errorf("default Entry = %q, want %q", m.Entry, "init.lua")
	}
	if m.Version != "0.0.0" {
		t.Errorf("default Version = %q, want %q", m.Version, "0.0.0")
	}
	if m.Slug != "minimal" {
		t.Errorf("default Slug = %q, want %q", m.Slug, "minimal")
	}
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "pack.json"))
	if err == nil {
		t.Fatal("LoadManifest() on missing file should return error")
	}
}

func TestLoadManifestBadJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, `{"name": "broken"`)

	_, err := LoadManifest(path)
	if err == nil {
		t.Fatal("LoadManifest() on bad JSON should return error")
	}
}

func TestLoadManifestFromDir(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `{"name": "fromdir", "version": "1.0.0"}`)

	m, err := LoadManifestFromDir(dir)
	if err != nil {
		t.Fatalf("LoadManifestFromDir() error = %v", err)
	}
	if m.Name != "fromdir" {
		t.Errorf("Name = %q, want %q", m.Name, "fromdir")
	}
}

func TestManifestValidate(t *testing.T) {
	valid := func() *Manifest {
		return &Manifest{
			Name:    "good-pack",
			Version: "1.0.0",
			Entry:   "init.lua",
			Slug:    "good-pack",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Manifest)
		wantErr error
	}{
		{"valid", func(m *Manifest) {}, nil},
		{"missing name", func(m *Manifest) { m.Name = "" }, ErrMissingName},
		{"uppercase name", func(m *Manifest) { m.Name = "BadPack" }, ErrInvalidName},
		{"name starts with hyphen", func(m *Manifest) { m.Name = "-bad" }, ErrInvalidName},
		{"name with spaces", func(m *Manifest) { m.Name = "bad pack" }, ErrInvalidName},
		{"missing version", func(m *Manifest) { m.Version = "" }, ErrMissingVersion},
		{"bad version", func(m *Manifest) { m.Version = "1.2" }, ErrInvalidVersion},
		{"version with v prefix", func(m *Manifest) { m.Version = "v1.2.3" }, ErrInvalidVersion},
		{"prerelease version ok", func(m *Manifest) { m.Version = "1.2.3-beta.1" }, nil},
		{"entry not lua", func(m *Manifest) { m.Entry = "init.txt" }, ErrInvalidEntry},
		{"bad slug", func(m *Manifest) { m.Slug = "Bad Slug" }, ErrInvalidSlug},
		{"unknown capability", func(m *Manifest) {
			m.Capabilities = []security.Capability{"network"}
		}, ErrInvalidCapability},
		{"known capabilities ok", func(m *Manifest) {
			m.Capabilities = []security.Capability{
				security.CapabilityStorage,
				security.CapabilityUsersRead,
				security.CapabilityLog,
			}
		}, nil},
		{"negative quota", func(m *Manifest) { m.Storage.MaxSizeBytes = -1 }, ErrInvalidQuota},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid()
			tt.mutate(m)

			err := m.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestManifestEffectiveQuota(t *testing.T) {
	tests := []struct {
		name    string
		request int64
		ceiling int64
		want    int64
	}{
		{"no request takes ceiling", 0, 500, 500},
		{"request below ceiling honored", 200, 500, 200},
		{"request above ceiling clamped", 900, 500, 500},
		{"unlimited host honors request", 900, 0, 900},
		{"disabled host honors request", 900, -1, 900},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Manifest{Storage: StorageRequest{MaxSizeBytes: tt.request}}
			if got := m.EffectiveQuota(tt.ceiling); got != tt.want {
				t.Errorf("EffectiveQuota(%d) = %d, want %d", tt.ceiling, got, tt.want)
			}
		})
	}
}

func TestManifestHasCapability(t *testing.T) {
	m := &Manifest{Capabilities: []security.Capability{security.CapabilityStorage}}

	if !m.HasCapability(security.CapabilityStorage) {
		t.Error("HasCapability(storage) = false, want true")
	}
	if m.HasCapability(security.CapabilityUsersRead) {
		t.Error("HasCapability(users.read) = true, want false")
	}
}

func TestManifestString(t *testing.T) {
	m := &Manifest{Name: "dice-ladder", Title: "Dice Ladder", Version: "1.2.0"}
	if got := m.String(); got != "Dice Ladder v1.2.0" {
		t.Errorf("String() = %q, want %q", got, "Dice Ladder v1.2.0")
	}

	m.Title = ""
	if got := m.String(); got != "dice-ladder v1.2.0" {
		t.Errorf("String() without title = %q, want %q", got, "dice-ladder v1.2.0")
	}
}

func TestManifestClone(t *testing.T) {
	m := &Manifest{
		Name:         "original",
		Version:      "1.0.0",
		Capabilities: []security.Capability{security.CapabilityStorage},
	}

	clone := m.Clone()
	clone.Capabilities[0] = security.CapabilityLog

	if m.Capabilities[0] != security.CapabilityStorage {
		t.Errorf("mutating clone changed original capability to %q", m.Capabilities[0])
	}
}
