package sandbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

func newCoreDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+filepath.Join(t.TempDir(), "core.db"))
	if err != nil {
		t.Fatalf("open core db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
	CREATE TABLE users (
		id INTEGER PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT,
		email TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'member'
	);
	INSERT INTO users VALUES (1, 'ada', 'Ada Lovelace', 'ada@example.com', 'hash-ada', 'admin');
	INSERT INTO users VALUES (2, 'grace', NULL, 'grace@example.com', 'hash-grace', 'member');
	INSERT INTO users VALUES (3, 'alan', '', 'alan@example.com', 'hash-alan', 'member');
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("seed core db: %v", err)
	}
	return db
}

func countUsers(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		t.Fatalf("count users: %v", err)
	}
	return n
}

func TestGetUserProjection(t *testing.T) {
	ctx := context.Background()
	f := NewCoreFacade(newCoreDB(t))

	u, err := f.GetUser(ctx, 1)
	if err != nil {
		t.Fatalf("GetUser(1) failed: %v", err)
	}
	if u == nil {
		t.Fatal("GetUser(1) = nil, want user")
	}
	want := User{ID: 1, Username: "ada", DisplayName: "Ada Lovelace"}
	if *u != want {
		t.Errorf("GetUser(1) = %+v, want %+v", *u, want)
	}
}

func TestGetUserDisplayNameFallback(t *testing.T) {
	ctx := context.Background()
	f := NewCoreFacade(newCoreDB(t))

	tests := []struct {
		name string
		id   int64
		want string
	}{
		{"null display name", 2, "grace"},
		{"empty display name", 3, "alan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := f.GetUser(ctx, tt.id)
			if err != nil {
				t.Fatalf("GetUser(%d) failed: %v", tt.id, err)
			}
			if u == nil {
				t.Fatalf("GetUser(%d) = nil, want user", tt.id)
			}
			if u.DisplayName != tt.want {
				t.Errorf("DisplayName = %q, want %q", u.DisplayName, tt.want)
			}
		})
	}
}

func TestGetUserMissing(t *testing.T) {
	ctx := context.Background()
	f := NewCoreFacade(newCoreDB(t))

	u, err := f.GetUser(ctx, 99)
	if err != nil {
		t.Fatalf("GetUser(99) error = %v, want nil", err)
	}
	if u != nil {
		t.Errorf("GetUser(99) = %+v, want nil", u)
	}
}

func TestGetUserIDCoercion(t *testing.T) {
	ctx := context.Background()
	f := NewCoreFacade(newCoreDB(t))

	for _, id := range []any{int64(2), 2, float64(2), "2", " 2 "} {
		u, err := f.GetUser(ctx, id)
		if err != nil {
			t.Fatalf("GetUser(%v) failed: %v", id, err)
		}
		if u == nil || u.Username != "grace" {
			t.Errorf("GetUser(%v %T) = %+v, want grace", id, id, u)
		}
	}

	for _, id := range []any{2.5, "two", "", nil, true, []any{2}} {
		u, err := f.GetUser(ctx, id)
		if err != nil {
			t.Fatalf("GetUser(%v) error = %v, want nil error on non-coercible id", id, err)
		}
		if u != nil {
			t.Errorf("GetUser(%v %T) = %+v, want nil", id, id, u)
		}
	}
}

func TestGetUserInjectionInert(t *testing.T) {
	ctx := context.Background()
	db := newCoreDB(t)
	f := NewCoreFacade(db)

	before := countUsers(t, db)
	hostile := []any{
		"1 OR 1=1",
		"1; DROP TABLE users; --",
		"' OR ''='",
	}
	for _, id := range hostile {
		u, err := f.GetUser(ctx, id)
		if err != nil {
			t.Errorf("GetUser(%q) error = %v, want nil", id, err)
		}
		if u != nil {
			t.Errorf("GetUser(%q) = %+v, want nil", id, u)
		}
	}
	if after := countUsers(t, db); after != before {
		t.Errorf("users table changed under hostile ids: %d rows, want %d", after, before)
	}
}

func TestGetUsers(t *testing.T) {
	ctx := context.Background()
	f := NewCoreFacade(newCoreDB(t))

	users, err := f.GetUsers(ctx, []any{1, "2", 99, "bogus", 1})
	if err != nil {
		t.Fatalf("GetUsers failed: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("GetUsers returned %d users, want 2", len(users))
	}
	got := map[int64]string{}
	for _, u := range users {
		got[u.ID] = u.Username
	}
	if got[1] != "ada" || got[2] != "grace" {
		t.Errorf("GetUsers = %v, want ada and grace", got)
	}
}

func TestGetUsersEmpty(t *testing.T) {
	ctx := context.Background()
	f := NewCoreFacade(newCoreDB(t))

	for _, ids := range [][]any{nil, {}, {"bogus", 2.5}} {
		users, err := f.GetUsers(ctx, ids)
		if err != nil {
			t.Fatalf("GetUsers(%v) failed: %v", ids, err)
		}
		if users == nil || len(users) != 0 {
			t.Errorf("GetUsers(%v) = %v, want empty non-nil slice", ids, users)
		}
	}
}

func TestGetUsernameMap(t *testing.T) {
	ctx := context.Background()
	f := NewCoreFacade(newCoreDB(t))

	m, err := f.GetUsernameMap(ctx, []any{1, 2, 99})
	if err != nil {
		t.Fatalf("GetUsernameMap failed: %v", err)
	}
	if len(m) != 2 {
		t.Fatalf("GetUsernameMap returned %d entries, want 2", len(m))
	}
	if m[1] != "ada" || m[2] != "grace" {
		t.Errorf("GetUsernameMap = %v, want 1:ada 2:grace", m)
	}
	if _, ok := m[99]; ok {
		t.Error("GetUsernameMap contains an entry for a missing user")
	}
}

func TestUserExists(t *testing.T) {
	ctx := context.Background()
	f := NewCoreFacade(newCoreDB(t))

	tests := []struct {
		id   any
		want bool
	}{
		{1, true},
		{"3", true},
		{99, false},
		{"nope", false},
		{nil, false},
	}
	for _, tt := range tests {
		got, err := f.UserExists(ctx, tt.id)
		if err != nil {
			t.Fatalf("UserExists(%v) failed: %v", tt.id, err)
		}
		if got != tt.want {
			t.Errorf("UserExists(%v) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestFacadeNeverLeaksSensitiveColumns(t *testing.T) {
	ctx := context.Background()
	f := NewCoreFacade(newCoreDB(t))

	users, err := f.GetUsers(ctx, []any{1, 2, 3})
	if err != nil {
		t.Fatalf("GetUsers failed: %v", err)
	}
	raw, err := json.Marshal(users)
	if err != nil {
		t.Fatalf("marshal users: %v", err)
	}
	for _, secret := range []string{"example.com", "hash-", "password", "admin", "role"} {
		if strings.Contains(string(raw), secret) {
			t.Errorf("façade output contains %q: %s", secret, raw)
		}
	}
}

func TestCoerceUserID(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want int64
		ok   bool
	}{
		{"int64", int64(5), 5, true},
		{"int", 5, 5, true},
		{"int32", int32(5), 5, true},
		{"integral float", 5.0, 5, true},
		{"negative", int64(-3), -3, true},
		{"decimal string", "42", 42, true},
		{"padded string", " 42 ", 42, true},
		{"signed string", "+7", 7, true},
		{"fractional float", 5.5, 0, false},
		{"hex string", "0x1A", 0, false},
		{"trailing junk", "42abc", 0, false},
		{"empty string", "", 0, false},
		{"bool", true, 0, false},
		{"nil", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := coerceUserID(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("coerceUserID(%v) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}
