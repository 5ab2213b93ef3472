package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// User is the projection of a core user record that packs are allowed to
// see. Credentials, contact details, and role data never cross this
// boundary; every façade result is built through newUser, so a column
// added to the users table later cannot leak by accident.
type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

func newUser(id int64, username string, displayName sql.NullString) User {
	u := User{ID: id, Username: username, DisplayName: username}
	if displayName.Valid && displayName.String != "" {
		u.DisplayName = displayName.String
	}
	return u
}

// coreFacade is the concrete read-only view onto the core user table. It
// holds the shared core handle; the CoreFacade interface is the entire
// surface packs can reach through it, and every query it issues is
// parameterized.
type coreFacade struct {
	db *sql.DB
}

// NewCoreFacade wraps the core database handle in the pack-visible
// façade. The handle itself is never exposed to pack code.
func NewCoreFacade(db *sql.DB) CoreFacade {
	return &coreFacade{db: db}
}

func (f *coreFacade) GetUser(ctx context.Context, id any) (*User, error) {
	uid, ok := coerceUserID(id)
	if !ok {
		return nil, nil
	}

	row := f.db.QueryRowContext(ctx,
		"SELECT id, username, display_name FROM users WHERE id = ?", uid)

	var (
		gotID    int64
		username string
		display  sql.NullString
	)
	if err := row.Scan(&gotID, &username, &display); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("core user lookup: %w", err)
	}
	u := newUser(gotID, username, display)
	return &u, nil
}

func (f *coreFacade) GetUsers(ctx context.Context, ids []any) ([]User, error) {
	uids := coerceUserIDs(ids)
	if len(uids) == 0 {
		return []User{}, nil
	}

	query := "SELECT id, username, display_name FROM users WHERE id IN (" +
		placeholders(len(uids)) + ")"
	rows, err := f.db.QueryContext(ctx, query, idArgs(uids)...)
	if err != nil {
		return nil, fmt.Errorf("core user lookup: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0, len(uids))
	for rows.Next() {
		var (
			id       int64
			username string
			display  sql.NullString
		)
		if err := rows.Scan(&id, &username, &display); err != nil {
			return nil, fmt.Errorf("core user lookup: %w", err)
		}
		users = append(users, newUser(id, username, display))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("core user lookup: %w", err)
	}
	return users, nil
}

func (f *coreFacade) GetUsernameMap(ctx context.Context, ids []any) (map[int64]string, error) {
	out := make(map[int64]string)
	uids := coerceUserIDs(ids)
	if len(uids) == 0 {
		return out, nil
	}

	query := "SELECT id, username FROM users WHERE id IN (" +
		placeholders(len(uids)) + ")"
	rows, err := f.db.QueryContext(ctx, query, idArgs(uids)...)
	if err != nil {
		return nil, fmt.Errorf("core user lookup: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id       int64
			username string
		)
		if err := rows.Scan(&id, &username); err != nil {
			return nil, fmt.Errorf("core user lookup: %w", err)
		}
		out[id] = username
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("core user lookup: %w", err)
	}
	return out, nil
}

func (f *coreFacade) UserExists(ctx context.Context, id any) (bool, error) {
	uid, ok := coerceUserID(id)
	if !ok {
		return false, nil
	}

	var one int
	err := f.db.QueryRowContext(ctx,
		"SELECT 1 FROM users WHERE id = ?", uid).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("core user lookup: %w", err)
	}
	return true, nil
}

// coerceUserID maps an arbitrary pack-supplied value onto a user row id.
// Only values that are already whole numbers coerce: integers, integral
// floats (script numbers arrive as float64), and strings holding a plain
// decimal integer. Anything else, SQL fragments included, fails the
// lookup instead of raising an error.
func coerceUserID(v any) (int64, bool) {
	switch id := v.(type) {
	case int64:
		return id, true
	case int:
		return int64(id), true
	case int32:
		return int64(id), true
	case float64:
		if math.IsNaN(id) || math.IsInf(id, 0) || id != math.Trunc(id) {
			return 0, false
		}
		return int64(id), true
	case float32:
		return coerceUserID(float64(id))
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// coerceUserIDs coerces a batch, dropping values that do not coerce and
// collapsing duplicates while keeping first-seen order.
func coerceUserIDs(ids []any) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, raw := range ids {
		id, ok := coerceUserID(raw)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// placeholders returns n comma-separated statement parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func idArgs(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
