package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/mattn/go-sqlite3"
)

// StorageManager owns one storage handle per sanitized token. It is the
// only component that opens pack artifacts; contexts borrow handles from
// it and hand them back on Close. Handles are never shared across tokens.
type StorageManager struct {
	mu      sync.Mutex
	dataDir string
	open    map[string]*PackStore
	claims  map[string]string // token -> identifier that first claimed it
	closed  bool
}

// NewStorageManager creates a manager rooted at dataDir. The directory is
// created on the first open, not here, so constructing a manager is
// side-effect free.
func NewStorageManager(dataDir string) *StorageManager {
	return &StorageManager{
		dataDir: dataDir,
		open:    make(map[string]*PackStore),
		claims:  make(map[string]string),
	}
}

// DataDir returns the directory artifacts live under.
func (m *StorageManager) DataDir() string {
	return m.dataDir
}

// Open returns the storage handle for token, opening the artifact (and
// creating it if absent) on first use. Repeated opens for the same token
// return the same handle. claimant is the original pack identifier: a
// different identifier arriving at an already-claimed token is refused
// with a TokenCollisionError instead of silently reading the first
// pack's data. Claims outlive handle closes.
func (m *StorageManager) Open(ctx context.Context, token, claimant string) (*PackStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if token == "" {
		return nil, ErrEmptyToken
	}
	if prev, ok := m.claims[token]; ok && prev != claimant {
		return nil, &TokenCollisionError{Token: token, Identifier: claimant, ClaimedBy: prev}
	}
	if st, ok := m.open[token]; ok {
		return st, nil
	}

	st, err := openArtifact(ctx, m.dataDir, token)
	if err != nil {
		return nil, err
	}
	m.claims[token] = claimant
	m.open[token] = st
	return st, nil
}

// Close closes the open handle for token, if any. The token's claim is
// retained so collision detection survives handle churn.
func (m *StorageManager) Close(token string) error {
	m.mu.Lock()
	st, ok := m.open[token]
	delete(m.open, token)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return st.close()
}

// CloseAll closes every open handle and refuses further opens.
func (m *StorageManager) CloseAll() error {
	m.mu.Lock()
	stores := make([]*PackStore, 0, len(m.open))
	for _, st := range m.open {
		stores = append(stores, st)
	}
	m.open = make(map[string]*PackStore)
	m.closed = true
	m.mu.Unlock()

	var errs []error
	for _, st := range stores {
		if err := st.close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", st.token, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close pack stores: %w", errors.Join(errs...))
	}
	return nil
}

// openArtifact opens the SQLite artifact for token inside dataDir. WAL
// keeps readers unblocked during writes; a single connection keeps the
// quota-check-then-write ordering meaningful under SQLite's one-writer
// model.
func openArtifact(ctx context.Context, dataDir, token string) (*PackStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pack data dir: %w", err)
	}

	path := ArtifactPath(dataDir, token)
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open storage artifact %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := verifyArtifact(ctx, db); err != nil {
		db.Close()
		return nil, classifyOpenError(path, err)
	}

	return &PackStore{token: token, path: path, db: db}, nil
}

// verifyArtifact forces SQLite to read the database header. sql.Open is
// lazy, so a foreign file sitting at the artifact path would otherwise go
// unnoticed until the pack's first real statement.
func verifyArtifact(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return err
	}
	var version int
	return db.QueryRowContext(ctx, "PRAGMA schema_version").Scan(&version)
}

// classifyOpenError maps a failed header read onto the sandbox error
// taxonomy. A missing file never reaches here; SQLite creates it.
func classifyOpenError(path string, err error) error {
	var serr sqlite3.Error
	if errors.As(err, &serr) && serr.Code == sqlite3.ErrNotADB {
		return &CorruptArtifactError{Path: path, Err: err}
	}
	return fmt.Errorf("verify storage artifact %s: %w", path, err)
}

// RunResult reports what a mutating statement did.
type RunResult struct {
	RowsAffected int64
	LastInsertID int64
}

// PackStore is an open handle onto exactly one pack's storage artifact.
// Handles are owned by the StorageManager; pack contexts borrow them and
// reach them only through the PackStorage interface.
type PackStore struct {
	token string
	path  string
	db    *sql.DB

	// writeMu spans the quota check and the statement it guards, so two
	// near-simultaneous mutations cannot both slip under the ceiling.
	writeMu sync.Mutex
}

// Token returns the sanitized token this handle serves.
func (s *PackStore) Token() string {
	return s.token
}

// Path returns the artifact's location on disk.
func (s *PackStore) Path() string {
	return s.path
}

// Size reports the artifact's current on-disk footprint, WAL included.
func (s *PackStore) Size() int64 {
	return artifactSize(s.path)
}

// Run executes one mutating statement with bound parameters, gated by
// quota. On refusal the artifact is left exactly as it was.
func (s *PackStore) Run(ctx context.Context, quota QuotaConfig, stmt string, args ...any) (RunResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := checkQuota(s.token, s.path, quota); err != nil {
		return RunResult{}, err
	}

	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return RunResult{}, fmt.Errorf("pack %s: %w", s.token, err)
	}

	var out RunResult
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	if id, err := res.LastInsertId(); err == nil {
		out.LastInsertID = id
	}
	return out, nil
}

// Exec executes a raw SQL script, typically schema setup. Quota-gated
// like any other mutation.
func (s *PackStore) Exec(ctx context.Context, quota QuotaConfig, script string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := checkQuota(s.token, s.path, quota); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("pack %s: %w", s.token, err)
	}
	return nil
}

// Get runs a read and returns the first row as a column map, or nil when
// nothing matches. Reads bypass the quota so an over-budget pack can
// still reach its data.
func (s *PackStore) Get(ctx context.Context, query string, args ...any) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", s.token, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("pack %s: %w", s.token, err)
		}
		return nil, nil
	}
	row, err := scanRowMap(rows)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", s.token, err)
	}
	return row, nil
}

// All runs a read and returns every matching row in statement order. An
// empty result is an empty slice, not nil.
func (s *PackStore) All(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", s.token, err)
	}
	defer rows.Close()

	out := make([]map[string]any, 0)
	for rows.Next() {
		row, err := scanRowMap(rows)
		if err != nil {
			return nil, fmt.Errorf("pack %s: %w", s.token, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pack %s: %w", s.token, err)
	}
	return out, nil
}

func (s *PackStore) close() error {
	return s.db.Close()
}

// scanRowMap scans the current row into a column-keyed map. []byte values
// become strings so rows survive the trip into script space.
func scanRowMap(rows *sql.Rows) (map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	row := make(map[string]any, len(cols))
	for i, col := range cols {
		v := vals[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		row[col] = v
	}
	return row, nil
}
