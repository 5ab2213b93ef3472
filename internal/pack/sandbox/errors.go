package sandbox

import (
	"errors"
	"fmt"
)

// Common sandbox errors.
var (
	// ErrContextClosed indicates an operation on a context after Close.
	ErrContextClosed = errors.New("pack context is closed")
	// ErrManagerClosed indicates an open attempt after the storage
	// manager shut down.
	ErrManagerClosed = errors.New("storage manager is closed")
	// ErrEmptyToken indicates an identifier that sanitized to nothing.
	ErrEmptyToken = errors.New("pack identifier sanitizes to an empty token")
	// ErrNoCoreAccess indicates a façade call on a context assembled
	// without a core database.
	ErrNoCoreAccess = errors.New("no core database wired to this context")
)

// QuotaError reports a mutation refused because the pack's storage
// artifact has reached its configured ceiling. The artifact itself is
// untouched; the pack can still read, delete, or vacuum its way back
// under budget.
type QuotaError struct {
	Token       string
	CurrentSize int64
	MaxSize     int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("pack %s: storage quota exceeded: %d bytes on disk, limit %d",
		e.Token, e.CurrentSize, e.MaxSize)
}

// CorruptArtifactError reports that a file exists at a pack's artifact
// path but is not a usable database. A missing artifact is not an error;
// it is created on first open.
type CorruptArtifactError struct {
	Path string
	Err  error
}

func (e *CorruptArtifactError) Error() string {
	return fmt.Sprintf("storage artifact %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptArtifactError) Unwrap() error {
	return e.Err
}

// TokenCollisionError reports two distinct pack identifiers sanitizing to
// the same storage token. The second claimant is refused rather than
// silently sharing the first one's artifact.
type TokenCollisionError struct {
	Token      string
	Identifier string
	ClaimedBy  string
}

func (e *TokenCollisionError) Error() string {
	return fmt.Sprintf("identifier %q sanitizes to token %q, already claimed by %q",
		e.Identifier, e.Token, e.ClaimedBy)
}
