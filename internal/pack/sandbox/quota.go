package sandbox

import "os"

// DefaultMaxArtifactSize is the storage ceiling for packs that do not
// request one: 50 MiB.
const DefaultMaxArtifactSize int64 = 50 * 1024 * 1024

// QuotaConfig bounds the on-disk size of one pack's storage artifact. It
// is fixed when the pack's context is assembled. A MaxSizeBytes below
// zero disables the check; zero means "use the default".
type QuotaConfig struct {
	MaxSizeBytes int64
}

// DefaultQuota returns the quota applied when a pack does not declare one.
func DefaultQuota() QuotaConfig {
	return QuotaConfig{MaxSizeBytes: DefaultMaxArtifactSize}
}

// limit resolves the effective ceiling, folding the zero value onto the
// default so an unset QuotaConfig never means unlimited by accident.
func (q QuotaConfig) limit() int64 {
	if q.MaxSizeBytes == 0 {
		return DefaultMaxArtifactSize
	}
	return q.MaxSizeBytes
}

// artifactSize reports the bytes an artifact occupies on disk. The WAL
// sidecar counts: its pages are pack data that has not been checkpointed
// into the main file yet. A path with no file behind it counts as zero.
func artifactSize(path string) int64 {
	var total int64
	for _, p := range []string{path, path + "-wal"} {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total
}

// checkQuota gates every mutating statement. The artifact may sit exactly
// at the ceiling; only crossing it refuses the write. Reads are never
// routed through here.
func checkQuota(token, path string, quota QuotaConfig) error {
	max := quota.limit()
	if max < 0 {
		return nil
	}
	size := artifactSize(path)
	if size > max {
		return &QuotaError{Token: token, CurrentSize: size, MaxSize: max}
	}
	return nil
}
