package sandbox

import "path/filepath"

// artifactExt is appended to a pack's token to name its storage artifact.
const artifactExt = ".db"

// SanitizeToken maps an untrusted pack identifier onto a filesystem-safe
// storage token. Every code point outside [a-zA-Z0-9], hyphen, and
// underscore is replaced with a single underscore, so path separators,
// parent references, drive letters, and null bytes all collapse into
// inert characters. The mapping is deterministic: the same identifier
// always yields the same token, on every platform.
//
// Sanitization is lossy. "a/b" and "a_b" share the token "a_b"; callers
// that need distinct storage per identifier must resolve collisions
// themselves, which is what StorageManager does.
func SanitizeToken(identifier string) string {
	out := make([]rune, 0, len(identifier))
	for _, r := range identifier {
		if tokenSafe(r) {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}

func tokenSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	}
	return false
}

// ArtifactPath resolves the storage artifact for a sanitized token. The
// result is always a direct child of dataDir: tokens cannot carry
// separators or parent references, so no identifier can name a file
// outside it.
func ArtifactPath(dataDir, token string) string {
	return filepath.Join(dataDir, token+artifactExt)
}
