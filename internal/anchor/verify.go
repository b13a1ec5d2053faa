package anchor

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// filepathGlobMatches extends filepath.Match with "**" matching across
// path separators, the behavior spec.md §8 requires ("glob ** matches
// across slashes, * does not").
func filepathGlobMatches(pattern, path string) (bool, error) {
	if strings.Contains(pattern, "**") {
		return doubleStarMatch(pattern, path), nil
	}
	return filepath.Match(pattern, path)
}

func doubleStarMatch(pattern, path string) bool {
	parts := strings.Split(pattern, "**")
	if len(parts) != 2 {
		// Multiple "**" segments: fall back to a simple substring-anchor
		// check rather than implementing a full glob engine.
		return strings.Contains(path, strings.ReplaceAll(pattern, "**", ""))
	}
	prefix := strings.TrimSuffix(parts[0], "/")
	suffix := strings.TrimPrefix(parts[1], "/")

	if prefix != "" && !strings.HasPrefix(path, prefix) {
		return false
	}
	if suffix != "" {
		ok, _ := filepath.Match("*"+suffix, filepath.Base(path))
		if !ok && !strings.HasSuffix(path, suffix) {
			return false
		}
	}
	return true
}
