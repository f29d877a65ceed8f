package capture

import (
	"crypto/sha256"
	"encoding/hex"
)

const previewSuffix = "..."

func truncateBytes(in []byte, maxBytes int) ([]byte, bool, int, string) {
	if maxBytes <= 0 || len(in) <= maxBytes {
		return in, false, len(in), ""
	}
	sum := sha256.Sum256(in)
	return in[:maxBytes], true, len(in), hex.EncodeToString(sum[:])
}

// previewDataURL shortens a data URL to maxBytes plus an ellipsis. The
// original length and hash are returned so the full image stays
// identifiable.
func previewDataURL(dataURL string, maxBytes int) (string, int, string) {
	out, truncated, origLen, hash := truncateBytes([]byte(dataURL), maxBytes)
	if !truncated {
		return dataURL, origLen, hashOf(dataURL)
	}
	return string(out) + previewSuffix, origLen, hash
}

func hashOf(s string) string {
	if s == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
