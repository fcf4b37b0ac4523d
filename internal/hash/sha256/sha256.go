// Package sha256 provides the content addresser used to fingerprint payloads
// and archived documents.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

const fileChunkSize = 1024 * 1024

// Hasher implements monitor.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	return Sum(data), nil
}

// Sum is the error-free form of Hash.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashReader streams r through SHA-256 and reports the byte count.
func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.CopyBuffer(h, r, make([]byte, fileChunkSize))
	if err != nil {
		return "", n, fmt.Errorf("hash stream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashFile digests the file at path without loading it whole.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path) // #nosec G304 -- paths come from configured archive roots.
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	digest, n, err := HashReader(f)
	if err != nil {
		return "", n, fmt.Errorf("hash %s: %w", path, err)
	}
	return digest, n, nil
}
