package monitor

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned by ObjectStore reads for absent keys.
var ErrObjectNotFound = errors.New("object not found")

// Fetcher performs one bounded GET. Failures are reported inside the outcome.
type Fetcher interface {
	Fetch(ctx context.Context, sourceID, url string, timeout time.Duration) FetchOutcome
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ObjectStore is a BlobStore that can read back and enumerate its keys.
type ObjectStore interface {
	BlobStore
	GetObject(ctx context.Context, path string) ([]byte, error)
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// Publisher pushes write notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Ledger persists write decisions for audit.
type Ledger interface {
	Record(ctx context.Context, entry LedgerEntry) error
	List(ctx context.Context, limit int) ([]LedgerEntry, error)
	Close() error
}

// Hasher computes digests for integrity checks.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
