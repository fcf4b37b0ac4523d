// Package tee fans blob writes out from a primary store to best-effort mirrors.
package tee

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/trizel-monitor/internal/monitor"
)

// BlobStore writes to a primary ObjectStore and copies every successful
// write to its mirrors. Mirror failures are logged and never fail the write.
type BlobStore struct {
	primary monitor.ObjectStore
	mirrors []monitor.BlobStore
	logger  *zap.Logger
}

// New builds a tee store. Nil mirrors are ignored.
func New(primary monitor.ObjectStore, logger *zap.Logger, mirrors ...monitor.BlobStore) (*BlobStore, error) {
	if primary == nil {
		return nil, fmt.Errorf("primary store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	active := make([]monitor.BlobStore, 0, len(mirrors))
	for _, m := range mirrors {
		if m != nil {
			active = append(active, m)
		}
	}
	return &BlobStore{primary: primary, mirrors: active, logger: logger}, nil
}

// PutObject writes to the primary and then to each mirror.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error) {
	if len(s.mirrors) == 0 {
		return s.primary.PutObject(ctx, path, contentType, data)
	}
	payload, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}
	uri, err := s.primary.PutObject(ctx, path, contentType, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	for _, mirror := range s.mirrors {
		mirrorURI, mErr := mirror.PutObject(ctx, path, contentType, bytes.NewReader(payload))
		if mErr != nil {
			s.logger.Warn("mirror write failed", zap.String("path", path), zap.Error(mErr))
			continue
		}
		s.logger.Debug("mirrored object", zap.String("path", path), zap.String("uri", mirrorURI))
	}
	return uri, nil
}

// GetObject reads from the primary.
func (s *BlobStore) GetObject(ctx context.Context, path string) ([]byte, error) {
	return s.primary.GetObject(ctx, path)
}

// ListObjects lists the primary.
func (s *BlobStore) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	return s.primary.ListObjects(ctx, prefix)
}
