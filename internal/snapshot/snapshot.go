// Package snapshot composes, serializes and indexes the per-day archive
// documents. Nothing here performs I/O.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/JakeFAU/trizel-monitor/internal/daykey"
	"github.com/JakeFAU/trizel-monitor/internal/hash/sha256"
	"github.com/JakeFAU/trizel-monitor/internal/monitor"
)

// Assembler builds snapshot documents.
type Assembler struct {
	clock monitor.Clock
}

// NewAssembler returns an Assembler stamping documents with clock.
func NewAssembler(clock monitor.Clock) *Assembler {
	return &Assembler{clock: clock}
}

// Assemble composes the snapshot for day. records keep their order; runContext
// may be nil.
func (a *Assembler) Assemble(records []monitor.SourceRecord, object string, day daykey.Day, runContext map[string]any) monitor.Snapshot {
	if object == "" {
		object = monitor.DefaultObject
	}
	sources := make([]monitor.SourceRecord, len(records))
	copy(sources, records)
	var ctx map[string]any
	if len(runContext) > 0 {
		ctx = runContext
	}
	return monitor.Snapshot{
		Schema:       monitor.SnapshotSchema,
		Object:       object,
		Day:          day.String(),
		RetrievedUTC: monitor.Timestamp(a.clock.Now()),
		Context:      ctx,
		Sources:      sources,
	}
}

// Encode renders v as two-space indented JSON with a trailing newline.
// Struct fields keep declaration order and map keys are sorted, so equal
// values always encode to equal bytes.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses an encoded snapshot.
func Decode(data []byte) (monitor.Snapshot, error) {
	var snap monitor.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return monitor.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// ContentDigest hashes an encoded snapshot after blanking its retrieval
// timestamps. Two runs over unchanged upstream data yield the same value.
func ContentDigest(data []byte) (string, error) {
	snap, err := Decode(data)
	if err != nil {
		return "", err
	}
	snap.RetrievedUTC = ""
	for i := range snap.Sources {
		snap.Sources[i].RetrievedUTC = ""
	}
	canonical, err := Encode(snap)
	if err != nil {
		return "", err
	}
	return sha256.Sum(canonical), nil
}

// FileInfo describes a snapshot as written.
type FileInfo struct {
	Path          string
	SHA256        string
	ContentSHA256 string
	Bytes         int64
}

// BuildManifest indexes snap. The digests come from the caller so the
// manifest carries exactly the values the write decision used.
func BuildManifest(snap monitor.Snapshot, file FileInfo, runID string, now time.Time) monitor.Manifest {
	sources := make([]monitor.ManifestSource, 0, len(snap.Sources))
	for _, rec := range snap.Sources {
		sources = append(sources, monitor.ManifestSource{
			ID:           rec.SourceID,
			URL:          rec.URL,
			OK:           rec.OK,
			Status:       rec.Status,
			SHA256:       rec.SHA256,
			Bytes:        rec.Bytes,
			RetrievedUTC: rec.RetrievedUTC,
		})
	}
	return monitor.Manifest{
		Schema:         monitor.ManifestSchema,
		GeneratedUTC:   monitor.Timestamp(now),
		RunID:          runID,
		Day:            snap.Day,
		SnapshotFile:   file.Path,
		SnapshotSHA256: file.SHA256,
		SnapshotBytes:  file.Bytes,
		ContentSHA256:  file.ContentSHA256,
		Sources:        sources,
		Integrity: monitor.Integrity{
			GeneratedAutomatically:    true,
			NoInterpretationApplied:   true,
			RawOnly:                   true,
			RawPayloadsMayBeTruncated: true,
		},
	}
}

// SnapshotKey is the store key of day's snapshot under prefix.
func SnapshotKey(prefix string, day daykey.Day) string {
	return path.Join(prefix, "snapshot_"+day.String()+".json")
}

// ManifestKey is the store key of day's manifest under prefix.
func ManifestKey(prefix string, day daykey.Day) string {
	return path.Join(prefix, "manifest_"+day.String()+".json")
}
