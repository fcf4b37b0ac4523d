// Package archive reads back stored snapshots and manifests and checks them
// against each other.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/trizel-monitor/internal/daykey"
	"github.com/JakeFAU/trizel-monitor/internal/hash/sha256"
	"github.com/JakeFAU/trizel-monitor/internal/monitor"
	"github.com/JakeFAU/trizel-monitor/internal/snapshot"
)

// ErrNotArchived is returned when a day has no manifest.
var ErrNotArchived = errors.New("day not archived")

// Config mirrors the writer's store layout.
type Config struct {
	SnapshotPrefix string
	ManifestPrefix string
}

// Archive is a read-only view over an ObjectStore.
type Archive struct {
	cfg   Config
	store monitor.ObjectStore
}

// New wires an Archive.
func New(cfg Config, store monitor.ObjectStore) *Archive {
	if cfg.SnapshotPrefix == "" {
		cfg.SnapshotPrefix = "snapshots"
	}
	if cfg.ManifestPrefix == "" {
		cfg.ManifestPrefix = "manifests"
	}
	return &Archive{cfg: cfg, store: store}
}

// Days lists archived days ascending, derived from the manifest names.
func (a *Archive) Days(ctx context.Context) ([]daykey.Day, error) {
	keys, err := a.store.ListObjects(ctx, a.cfg.ManifestPrefix+"/")
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	days := make([]daykey.Day, 0, len(keys))
	for _, key := range keys {
		name := path.Base(key)
		if !strings.HasPrefix(name, "manifest_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		day, err := daykey.Parse(strings.TrimSuffix(strings.TrimPrefix(name, "manifest_"), ".json"))
		if err != nil {
			continue
		}
		days = append(days, day)
	}
	return days, nil
}

// Snapshot returns the stored snapshot bytes for day.
func (a *Archive) Snapshot(ctx context.Context, day daykey.Day) ([]byte, error) {
	data, err := a.store.GetObject(ctx, snapshot.SnapshotKey(a.cfg.SnapshotPrefix, day))
	if errors.Is(err, monitor.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotArchived, day)
	}
	return data, err
}

// Manifest returns the decoded manifest for day.
func (a *Archive) Manifest(ctx context.Context, day daykey.Day) (monitor.Manifest, error) {
	data, err := a.store.GetObject(ctx, snapshot.ManifestKey(a.cfg.ManifestPrefix, day))
	if errors.Is(err, monitor.ErrObjectNotFound) {
		return monitor.Manifest{}, fmt.Errorf("%w: %s", ErrNotArchived, day)
	}
	if err != nil {
		return monitor.Manifest{}, err
	}
	var manifest monitor.Manifest
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&manifest); err != nil {
		return monitor.Manifest{}, fmt.Errorf("decode manifest %s: %w", day, err)
	}
	return manifest, nil
}

// Report is the verification result of one day.
type Report struct {
	Day            string `json:"day"`
	OK             bool   `json:"ok"`
	SnapshotFile   string `json:"snapshot_file"`
	ExpectedSHA256 string `json:"expected_sha256"`
	ActualSHA256   string `json:"actual_sha256,omitempty"`
	ExpectedBytes  int64  `json:"expected_bytes"`
	ActualBytes    int64  `json:"actual_bytes"`
	Problem        string `json:"problem,omitempty"`
}

// Verify recomputes the snapshot digest and compares it with the manifest.
// A mismatch is a failed Report, not an error; errors are reserved for
// missing manifests and store faults.
func (a *Archive) Verify(ctx context.Context, day daykey.Day) (Report, error) {
	manifest, err := a.Manifest(ctx, day)
	if err != nil {
		return Report{}, err
	}
	report := Report{
		Day:            day.String(),
		SnapshotFile:   snapshot.SnapshotKey(a.cfg.SnapshotPrefix, day),
		ExpectedSHA256: manifest.SnapshotSHA256,
		ExpectedBytes:  manifest.SnapshotBytes,
	}
	if manifest.Day != day.String() {
		report.Problem = fmt.Sprintf("manifest names day %q", manifest.Day)
		return report, nil
	}
	data, err := a.store.GetObject(ctx, report.SnapshotFile)
	if errors.Is(err, monitor.ErrObjectNotFound) {
		report.Problem = "snapshot missing"
		return report, nil
	}
	if err != nil {
		return Report{}, fmt.Errorf("read snapshot %s: %w", day, err)
	}
	digest, n, err := sha256.HashReader(bytes.NewReader(data))
	if err != nil {
		return Report{}, err
	}
	report.ActualSHA256 = digest
	report.ActualBytes = n
	switch {
	case digest != manifest.SnapshotSHA256:
		report.Problem = "sha256 mismatch"
	case n != manifest.SnapshotBytes:
		report.Problem = "size mismatch"
	default:
		report.OK = true
	}
	return report, nil
}

// VerifyAll checks every archived day in ascending order.
func (a *Archive) VerifyAll(ctx context.Context) ([]Report, error) {
	days, err := a.Days(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]Report, 0, len(days))
	for _, day := range days {
		report, err := a.Verify(ctx, day)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}
