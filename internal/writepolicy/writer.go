package writepolicy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/trizel-monitor/internal/daykey"
	"github.com/JakeFAU/trizel-monitor/internal/hash/sha256"
	"github.com/JakeFAU/trizel-monitor/internal/monitor"
	"github.com/JakeFAU/trizel-monitor/internal/snapshot"
)

const jsonContentType = "application/json"

// Config holds the store layout and the overwrite flags.
type Config struct {
	SnapshotPrefix string
	ManifestPrefix string
	Overwrite      bool
	OverwriteToday bool
}

// ManifestFunc builds the manifest for a snapshot about to be written.
type ManifestFunc func(file snapshot.FileInfo) monitor.Manifest

// Result reports what Write did.
type Result struct {
	Outcome      monitor.WriteOutcome
	SnapshotPath string
	ManifestPath string
	File         snapshot.FileInfo
	PriorDigest  string
	// Repaired is set when a prior snapshot lacked a matching manifest and
	// the pair was rewritten.
	Repaired bool
	// Manifest is set only when the outcome is written.
	Manifest *monitor.Manifest
}

// Writer applies the policy against an ObjectStore.
type Writer struct {
	cfg    Config
	store  monitor.ObjectStore
	clock  monitor.Clock
	logger *zap.Logger
}

// NewWriter wires a Writer.
func NewWriter(cfg Config, store monitor.ObjectStore, clock monitor.Clock, logger *zap.Logger) *Writer {
	if cfg.SnapshotPrefix == "" {
		cfg.SnapshotPrefix = "snapshots"
	}
	if cfg.ManifestPrefix == "" {
		cfg.ManifestPrefix = "manifests"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{cfg: cfg, store: store, clock: clock, logger: logger}
}

// Write decides and, when the outcome is written, stores the snapshot and
// then its manifest. Nothing is touched for the other outcomes.
func (w *Writer) Write(ctx context.Context, day daykey.Day, snapshotBytes []byte, build ManifestFunc) (Result, error) {
	contentDigest, err := snapshot.ContentDigest(snapshotBytes)
	if err != nil {
		return Result{}, fmt.Errorf("digest new snapshot: %w", err)
	}
	res := Result{
		SnapshotPath: snapshot.SnapshotKey(w.cfg.SnapshotPrefix, day),
		ManifestPath: snapshot.ManifestKey(w.cfg.ManifestPrefix, day),
		File: snapshot.FileInfo{
			SHA256:        sha256.Sum(snapshotBytes),
			ContentSHA256: contentDigest,
			Bytes:         int64(len(snapshotBytes)),
		},
	}
	res.File.Path = res.SnapshotPath

	state := State{
		NewDigest:      contentDigest,
		IsToday:        day.Equal(daykey.FromTime(w.clock.Now())),
		Overwrite:      w.cfg.Overwrite,
		OverwriteToday: w.cfg.OverwriteToday,
	}
	prior, err := w.store.GetObject(ctx, res.SnapshotPath)
	switch {
	case err == nil:
		state.PriorExists = true
		state.PriorDigest, err = snapshot.ContentDigest(prior)
		if err != nil {
			// An unreadable prior document never equals a fresh one.
			state.PriorDigest = sha256.Sum(prior)
		}
		res.PriorDigest = state.PriorDigest
	case errors.Is(err, monitor.ErrObjectNotFound):
	default:
		return Result{}, fmt.Errorf("read prior snapshot: %w", err)
	}

	var priorManifest *monitor.Manifest
	if state.PriorExists {
		priorManifest, err = w.readManifest(ctx, res.ManifestPath)
		if err != nil {
			return Result{}, err
		}
		// A snapshot without a manifest is an interrupted write, not an archived day.
		if priorManifest == nil {
			state.PriorExists = false
			res.Repaired = true
		}
	}

	outcome, err := Decide(state)
	if err != nil {
		return Result{}, err
	}
	if outcome == monitor.OutcomeNoopUnchanged && priorManifest.ContentSHA256 != contentDigest {
		outcome = monitor.OutcomeWritten
		res.Repaired = true
	}
	res.Outcome = outcome
	if res.Repaired {
		w.logger.Warn("rewriting incomplete day",
			zap.String("day", day.String()),
			zap.String("manifest", res.ManifestPath),
		)
	}

	switch outcome {
	case monitor.OutcomeNoopUnchanged, monitor.OutcomeSkippedExists:
		w.logger.Info("snapshot kept",
			zap.String("day", day.String()),
			zap.String("outcome", string(outcome)),
			zap.String("digest", contentDigest),
		)
		return res, nil
	case monitor.OutcomeWritten:
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnexpectedOutcome, outcome)
	}

	manifest := build(res.File)
	manifestBytes, err := snapshot.Encode(manifest)
	if err != nil {
		return Result{}, err
	}
	if _, err := w.store.PutObject(ctx, res.SnapshotPath, jsonContentType, bytes.NewReader(snapshotBytes)); err != nil {
		return Result{}, fmt.Errorf("write snapshot: %w", err)
	}
	if _, err := w.store.PutObject(ctx, res.ManifestPath, jsonContentType, bytes.NewReader(manifestBytes)); err != nil {
		return Result{}, fmt.Errorf("write manifest: %w", err)
	}
	res.Manifest = &manifest

	w.logger.Info("snapshot written",
		zap.String("day", day.String()),
		zap.String("snapshot", res.SnapshotPath),
		zap.String("sha256", res.File.SHA256),
		zap.Int64("bytes", res.File.Bytes),
		zap.Bool("replaced", state.PriorExists),
	)
	return res, nil
}

// readManifest returns nil when the manifest is absent or cannot be decoded.
func (w *Writer) readManifest(ctx context.Context, key string) (*monitor.Manifest, error) {
	data, err := w.store.GetObject(ctx, key)
	if errors.Is(err, monitor.ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read prior manifest: %w", err)
	}
	var manifest monitor.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, nil
	}
	return &manifest, nil
}
