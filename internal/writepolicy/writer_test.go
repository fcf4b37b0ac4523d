package writepolicy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/trizel-monitor/internal/clock/system"
	"github.com/JakeFAU/trizel-monitor/internal/daykey"
	"github.com/JakeFAU/trizel-monitor/internal/hash/sha256"
	"github.com/JakeFAU/trizel-monitor/internal/monitor"
	"github.com/JakeFAU/trizel-monitor/internal/snapshot"
	"github.com/JakeFAU/trizel-monitor/internal/storage/memory"
)

var today = time.Date(2025, 7, 4, 12, 0, 0, 0, time.UTC)

func mustDay(t *testing.T, raw string) daykey.Day {
	t.Helper()
	day, err := daykey.Parse(raw)
	require.NoError(t, err)
	return day
}

// encodeSnapshot builds a one-source snapshot whose payload digest is payload.
func encodeSnapshot(t *testing.T, day daykey.Day, payload string, at time.Time) []byte {
	t.Helper()
	status := http.StatusOK
	records := []monitor.SourceRecord{{FetchOutcome: monitor.FetchOutcome{
		SourceID:     "sbdb",
		URL:          "https://ssd.example/api",
		RetrievedUTC: monitor.Timestamp(at),
		OK:           true,
		Status:       &status,
		SHA256:       payload,
		Bytes:        10,
	}}}
	snap := snapshot.NewAssembler(system.NewFixed(at)).Assemble(records, "3I/ATLAS", day, nil)
	data, err := snapshot.Encode(snap)
	require.NoError(t, err)
	return data
}

func manifestFor(t *testing.T, data []byte) ManifestFunc {
	t.Helper()
	return func(file snapshot.FileInfo) monitor.Manifest {
		snap, err := snapshot.Decode(data)
		require.NoError(t, err)
		return snapshot.BuildManifest(snap, file, "run-test", today)
	}
}

func newWriter(cfg Config, store monitor.ObjectStore) *Writer {
	return NewWriter(cfg, store, system.NewFixed(today), zap.NewNop())
}

func TestWriteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewBlobStore()
	w := newWriter(Config{}, store)
	day := mustDay(t, "2025-07-04")
	data := encodeSnapshot(t, day, "aaa", today)

	first, err := w.Write(ctx, day, data, manifestFor(t, data))
	require.NoError(t, err)
	assert.Equal(t, monitor.OutcomeWritten, first.Outcome)
	require.NotNil(t, first.Manifest)

	snapAfterFirst, err := store.GetObject(ctx, "snapshots/snapshot_2025-07-04.json")
	require.NoError(t, err)
	manifestAfterFirst, err := store.GetObject(ctx, "manifests/manifest_2025-07-04.json")
	require.NoError(t, err)

	second, err := w.Write(ctx, day, data, manifestFor(t, data))
	require.NoError(t, err)
	assert.Equal(t, monitor.OutcomeNoopUnchanged, second.Outcome)
	assert.Nil(t, second.Manifest)

	snapAfterSecond, err := store.GetObject(ctx, "snapshots/snapshot_2025-07-04.json")
	require.NoError(t, err)
	manifestAfterSecond, err := store.GetObject(ctx, "manifests/manifest_2025-07-04.json")
	require.NoError(t, err)
	assert.Equal(t, snapAfterFirst, snapAfterSecond)
	assert.Equal(t, manifestAfterFirst, manifestAfterSecond)
}

func TestWriteIgnoresRetrievalTimeChurn(t *testing.T) {
	ctx := context.Background()
	store := memory.NewBlobStore()
	w := newWriter(Config{OverwriteToday: true}, store)
	day := mustDay(t, "2025-07-04")

	data := encodeSnapshot(t, day, "aaa", today)
	_, err := w.Write(ctx, day, data, manifestFor(t, data))
	require.NoError(t, err)

	rerun := encodeSnapshot(t, day, "aaa", today.Add(time.Hour))
	res, err := w.Write(ctx, day, rerun, manifestFor(t, rerun))
	require.NoError(t, err)
	assert.Equal(t, monitor.OutcomeNoopUnchanged, res.Outcome)

	stored, err := store.GetObject(ctx, "snapshots/snapshot_2025-07-04.json")
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

func TestWriteManifestCarriesDecisionDigest(t *testing.T) {
	ctx := context.Background()
	store := memory.NewBlobStore()
	w := newWriter(Config{}, store)
	day := mustDay(t, "2025-07-04")
	data := encodeSnapshot(t, day, "aaa", today)

	res, err := w.Write(ctx, day, data, manifestFor(t, data))
	require.NoError(t, err)

	contentDigest, err := snapshot.ContentDigest(data)
	require.NoError(t, err)
	assert.Equal(t, sha256.Sum(data), res.Manifest.SnapshotSHA256)
	assert.Equal(t, contentDigest, res.Manifest.ContentSHA256)
	assert.Equal(t, int64(len(data)), res.Manifest.SnapshotBytes)
	assert.Equal(t, "snapshots/snapshot_2025-07-04.json", res.Manifest.SnapshotFile)

	raw, err := store.GetObject(ctx, res.ManifestPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"snapshot_sha256": "`+sha256.Sum(data)+`"`)
}

func TestWritePastDayIsImmutable(t *testing.T) {
	ctx := context.Background()
	store := memory.NewBlobStore()
	day := mustDay(t, "2025-07-01")
	original := encodeSnapshot(t, day, "aaa", today)

	_, err := newWriter(Config{}, store).Write(ctx, day, original, manifestFor(t, original))
	require.NoError(t, err)
	manifestBefore, err := store.GetObject(ctx, "manifests/manifest_2025-07-01.json")
	require.NoError(t, err)

	changed := encodeSnapshot(t, day, "bbb", today)
	res, err := newWriter(Config{OverwriteToday: true}, store).Write(ctx, day, changed, manifestFor(t, changed))
	require.NoError(t, err)
	assert.Equal(t, monitor.OutcomeSkippedExists, res.Outcome)

	stored, err := store.GetObject(ctx, "snapshots/snapshot_2025-07-01.json")
	require.NoError(t, err)
	assert.Equal(t, original, stored)
	manifestAfter, err := store.GetObject(ctx, "manifests/manifest_2025-07-01.json")
	require.NoError(t, err)
	assert.Equal(t, manifestBefore, manifestAfter)

	res, err = newWriter(Config{Overwrite: true}, store).Write(ctx, day, changed, manifestFor(t, changed))
	require.NoError(t, err)
	assert.Equal(t, monitor.OutcomeWritten, res.Outcome)
	stored, err = store.GetObject(ctx, "snapshots/snapshot_2025-07-01.json")
	require.NoError(t, err)
	assert.Equal(t, changed, stored)
}

func TestWriteTodayNeedsFlag(t *testing.T) {
	ctx := context.Background()
	store := memory.NewBlobStore()
	day := mustDay(t, "2025-07-04")
	original := encodeSnapshot(t, day, "aaa", today)
	_, err := newWriter(Config{}, store).Write(ctx, day, original, manifestFor(t, original))
	require.NoError(t, err)

	changed := encodeSnapshot(t, day, "bbb", today)
	res, err := newWriter(Config{}, store).Write(ctx, day, changed, manifestFor(t, changed))
	require.NoError(t, err)
	assert.Equal(t, monitor.OutcomeSkippedExists, res.Outcome)

	res, err = newWriter(Config{OverwriteToday: true}, store).Write(ctx, day, changed, manifestFor(t, changed))
	require.NoError(t, err)
	assert.Equal(t, monitor.OutcomeWritten, res.Outcome)
	assert.NotEmpty(t, res.PriorDigest)
}

type brokenStore struct{ *memory.BlobStore }

func (brokenStore) GetObject(context.Context, string) ([]byte, error) {
	return nil, errors.New("disk on fire")
}

func (brokenStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("disk on fire")
}

func TestWritePropagatesStoreErrors(t *testing.T) {
	day := mustDay(t, "2025-07-04")
	data := encodeSnapshot(t, day, "aaa", today)

	_, err := newWriter(Config{}, brokenStore{memory.NewBlobStore()}).Write(context.Background(), day, data, manifestFor(t, data))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read prior snapshot")
}

// flakyManifestStore fails the next manifest write, once.
type flakyManifestStore struct {
	*memory.BlobStore
	failNext bool
}

func (s *flakyManifestStore) PutObject(ctx context.Context, path, contentType string, data io.Reader) (string, error) {
	if s.failNext && strings.HasPrefix(path, "manifests/") {
		s.failNext = false
		return "", errors.New("disk full")
	}
	return s.BlobStore.PutObject(ctx, path, contentType, data)
}

func TestWriteRepairsMissingManifest(t *testing.T) {
	ctx := context.Background()
	store := &flakyManifestStore{BlobStore: memory.NewBlobStore(), failNext: true}
	w := newWriter(Config{}, store)
	day := mustDay(t, "2025-07-04")
	data := encodeSnapshot(t, day, "aaa", today)

	_, err := w.Write(ctx, day, data, manifestFor(t, data))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write manifest")
	_, err = store.GetObject(ctx, "manifests/manifest_2025-07-04.json")
	require.ErrorIs(t, err, monitor.ErrObjectNotFound)

	res, err := w.Write(ctx, day, data, manifestFor(t, data))
	require.NoError(t, err)
	assert.Equal(t, monitor.OutcomeWritten, res.Outcome)
	assert.True(t, res.Repaired)
	require.NotNil(t, res.Manifest)

	_, err = store.GetObject(ctx, "manifests/manifest_2025-07-04.json")
	require.NoError(t, err)

	again, err := w.Write(ctx, day, data, manifestFor(t, data))
	require.NoError(t, err)
	assert.Equal(t, monitor.OutcomeNoopUnchanged, again.Outcome)
	assert.False(t, again.Repaired)
}

func TestWriteRepairsOrphanPastDay(t *testing.T) {
	ctx := context.Background()
	store := memory.NewBlobStore()
	day := mustDay(t, "2025-07-01")
	orphan := encodeSnapshot(t, day, "aaa", today)
	_, err := store.PutObject(ctx, "snapshots/snapshot_2025-07-01.json", "application/json", strings.NewReader(string(orphan)))
	require.NoError(t, err)

	changed := encodeSnapshot(t, day, "bbb", today)
	res, err := newWriter(Config{}, store).Write(ctx, day, changed, manifestFor(t, changed))
	require.NoError(t, err)
	assert.Equal(t, monitor.OutcomeWritten, res.Outcome)
	assert.True(t, res.Repaired)

	stored, err := store.GetObject(ctx, "snapshots/snapshot_2025-07-01.json")
	require.NoError(t, err)
	assert.Equal(t, changed, stored)
}

func TestWriteRewritesStaleManifestOnUnchangedContent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewBlobStore()
	w := newWriter(Config{}, store)
	day := mustDay(t, "2025-07-04")
	data := encodeSnapshot(t, day, "aaa", today)
	_, err := w.Write(ctx, day, data, manifestFor(t, data))
	require.NoError(t, err)

	_, err = store.PutObject(ctx, "manifests/manifest_2025-07-04.json", "application/json",
		strings.NewReader(`{"schema":"auto-dz-act.manifest.v1","content_sha256":"stale"}`))
	require.NoError(t, err)

	res, err := w.Write(ctx, day, data, manifestFor(t, data))
	require.NoError(t, err)
	assert.Equal(t, monitor.OutcomeWritten, res.Outcome)
	assert.True(t, res.Repaired)

	raw, err := store.GetObject(ctx, "manifests/manifest_2025-07-04.json")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "stale")
}

func TestWriteRejectsInvalidSnapshot(t *testing.T) {
	_, err := newWriter(Config{}, memory.NewBlobStore()).Write(context.Background(), mustDay(t, "2025-07-04"), []byte("{"), nil)
	require.Error(t, err)
}
