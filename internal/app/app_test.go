package app_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/trizel-monitor/internal/app"
	"github.com/JakeFAU/trizel-monitor/internal/config"
	"github.com/JakeFAU/trizel-monitor/internal/daykey"
	"github.com/JakeFAU/trizel-monitor/internal/monitor"
	"github.com/JakeFAU/trizel-monitor/internal/snapshot"
)

const testRegistry = `
object: 3I/ATLAS
sources:
  - id: offline
    kind: placeholder
`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Paths: config.PathsConfig{
			Root:      filepath.Join(dir, "data"),
			Registry:  filepath.Join(dir, "registry.yaml"),
			Snapshots: "snapshots",
			Manifests: "manifests",
			Raw:       "raw",
		},
		Fetch:    config.FetchConfig{TimeoutSeconds: 5, MaxBytes: 1024},
		Features: config.FeaturesConfig{Resolver: true, RawEvidence: true},
		Backfill: config.BackfillConfig{MaxDays: 31},
		Ledger: config.LedgerConfig{
			Driver: config.LedgerSQLite,
			DSN:    filepath.Join(dir, "ledger.db"),
			Table:  "write_ledger",
		},
	}
}

func TestBuild_LocalStack(t *testing.T) {
	cfg := testConfig(t)
	a, err := app.Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.NotNil(t, a.GetLogger())
	assert.NotNil(t, a.GetArchive())
	assert.NotNil(t, a.GetClock())
	assert.Equal(t, cfg.Paths.Root, a.GetConfig().Paths.Root)
	assert.DirExists(t, cfg.Paths.Root)
	assert.FileExists(t, cfg.Ledger.DSN)
}

func TestBuild_EmptyRootFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Paths.Root = ""
	_, err := app.Build(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestGetRunner_RequiresRegistry(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ledger.Driver = config.LedgerNone
	a, err := app.Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	_, err = a.GetRunner(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "load registry")
}

func TestGetRunner_CachesPipeline(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Paths.Registry, []byte(testRegistry), 0o600))
	a, err := app.Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	runner, err := a.GetRunner(context.Background())
	require.NoError(t, err)
	again, err := a.GetRunner(context.Background())
	require.NoError(t, err)
	assert.Same(t, runner, again)
}

func TestRunDay_UnreachableSourceStillWritesDay(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	downURL := srv.URL + "/api"
	srv.Close()

	cfg := testConfig(t)
	cfg.Fetch.RequestsPerSecond = 5
	registry := fmt.Sprintf(`
object: 3I/ATLAS
sources:
  - id: offline
    kind: placeholder
  - id: down
    url: %s
    timeout_seconds: 2
`, downURL)
	require.NoError(t, os.WriteFile(cfg.Paths.Registry, []byte(registry), 0o600))
	a, err := app.Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	runner, err := a.GetRunner(context.Background())
	require.NoError(t, err)
	day, err := daykey.Parse("2025-07-04")
	require.NoError(t, err)

	res, err := runner.RunDay(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, monitor.OutcomeWritten, res.Outcome)
	assert.Equal(t, 2, res.SourcesTotal)
	assert.Zero(t, res.SourcesOK)

	raw, err := a.GetArchive().Snapshot(context.Background(), day)
	require.NoError(t, err)
	snap, err := snapshot.Decode(raw)
	require.NoError(t, err)
	require.Len(t, snap.Sources, 2)
	require.NotNil(t, snap.Sources[0].Error)
	assert.Equal(t, monitor.ErrorKindMissingURL, snap.Sources[0].Error.Kind)
	require.NotNil(t, snap.Sources[1].Error)
	assert.Equal(t, monitor.ErrorKindTransport, snap.Sources[1].Error.Kind)

	report, err := a.GetArchive().Verify(context.Background(), day)
	require.NoError(t, err)
	assert.True(t, report.OK, report.Problem)

	days, err := a.GetArchive().Days(context.Background())
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, "2025-07-04", days[0].String())
}

func TestServe_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ledger.Driver = config.LedgerNone
	a, err := app.Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Serve(ctx))
}
