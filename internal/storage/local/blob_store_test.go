// Package local_test tests the local filesystem blob store.
package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/trizel-monitor/internal/monitor"
	"github.com/JakeFAU/trizel-monitor/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "data", "archive")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "testfile")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("NestedPut", func(t *testing.T) {
		key := "raw/2025-07-04/sbdb.json"
		data := []byte(`{"object":"3I"}`)
		uri, err := store.PutObject(ctx, key, "application/json", bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, "raw", "2025-07-04", "sbdb.json"), uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, "raw", "2025-07-04", "sbdb.json"))
		require.NoError(t, err)
		assert.Equal(t, data, readData)
	})

	t.Run("OverwriteReplacesContent", func(t *testing.T) {
		key := "snapshots/snapshot_2025-07-04.json"
		_, err := store.PutObject(ctx, key, "application/json", bytes.NewReader([]byte("first")))
		require.NoError(t, err)
		_, err = store.PutObject(ctx, key, "application/json", bytes.NewReader([]byte("second")))
		require.NoError(t, err)

		got, err := store.GetObject(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "second", string(got))

		entries, err := os.ReadDir(filepath.Join(tempDir, "snapshots"))
		require.NoError(t, err)
		assert.Len(t, entries, 1, "temp files must not be left behind")
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, "", "text/plain", bytes.NewReader([]byte("data")))
		assert.Error(t, err)
	})

	t.Run("PathTraversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../escape.txt", "text/plain", bytes.NewReader([]byte("data")))
		assert.Error(t, err)
	})
}

func TestGetObjectMissing(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.GetObject(context.Background(), "snapshots/snapshot_1999-01-01.json")
	require.ErrorIs(t, err, monitor.ErrObjectNotFound)
}

func TestListObjects(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{
		"snapshots/snapshot_2025-07-05.json",
		"snapshots/snapshot_2025-07-04.json",
		"manifests/manifest_2025-07-04.json",
	} {
		_, err := store.PutObject(ctx, key, "application/json", bytes.NewReader([]byte("{}")))
		require.NoError(t, err)
	}

	keys, err := store.ListObjects(ctx, "snapshots/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"snapshots/snapshot_2025-07-04.json",
		"snapshots/snapshot_2025-07-05.json",
	}, keys)

	keys, err = store.ListObjects(ctx, "snapshots/snapshot_2025-07-05")
	require.NoError(t, err)
	assert.Equal(t, []string{"snapshots/snapshot_2025-07-05.json"}, keys)

	keys, err = store.ListObjects(ctx, "absent/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}
