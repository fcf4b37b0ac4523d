package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/trizel-monitor/internal/monitor"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "raw/2025-07-04/page.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "memory://raw/2025-07-04/page.html", uri)

	payload[0] = 'C'
	stored, err := store.GetObject(context.Background(), "raw/2025-07-04/page.html")
	require.NoError(t, err)
	assert.Equal(t, "content", string(stored))
}

func TestBlobStoreGetObjectMissing(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().GetObject(context.Background(), "absent")
	require.ErrorIs(t, err, monitor.ErrObjectNotFound)
}

func TestBlobStoreListObjects(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewBlobStore()
	for _, key := range []string{"snapshots/b.json", "manifests/a.json", "snapshots/a.json"} {
		_, err := store.PutObject(ctx, key, "application/json", bytes.NewReader([]byte("{}")))
		require.NoError(t, err)
	}

	keys, err := store.ListObjects(ctx, "snapshots/")
	require.NoError(t, err)
	assert.Equal(t, []string{"snapshots/a.json", "snapshots/b.json"}, keys)

	store.Delete("snapshots/a.json")
	keys, err = store.ListObjects(ctx, "snapshots/")
	require.NoError(t, err)
	assert.Equal(t, []string{"snapshots/b.json"}, keys)
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), " ", "", bytes.NewReader(nil))
	require.Error(t, err)
}
