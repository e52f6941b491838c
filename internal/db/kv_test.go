package db

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ictashik/OpenDataTagger/internal/kv"
	"github.com/ictashik/OpenDataTagger/internal/models"
)

func TestKVSetGet(t *testing.T) {
	ctx := context.Background()
	want := models.FilePaths{TaggedFile: "media/a_tagged.csv", LogsFile: "media/a_logs.csv"}

	require.NoError(t, testDB.Set(ctx, "files:set-get", want, time.Hour))

	var got models.FilePaths
	ok, err := testDB.Get(ctx, "files:set-get", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	ok, err = testDB.Get(ctx, "files:missing", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKVExpiry(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, testDB.Set(ctx, "files:short", "x", time.Second))
	time.Sleep(1500 * time.Millisecond)

	var got string
	assert.ErrorIs(t, kv.MustGet(ctx, testDB, "files:short", &got), kv.ErrNotFound)

	_, err := testDB.PurgeExpired(ctx)
	require.NoError(t, err)
}

func TestKVOverwriteClearsExpiry(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, testDB.Set(ctx, "session:x", 1, time.Second))
	require.NoError(t, testDB.Set(ctx, "session:x", 2, 0))
	time.Sleep(1500 * time.Millisecond)

	var got int
	require.NoError(t, kv.MustGet(ctx, testDB, "session:x", &got))
	assert.Equal(t, 2, got)
}

func TestKVAdd(t *testing.T) {
	ctx := context.Background()
	key := "llm:requests:test"
	t.Cleanup(func() { _ = testDB.Delete(ctx, key) })

	n, err := kv.Number(ctx, testDB, key)
	require.NoError(t, err)
	assert.Zero(t, n)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := testDB.Add(ctx, key, 1)
				if err == nil {
					return
				}
				// Concurrent UPSERTs on one record may conflict; retry.
				if !assert.ErrorIs(t, err, ErrTransactionConflict) {
					return
				}
			}
		}()
	}
	wg.Wait()

	var total float64
	require.NoError(t, kv.MustGet(ctx, testDB, key, &total))
	assert.Equal(t, 10.0, total)
}

func TestKVDelete(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.Set(ctx, "session:del", "v", 0))

	require.NoError(t, testDB.Delete(ctx, "session:del"))
	require.NoError(t, testDB.Delete(ctx, "session:del"))

	var got string
	ok, err := testDB.Get(ctx, "session:del", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}
