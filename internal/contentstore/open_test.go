package contentstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dukcapil/internal/contentstore/core"
	"dukcapil/internal/platform/config"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name   string
		cfg    config.ContentStore
		driver core.Driver
	}{
		{"memory", config.ContentStore{Driver: "memory"}, core.DriverMemory},
		{"filesystem", config.ContentStore{Driver: "fs", FSRoot: filepath.Join(dir, "blobs")}, core.DriverFilesystem},
		{"sqlite", config.ContentStore{Driver: "sqlite", SQLitePath: filepath.Join(dir, "blobs.db")}, core.DriverSQLite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, closer, err := Open(ctx, tt.cfg)
			require.NoError(t, err)
			t.Cleanup(func() { _ = closer.Close() })
			assert.Equal(t, tt.driver, store.Driver())

			cid, err := store.Put(ctx, []byte("kartu keluarga"))
			require.NoError(t, err)
			got, err := store.Get(ctx, cid)
			require.NoError(t, err)
			assert.Equal(t, []byte("kartu keluarga"), got)
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, _, err := Open(context.Background(), config.ContentStore{Driver: "ipfs"})
	assert.ErrorContains(t, err, "unknown content store driver")
}

func TestOpenWithRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	store, _, err := Open(ctx, config.ContentStore{Driver: "memory"}, WithRedisCache(client, time.Minute))
	require.NoError(t, err)

	cid, err := store.Put(ctx, []byte("sealed"))
	require.NoError(t, err)
	assert.True(t, mr.Exists("dukcapil:blob:"+string(cid)))
	assert.Equal(t, core.DriverMemory, store.Driver())
}
