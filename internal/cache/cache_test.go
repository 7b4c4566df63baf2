package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskStoreRoundTripAndLayout(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir, ".csv", 10, 30)
	require.NoError(t, err)
	ctx := context.Background()

	key := Key("MODIS_SP", "-121.000000,38.000000,-120.000000,39.000000", "10", "2023-08-01")
	_, ok := store.Get(ctx, key)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, key, []byte("latitude,longitude\n")))
	data, ok := store.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, "latitude,longitude\n", string(data))

	hash := HashKey(key)
	_, err = os.Stat(filepath.Join(dir, hash[:2], hash+".csv"))
	require.NoError(t, err)

	entries, size, _ := store.Stats()
	assert.Equal(t, 1, entries)
	assert.Equal(t, int64(19), size)

	// no temp files left behind
	leftovers, _ := filepath.Glob(filepath.Join(dir, hash[:2], "*.tmp"))
	assert.Empty(t, leftovers)
}

func TestDiskStoreReindexesExistingFiles(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewDiskStore(dir, ".csv", 10, 30)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "a", []byte("one")))
	require.NoError(t, first.Set(ctx, "b", []byte("two")))

	second, err := NewDiskStore(dir, ".csv", 10, 30)
	require.NoError(t, err)
	data, ok := second.Get(ctx, "b")
	require.True(t, ok)
	assert.Equal(t, "two", string(data))
	entries, _, _ := second.Stats()
	assert.Equal(t, 2, entries)
}

func TestDiskStoreExpiresEntries(t *testing.T) {
	store, err := NewDiskStore(t.TempDir(), ".csv", 10, 1)
	require.NoError(t, err)
	ctx := context.Background()

	now := time.Now()
	store.now = func() time.Time { return now }
	require.NoError(t, store.Set(ctx, "k", []byte("v")))

	store.now = func() time.Time { return now.Add(25 * time.Hour) }
	_, ok := store.Get(ctx, "k")
	assert.False(t, ok)
	entries, _, _ := store.Stats()
	assert.Equal(t, 0, entries)
}

func TestDiskStoreEvictsLeastRecentlyUsed(t *testing.T) {
	store, err := NewDiskStore(t.TempDir(), ".bin", 1, 0)
	require.NoError(t, err)
	ctx := context.Background()

	clock := time.Now()
	store.now = func() time.Time { clock = clock.Add(time.Second); return clock }

	blob := make([]byte, 400*1024)
	require.NoError(t, store.Set(ctx, "old", blob))
	require.NoError(t, store.Set(ctx, "warm", blob))
	_, ok := store.Get(ctx, "old") // refresh "old" so "warm" is now the LRU entry
	require.True(t, ok)
	require.NoError(t, store.Set(ctx, "new", blob))

	_, ok = store.Get(ctx, "warm")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = store.Get(ctx, "old")
	assert.True(t, ok)
	_, ok = store.Get(ctx, "new")
	assert.True(t, ok)
}

func TestDiskStoreKeepsAccessOrderAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir, ".bin", 1, 30)
	require.NoError(t, err)
	ctx := context.Background()

	clock := time.Now().Add(-time.Hour)
	store.now = func() time.Time { clock = clock.Add(time.Second); return clock }

	blob := make([]byte, 400*1024)
	require.NoError(t, store.Set(ctx, "old", blob))
	require.NoError(t, store.Set(ctx, "warm", blob))
	_, ok := store.Get(ctx, "old")
	require.True(t, ok)
	oldEntry := *store.index[HashKey("old")]
	require.NoError(t, store.Close())
	assert.FileExists(t, filepath.Join(dir, metadataFile))

	reopened, err := NewDiskStore(dir, ".bin", 1, 30)
	require.NoError(t, err)
	got := reopened.index[HashKey("old")]
	require.NotNil(t, got)
	assert.True(t, oldEntry.AccessTime.Equal(got.AccessTime))
	assert.True(t, oldEntry.CreateTime.Equal(got.CreateTime))

	// the file mtimes say "warm" is newer; the saved access times say otherwise
	require.NoError(t, reopened.Set(ctx, "new", blob))
	_, ok = reopened.Get(ctx, "warm")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = reopened.Get(ctx, "old")
	assert.True(t, ok)
}

func TestOpenDiskNamespaces(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dir = t.TempDir()

	store, err := Open(context.Background(), cfg, "firms", ".csv")
	require.NoError(t, err)
	defer store.Close()

	disk, ok := store.(*DiskStore)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(cfg.Dir, "firms"), disk.Dir())

	cfg.Backend = "s3"
	_, err = Open(context.Background(), cfg, "firms", ".csv")
	assert.Error(t, err)
}

// fakeRedis mimics the Get/Set behaviour of a Redis server
type fakeRedis struct {
	data map[string]string
	ttls map[string]time.Duration
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	f.data[key] = string(value.([]byte))
	f.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Close() error { return nil }

func TestRedisStore(t *testing.T) {
	fake := &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
	store := newRedisStore(fake, "fire-timelapse:firms", 7)
	ctx := context.Background()

	_, ok := store.Get(ctx, "k")
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", []byte("No data")))
	data, ok := store.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "No data", string(data))

	redisKey := "fire-timelapse:firms:" + HashKey("k")
	assert.Contains(t, fake.data, redisKey)
	assert.Equal(t, 7*24*time.Hour, fake.ttls[redisKey])
}

func TestNopNeverHits(t *testing.T) {
	var s Store = Nop{}
	require.NoError(t, s.Set(context.Background(), "k", []byte("v")))
	_, ok := s.Get(context.Background(), "k")
	assert.False(t, ok)
}
