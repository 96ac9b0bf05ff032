package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestCacheVersionedKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := NewCache(client, time.Minute)
	ctx := context.Background()

	key, err := cache.BuildKey(ctx, "ledger", "stats")
	require.NoError(t, err)
	require.Equal(t, "ledger:stats:1", key)

	require.NoError(t, cache.Bump(ctx))
	key, err = cache.BuildKey(ctx, "ledger", "stats")
	require.NoError(t, err)
	require.Equal(t, "ledger:stats:2", key)
}

func TestCacheFetchJSONCoalescesMisses(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := NewCache(client, time.Minute)
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	loader := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return map[string]int{"n": 42}, nil
	}

	var wg sync.WaitGroup
	results := make([]map[string]int, 5)
	errs := make([]error, len(results))
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = cache.FetchJSON(ctx, "k", &results[i], loader)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	for i, r := range results {
		require.NoError(t, errs[i])
		require.Equal(t, 42, r["n"])
	}
	require.True(t, mr.Exists("k"))
}

func TestCacheWithoutClientCallsLoader(t *testing.T) {
	var cache *Cache
	var out []string
	err := cache.FetchJSON(context.Background(), "k", &out, func(context.Context) (any, error) {
		return []string{"a"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, out)
	require.NoError(t, cache.Bump(context.Background()))

	err = cache.FetchJSON(context.Background(), "k", &out, func(context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	require.EqualError(t, err, "boom")
}
