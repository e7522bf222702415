package kv

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStoreContract(t *testing.T) {
	addr := os.Getenv("KV_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KV_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	store := NewRedisStore(client)
	exerciseStore(t, store)
}

func TestPostgresStoreContract(t *testing.T) {
	url := os.Getenv("KV_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("KV_TEST_DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), url)
	if err != nil {
		t.Skipf("db unavailable: %v", err)
	}
	defer pool.Close()

	store := NewPostgresStore(pool)
	require.NoError(t, store.EnsureSchema(context.Background()))
	exerciseStore(t, store)
}

func TestMemoryStoreContract(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	ns := fmt.Sprintf("kvtest_%d:", time.Now().UnixNano())
	t.Cleanup(func() {
		entries, _ := store.GetByPrefix(ctx, ns)
		for _, entry := range entries {
			_ = store.Delete(ctx, entry.Key)
		}
	})

	require.NoError(t, SetJSON(ctx, store, ns+"a", map[string]string{"status": "pending"}))
	var doc map[string]string
	require.NoError(t, GetJSON(ctx, store, ns+"a", &doc))
	assert.Equal(t, "pending", doc["status"])

	ok, err := store.SetIfAbsent(ctx, ns+"a", []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.SetIfAbsent(ctx, ns+"b", []byte(`{"n":1}`))
	require.NoError(t, err)
	assert.True(t, ok)

	// Glob characters in keys must not widen the scan.
	require.NoError(t, store.Set(ctx, ns+"*x", []byte(`true`)))
	entries, err := store.GetByPrefix(ctx, ns+"*")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ns+"*x", entries[0].Key)

	entries, err = store.GetByPrefix(ctx, ns)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	var wg sync.WaitGroup
	results := make(chan int64, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := store.Incr(ctx, ns+"counter")
			assert.NoError(t, err)
			results <- value
		}()
	}
	wg.Wait()
	close(results)
	seen := map[int64]bool{}
	for value := range results {
		seen[value] = true
	}
	assert.Len(t, seen, 20)

	require.NoError(t, store.Delete(ctx, ns+"a"))
	_, err = store.Get(ctx, ns+"a")
	assert.ErrorIs(t, err, ErrNotFound)

	exerciseConditionalWrites(t, store, ns)
}

func exerciseConditionalWrites(t *testing.T, store Store, ns string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, ns+"req", []byte(`{"status":"pending"}`)))
	pending, err := store.Get(ctx, ns+"req")
	require.NoError(t, err)

	ok, err := store.CompareAndSwap(ctx, ns+"req", []byte(`{"status":"rejected"}`), []byte(`{"status":"approved"}`))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.CompareAndSwap(ctx, ns+"req", pending, []byte(`{"status":"approved"}`))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.CompareAndSwap(ctx, ns+"req", pending, []byte(`{"status":"rejected"}`))
	require.NoError(t, err)
	assert.False(t, ok)

	var doc map[string]string
	require.NoError(t, GetJSON(ctx, store, ns+"req", &doc))
	assert.Equal(t, "approved", doc["status"])

	ok, err = store.CompareAndSwap(ctx, ns+"absent", []byte(`{}`), []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, ns+"otp", []byte(`{"code":"123456"}`)))
	stored, err := store.Get(ctx, ns+"otp")
	require.NoError(t, err)

	ok, err = store.DeleteIfEqual(ctx, ns+"otp", []byte(`{"code":"654321"}`))
	require.NoError(t, err)
	assert.False(t, ok)

	var wg sync.WaitGroup
	deleted := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.DeleteIfEqual(ctx, ns+"otp", stored)
			assert.NoError(t, err)
			deleted <- ok
		}()
	}
	wg.Wait()
	close(deleted)
	wins := 0
	for ok := range deleted {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	_, err = store.Get(ctx, ns+"otp")
	assert.ErrorIs(t, err, ErrNotFound)
}
