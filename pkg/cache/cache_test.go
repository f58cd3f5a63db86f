package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrayforge/arrayforge/pkg/compiler"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testOptions(t *testing.T, replicas int) *compiler.Options {
	t.Helper()
	opts, err := compiler.DeriveOptions(compiler.DeriveParams{
		NumReplicas:   replicas,
		NumPartitions: 1,
	})
	require.NoError(t, err)
	return opts
}

func TestKeyDerivation(t *testing.T) {
	m := compiler.NewModule("jit_f", []byte("module @jit_f {\n}\n"))
	opts := testOptions(t, 1)

	k1 := NewKey(m, opts, "cpu")
	k2 := NewKey(m, opts, "cpu")
	assert.Equal(t, k1, k2, "identical inputs must derive identical keys")
	assert.Len(t, k1.String(), 64)

	// Formatting-only differences hash identically.
	reformatted := compiler.NewModule("jit_f", []byte("module @jit_f {  \r\n}\r\n"))
	assert.Equal(t, k1, NewKey(reformatted, opts, "cpu"))

	// Any semantic input changing changes the key.
	other := compiler.NewModule("jit_g", []byte("module @jit_g {\n}\n"))
	assert.NotEqual(t, k1, NewKey(other, opts, "cpu"))
	assert.NotEqual(t, k1, NewKey(m, testOptions(t, 2), "cpu"))
	assert.NotEqual(t, k1, NewKey(m, opts, "tpu"))
}

func TestCacheRoundtrip(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	m := compiler.NewModule("jit_f", []byte("module @jit_f {\n}\n"))
	opts := testOptions(t, 1)
	key := NewKey(m, opts, "cpu")

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "empty cache should miss")

	exec := &compiler.Executable{
		ModuleName:  "jit_f",
		Platform:    "cpu",
		Artifact:    []byte("artifact"),
		CompileTime: 2 * time.Second,
	}
	require.NoError(t, c.Put(ctx, key, &Entry{Executable: exec}))

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "jit_f", got.Executable.ModuleName)
	assert.Equal(t, []byte("artifact"), got.Executable.Artifact)
	assert.Equal(t, 2*time.Second, got.Executable.CompileTime)
	assert.False(t, got.CreatedAt.IsZero(), "Put should stamp CreatedAt")
}

func TestCachePutRejectsEmptyEntry(t *testing.T) {
	c := openTestCache(t)
	err := c.Put(context.Background(), Key("deadbeef"), &Entry{})
	assert.Error(t, err)
}

func TestCacheStatsAndClear(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	opts := testOptions(t, 1)
	for _, name := range []string{"a", "b", "c"} {
		m := compiler.NewModule(name, []byte("module @"+name+" {\n}\n"))
		entry := &Entry{Executable: &compiler.Executable{ModuleName: name, Platform: "cpu"}}
		require.NoError(t, c.Put(ctx, NewKey(m, opts, "cpu"), entry))
	}

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Entries)

	require.NoError(t, c.Clear(ctx))
	stats, err = c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Entries)
}

func TestCacheCanceledContext(t *testing.T) {
	c := openTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.Get(ctx, Key("k"))
	assert.Error(t, err)
	assert.Error(t, c.Put(ctx, Key("k"), &Entry{}))
}
