package storage

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends returns every KV implementation wired to a throwaway backing
// store, plus a function that moves that store's clock forward.
func backends(t *testing.T) map[string]func(t *testing.T) (KV, func(time.Duration)) {
	return map[string]func(t *testing.T) (KV, func(time.Duration)){
		"memory": func(t *testing.T) (KV, func(time.Duration)) {
			kv := NewMemoryKV()
			t.Cleanup(func() { kv.Close() })
			return kv, time.Sleep
		},
		"file": func(t *testing.T) (KV, func(time.Duration)) {
			kv, err := NewFileKV(filepath.Join(t.TempDir(), "store"))
			require.NoError(t, err)
			return kv, time.Sleep
		},
		"redis": func(t *testing.T) (KV, func(time.Duration)) {
			m, err := mr.Run()
			require.NoError(t, err)
			t.Cleanup(m.Close)
			kv := NewRedisKVWithClient(redis.NewClient(&redis.Options{Addr: m.Addr()}), "test:")
			t.Cleanup(func() { kv.Close() })
			return kv, m.FastForward
		},
	}
}

func TestKV_Contract(t *testing.T) {
	ctx := context.Background()

	for name, newKV := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("missing key returns ErrNotFound", func(t *testing.T) {
				kv, _ := newKV(t)
				_, err := kv.Get(ctx, "erp.session")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("set then get round trips bytes", func(t *testing.T) {
				kv, _ := newKV(t)
				require.NoError(t, kv.Set(ctx, "erp.session", []byte(`{"accessToken":"a"}`), 0))

				got, err := kv.Get(ctx, "erp.session")
				require.NoError(t, err)
				assert.Equal(t, `{"accessToken":"a"}`, string(got))
			})

			t.Run("set overwrites", func(t *testing.T) {
				kv, _ := newKV(t)
				require.NoError(t, kv.Set(ctx, "erp.remember", []byte("true"), 0))
				require.NoError(t, kv.Set(ctx, "erp.remember", []byte("false"), 0))

				got, err := kv.Get(ctx, "erp.remember")
				require.NoError(t, err)
				assert.Equal(t, "false", string(got))
			})

			t.Run("delete removes and tolerates missing keys", func(t *testing.T) {
				kv, _ := newKV(t)
				require.NoError(t, kv.Set(ctx, "erp.session", []byte("x"), 0))
				require.NoError(t, kv.Delete(ctx, "erp.session"))
				require.NoError(t, kv.Delete(ctx, "erp.session"))

				_, err := kv.Get(ctx, "erp.session")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("values expire after ttl", func(t *testing.T) {
				kv, advance := newKV(t)
				require.NoError(t, kv.Set(ctx, "erp.mfa.pending", []byte("secret"), 50*time.Millisecond))

				_, err := kv.Get(ctx, "erp.mfa.pending")
				require.NoError(t, err)

				advance(100 * time.Millisecond)

				_, err = kv.Get(ctx, "erp.mfa.pending")
				assert.ErrorIs(t, err, ErrNotFound)
			})
		})
	}
}

func TestMemoryKV_CleanupRemovesExpired(t *testing.T) {
	kv := newMemoryKV(10 * time.Millisecond)
	defer kv.Close()

	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, "short", []byte("1"), 5*time.Millisecond))
	require.NoError(t, kv.Set(ctx, "long", []byte("1"), time.Hour))

	assert.Eventually(t, func() bool { return kv.Size() == 1 }, time.Second, 10*time.Millisecond)
}

func TestMemoryKV_CloseIdempotent(t *testing.T) {
	kv := NewMemoryKV()
	assert.NoError(t, kv.Close())
	assert.NoError(t, kv.Close())
}

func TestMemoryKV_GetReturnsCopy(t *testing.T) {
	kv := NewMemoryKV()
	defer kv.Close()

	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, "k", []byte("abc"), 0))
	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	got[0] = 'z'

	again, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}

func TestFileKV(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a directory", func(t *testing.T) {
		_, err := NewFileKV("")
		require.Error(t, err)
	})

	t.Run("rejects keys that could escape the directory", func(t *testing.T) {
		kv, err := NewFileKV(t.TempDir())
		require.NoError(t, err)

		err = kv.Set(ctx, "../escape", []byte("x"), 0)
		require.Error(t, err)
		_, err = kv.Get(ctx, "a/b")
		require.Error(t, err)
	})

	t.Run("files are private to the user", func(t *testing.T) {
		dir := t.TempDir()
		kv, err := NewFileKV(dir)
		require.NoError(t, err)
		require.NoError(t, kv.Set(ctx, "erp.session", []byte("secret"), 0))

		info, err := os.Stat(filepath.Join(dir, "erp.session.json"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("corrupt file is reported as ErrCorrupt", func(t *testing.T) {
		dir := t.TempDir()
		kv, err := NewFileKV(dir)
		require.NoError(t, err)

		for name, content := range map[string]string{
			"truncated record": `{"value":"eyJhY2Nlc3`,
			"value not bytes":  `{"value":42}`,
		} {
			require.NoError(t, os.WriteFile(filepath.Join(dir, "erp.session.json"), []byte(content), 0o600))

			_, err = kv.Get(ctx, "erp.session")
			assert.ErrorIs(t, err, ErrCorrupt, name)
			assert.NotErrorIs(t, err, ErrNotFound, name)
		}
	})

	t.Run("survives a new instance on the same directory", func(t *testing.T) {
		dir := t.TempDir()
		first, err := NewFileKV(dir)
		require.NoError(t, err)
		require.NoError(t, first.Set(ctx, "erp.session", []byte("persisted"), 0))

		second, err := NewFileKV(dir)
		require.NoError(t, err)
		got, err := second.Get(ctx, "erp.session")
		require.NoError(t, err)
		assert.Equal(t, "persisted", string(got))
	})
}

func TestNewRedisKV(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	kv, err := NewRedisKV(RedisConfig{Host: m.Host(), Port: mustPort(t, m), KeyPrefix: "erp:"})
	require.NoError(t, err)
	defer kv.Close()

	require.NoError(t, kv.Set(context.Background(), "erp.session", []byte("v"), 0))
	assert.True(t, m.Exists("erp:erp.session"))
}

func TestNewRedisKV_Unreachable(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	port := mustPort(t, m)
	m.Close()

	_, err = NewRedisKV(RedisConfig{Host: "127.0.0.1", Port: port})
	require.Error(t, err)
}

func mustPort(t *testing.T, m *mr.Miniredis) int {
	t.Helper()
	port, err := strconv.Atoi(m.Port())
	require.NoError(t, err)
	return port
}
