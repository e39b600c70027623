package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestKeyNormalizes(t *testing.T) {
	composed := "caf\u00e9"
	decomposed := "cafe\u0301"
	require.NotEqual(t, composed, decomposed)
	assert.Equal(t, Key("zh", composed), Key("zh", decomposed))
	assert.NotEqual(t, Key("zh", composed), Key("fr", composed))
	assert.Len(t, Key("zh", "x"), 64)
}

func TestMemory(t *testing.T) {
	c := NewMemory()
	_, ok := c.Get("zh", "Hello")
	assert.False(t, ok)

	c.Put("zh", "Hello", "你好")
	got, ok := c.Get("zh", "Hello")
	require.True(t, ok)
	assert.Equal(t, "你好", got)

	assert.Equal(t, Stats{Hits: 1, Misses: 1, Size: 1}, c.Stats())
	assert.NoError(t, c.Save())
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "book.json")

	c, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	c.Put("zh", "Hello", "你好")
	c.Put("zh", "World", "世界")
	require.NoError(t, c.Save())

	reopened, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	got, ok := reopened.Get("zh", "World")
	require.True(t, ok)
	assert.Equal(t, "世界", got)
	assert.Equal(t, int64(2), reopened.Stats().Size)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	c, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, c.Stats().Size)
}

func TestPathFor(t *testing.T) {
	p := PathFor("/tmp/cache", "/books/My Book.epub")
	assert.Equal(t, "/tmp/cache", filepath.Dir(p))
	assert.True(t, strings.HasPrefix(filepath.Base(p), "My Book-"))
	assert.NotEqual(t, p, PathFor("/tmp/cache", "/other/My Book.epub"))
}
