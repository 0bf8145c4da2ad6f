package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
	"github.com/smilemakc/mbflow/pkg/models"
)

func newTestCache(t *testing.T) (*Cache, string) {
	t.Helper()
	dir := t.TempDir()
	c, err := New(dir, nil, logger.Default())
	require.NoError(t, err)
	return c, dir
}

func writeFakeArtifact(t *testing.T, c *Cache, hash string) *models.Artifact {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(c.dataPath(hash)), 0o755))
	require.NoError(t, os.WriteFile(c.dataPath(hash), []byte("fake-parquet-bytes"), 0o644))
	a := &models.Artifact{
		Hash:     hash,
		Path:     c.dataPath(hash),
		Format:   models.FormatParquet,
		Schema:   models.Schema{Columns: []models.Column{{Name: "a", Type: models.ColumnInt64}}},
		RowCount: 3,
	}
	return a
}

func TestCache_LookupMiss_WhenHashUnknown(t *testing.T) {
	c, _ := newTestCache(t)

	_, ok := c.Lookup("deadbeef")

	assert.False(t, ok)
}

func TestCache_PutThenLookup_ShouldReturnSameArtifact(t *testing.T) {
	c, _ := newTestCache(t)
	a := writeFakeArtifact(t, c, "abc123")

	require.NoError(t, c.Put("abc123", a))

	got, ok := c.Lookup("abc123")
	require.True(t, ok)
	assert.Equal(t, a.RowCount, got.RowCount)
	assert.True(t, got.Schema.HasColumn("a"))
}

func TestCache_Put_IsIdempotent(t *testing.T) {
	c, _ := newTestCache(t)
	a := writeFakeArtifact(t, c, "abc123")

	require.NoError(t, c.Put("abc123", a))
	require.NoError(t, c.Put("abc123", a))

	got, ok := c.Lookup("abc123")
	require.True(t, ok)
	assert.Equal(t, "abc123", got.Hash)
}

func TestCache_Rebuild_DiscardsEntryMissingDataFile(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, nil, logger.Default())
	require.NoError(t, err)
	a := writeFakeArtifact(t, c, "dangling")
	require.NoError(t, c.Put("dangling", a))
	require.NoError(t, os.Remove(c.dataPath("dangling")))

	reopened, err := New(dir, nil, logger.Default())
	require.NoError(t, err)

	_, ok := reopened.Lookup("dangling")
	assert.False(t, ok)
}

func TestCache_Rebuild_DiscardsCorruptMetadata(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, nil, logger.Default())
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(c.dataPath("badmeta")), 0o755))
	require.NoError(t, os.WriteFile(c.dataPath("badmeta"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(c.metaPath("badmeta"), []byte("{not json"), 0o644))

	reopened, err := New(dir, nil, logger.Default())
	require.NoError(t, err)

	_, ok := reopened.Lookup("badmeta")
	assert.False(t, ok)
}

func TestCache_EvictLRU_NoRedis_IsNoop(t *testing.T) {
	c, _ := newTestCache(t)
	a := writeFakeArtifact(t, c, "abc123")
	require.NoError(t, c.Put("abc123", a))

	assert.NoError(t, c.EvictLRU(0))

	_, ok := c.Lookup("abc123")
	assert.True(t, ok, "without a Redis-backed LRU index, eviction has no bookkeeping to act on")
}
