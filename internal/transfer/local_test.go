package transfer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"vtstate/types"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLocalCompareIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	cache := filepath.Join(dir, "cache.qcow2")
	pool := filepath.Join(dir, "pool.qcow2")
	writeFile(t, cache, "same bytes")
	writeFile(t, pool, "same bytes")

	m := newLocal(1, false)

	same, err := m.Compare(context.Background(), types.Location{Path: cache}, types.Location{Path: pool})
	require.NoError(t, err)
	require.True(t, same)
}

func TestLocalCompareDifferentContent(t *testing.T) {
	dir := t.TempDir()
	cache := filepath.Join(dir, "cache.qcow2")
	pool := filepath.Join(dir, "pool.qcow2")
	writeFile(t, cache, "aaa")
	writeFile(t, pool, "bbb")

	m := newLocal(1, false)

	same, err := m.Compare(context.Background(), types.Location{Path: cache}, types.Location{Path: pool})
	require.NoError(t, err)
	require.False(t, same)
}

func TestLocalCompareBothMissing(t *testing.T) {
	dir := t.TempDir()

	m := newLocal(1, false)

	same, err := m.Compare(context.Background(),
		types.Location{Path: filepath.Join(dir, "a")},
		types.Location{Path: filepath.Join(dir, "b")})
	require.NoError(t, err)
	require.True(t, same)
}

func TestLocalDownloadCopiesPoolToCache(t *testing.T) {
	dir := t.TempDir()
	cache := filepath.Join(dir, "cache.qcow2")
	pool := filepath.Join(dir, "pool.qcow2")
	writeFile(t, pool, "pool contents")

	m := newLocal(1, false)

	err := m.Download(context.Background(), types.Location{Path: cache}, types.Location{Path: pool})
	require.NoError(t, err)

	got, err := os.ReadFile(cache)
	require.NoError(t, err)
	require.Equal(t, "pool contents", string(got))
}

func TestLocalUploadCopiesCacheToPool(t *testing.T) {
	dir := t.TempDir()
	cache := filepath.Join(dir, "cache.qcow2")
	pool := filepath.Join(dir, "nested", "pool.qcow2")
	writeFile(t, cache, "cache contents")

	m := newLocal(1, false)

	err := m.Upload(context.Background(), types.Location{Path: cache}, types.Location{Path: pool})
	require.NoError(t, err)

	got, err := os.ReadFile(pool)
	require.NoError(t, err)
	require.Equal(t, "cache contents", string(got))
}

func TestLocalUploadSkipsWhenIdentical(t *testing.T) {
	dir := t.TempDir()
	cache := filepath.Join(dir, "cache.qcow2")
	pool := filepath.Join(dir, "pool.qcow2")
	writeFile(t, cache, "same")
	writeFile(t, pool, "same")

	poolInfo, err := os.Stat(pool)
	require.NoError(t, err)

	m := newLocal(1, false)
	require.NoError(t, m.Upload(context.Background(), types.Location{Path: cache}, types.Location{Path: pool}))

	after, err := os.Stat(pool)
	require.NoError(t, err)
	require.Equal(t, poolInfo.ModTime(), after.ModTime())
}

func TestLocalDeleteRemovesPoolFile(t *testing.T) {
	dir := t.TempDir()
	pool := filepath.Join(dir, "pool.qcow2")
	writeFile(t, pool, "gone soon")

	m := newLocal(1, false)

	require.NoError(t, m.Delete(context.Background(), types.Location{Path: pool}))
	_, err := os.Stat(pool)
	require.True(t, os.IsNotExist(err))
}

func TestLocalDeleteMissingFileIsNotError(t *testing.T) {
	dir := t.TempDir()

	m := newLocal(1, false)

	err := m.Delete(context.Background(), types.Location{Path: filepath.Join(dir, "missing.qcow2")})
	require.NoError(t, err)
}

func TestLocalListReturnsEntryNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.qcow2"), "x")
	writeFile(t, filepath.Join(dir, "b.qcow2"), "y")

	m := newLocal(1, false)

	names, err := m.List(context.Background(), types.Location{Path: dir})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.qcow2", "b.qcow2"}, names)
}

func TestLocalListMissingDirReturnsEmpty(t *testing.T) {
	dir := t.TempDir()

	m := newLocal(1, false)

	names, err := m.List(context.Background(), types.Location{Path: filepath.Join(dir, "nope")})
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestForLocationPicksSymlinkMoverWhenEitherSideIsSymlink(t *testing.T) {
	opts := NewOptions()

	m := ForLocation(types.Location{Symlink: true}, types.Location{}, opts)
	_, ok := m.(*symlinkMover)
	require.True(t, ok)
}

func TestForLocationPicksLocalMoverByDefault(t *testing.T) {
	opts := NewOptions()

	m := ForLocation(types.Location{}, types.Location{}, opts)
	_, ok := m.(*local)
	require.True(t, ok)
}

func TestForLocationWrapsWithMemoizeWhenRequested(t *testing.T) {
	opts := NewOptions(MemoizeCompare(true))

	m := ForLocation(types.Location{}, types.Location{}, opts)
	_, ok := m.(*memoized)
	require.True(t, ok)
}
