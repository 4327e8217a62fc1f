package lock

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vtstate/types"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.qcow2")

	h, err := Acquire(path, time.Second, false)
	require.NoError(t, err)
	require.NoError(t, h.Release())
}

func TestAcquireTimesOutWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.qcow2")

	h, err := Acquire(path, time.Second, false)
	require.NoError(t, err)
	defer h.Release()

	_, err = Acquire(path, 100*time.Millisecond, false)
	require.Error(t, err)
	require.ErrorIs(t, err, types.ErrTimeout)
}

func TestAcquireSucceedsAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.qcow2")

	h, err := Acquire(path, time.Second, false)
	require.NoError(t, err)
	require.NoError(t, h.Release())

	h2, err := Acquire(path, time.Second, false)
	require.NoError(t, err)
	require.NoError(t, h2.Release())
}

func TestAcquireSkipIsNoOp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.qcow2")

	h1, err := Acquire(path, time.Second, true)
	require.NoError(t, err)

	h2, err := Acquire(path, time.Second, true)
	require.NoError(t, err)

	require.NoError(t, h1.Release())
	require.NoError(t, h2.Release())
}

func TestReleaseOnNilHandleIsSafe(t *testing.T) {
	var h *Handle
	require.NoError(t, h.Release())
}

func TestAcquireCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "pool.qcow2")

	h, err := Acquire(path, time.Second, false)
	require.NoError(t, err)
	require.NoError(t, h.Release())
}
