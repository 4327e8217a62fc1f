package chain

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"vtstate/types"
)

// fakeMover is a hand-written fake of transfer.Mover recording every
// Download/Upload call it receives, for assertions on transfer ordering.
type fakeMover struct {
	same map[string]bool // keyed by cache path; default false
	list map[string][]string

	downloads, uploads []string
	failCompare        error
	failMove           error
}

func (m *fakeMover) List(_ context.Context, loc types.Location) ([]string, error) {
	return m.list[loc.Path], nil
}

func (m *fakeMover) Compare(_ context.Context, cache, pool types.Location) (bool, error) {
	if m.failCompare != nil {
		return false, m.failCompare
	}

	return m.same[cache.Path], nil
}

func (m *fakeMover) Download(_ context.Context, cache, pool types.Location) error {
	if m.failMove != nil {
		return m.failMove
	}

	m.downloads = append(m.downloads, cache.Path)
	return nil
}

func (m *fakeMover) Upload(_ context.Context, cache, pool types.Location) error {
	if m.failMove != nil {
		return m.failMove
	}

	m.uploads = append(m.uploads, cache.Path)
	return nil
}

func (m *fakeMover) Delete(context.Context, types.Location) error { return nil }

func testProbe() *fakeProbe {
	return &fakeProbe{backing: map[string]string{
		"/cache/images/c.qcow2": "/cache/images/b.qcow2",
		"/cache/images/b.qcow2": "/cache/images/a.qcow2",
		"/cache/images/a.qcow2": "",
	}}
}

func TestCompareChainAllIdentical(t *testing.T) {
	mover := &fakeMover{same: map[string]bool{
		"/cache/a.qcow2": true,
		"/cache/b.qcow2": true,
		"/cache/c.qcow2": true,
	}}

	io := &IO{
		Resolver:  NewResolver(testProbe(), imageDir),
		Mover:     mover,
		CacheRoot: "/cache",
		PoolRoot:  "/pool",
	}

	same, err := CompareChain(context.Background(), io, "c")
	require.NoError(t, err)
	require.True(t, same)
}

func TestCompareChainShortCircuitsOnFirstMismatch(t *testing.T) {
	mover := &fakeMover{same: map[string]bool{
		"/cache/c.qcow2": false,
	}}

	io := &IO{
		Resolver:  NewResolver(testProbe(), imageDir),
		Mover:     mover,
		CacheRoot: "/cache",
		PoolRoot:  "/pool",
	}

	same, err := CompareChain(context.Background(), io, "c")
	require.NoError(t, err)
	require.False(t, same)
}

func TestCompareChainIncludesRAMForVMState(t *testing.T) {
	mover := &fakeMover{same: map[string]bool{
		"/cache/a.qcow2": true,
		"/cache/a.state": false,
	}}

	io := &IO{
		Resolver: NewResolver(&fakeProbe{backing: map[string]string{
			"/cache/images/a.qcow2": "",
		}}, imageDir),
		Mover:     mover,
		CacheRoot: "/cache",
		PoolRoot:  "/pool",
		IsVMState: true,
	}

	same, err := CompareChain(context.Background(), io, "a")
	require.NoError(t, err)
	require.False(t, same)
}

func TestTransferChainDownloadsLeafToRoot(t *testing.T) {
	mover := &fakeMover{}

	io := &IO{
		Resolver:  NewResolver(testProbe(), imageDir),
		Mover:     mover,
		CacheRoot: "/cache",
		PoolRoot:  "/pool",
	}

	err := TransferChain(context.Background(), io, "c", Download)
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join("/cache", "c.qcow2"),
		filepath.Join("/cache", "b.qcow2"),
		filepath.Join("/cache", "a.qcow2"),
	}, mover.downloads)
}

func TestTransferChainVMStateRequiresRAMFile(t *testing.T) {
	mover := &fakeMover{list: map[string][]string{
		"/pool": {"a.qcow2"}, // no a.state present
	}}

	io := &IO{
		Resolver: NewResolver(&fakeProbe{backing: map[string]string{
			"/cache/images/a.qcow2": "",
		}}, imageDir),
		Mover:     mover,
		CacheRoot: "/cache",
		PoolRoot:  "/pool",
		IsVMState: true,
	}

	err := TransferChain(context.Background(), io, "a", Download)
	require.Error(t, err)
	require.ErrorIs(t, err, types.ErrBackend)
}

func TestTransferChainVMStateMovesRAMFileWhenPresent(t *testing.T) {
	mover := &fakeMover{list: map[string][]string{
		"/pool": {"a.qcow2", "a.state"},
	}}

	io := &IO{
		Resolver: NewResolver(&fakeProbe{backing: map[string]string{
			"/cache/images/a.qcow2": "",
		}}, imageDir),
		Mover:     mover,
		CacheRoot: "/cache",
		PoolRoot:  "/pool",
		IsVMState: true,
	}

	err := TransferChain(context.Background(), io, "a", Download)
	require.NoError(t, err)
	require.Contains(t, mover.downloads, filepath.Join("/cache", "a.qcow2"))
	require.Contains(t, mover.downloads, filepath.Join("/cache", "a.state"))
}
