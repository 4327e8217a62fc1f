package sourced

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"vtstate/internal/backend"
	"vtstate/internal/chain"
	"vtstate/types"
)

// fakeLocal is a hand-written fake of backend.Backend recording every call
// it receives, for assertions on the Sourced backend's local-invocation
// order.
type fakeLocal struct {
	mu sync.Mutex

	showNames []string
	showErr   error

	checkResult bool
	checkErr    error

	getErr, setErr, unsetErr error
	gets, sets, unsets       []string

	rootExists bool
	requiresRO bool
}

func (f *fakeLocal) Show(context.Context, types.Params, backend.Object) ([]string, error) {
	return f.showNames, f.showErr
}

func (f *fakeLocal) Check(context.Context, types.Params, backend.Object, string) (bool, error) {
	return f.checkResult, f.checkErr
}

func (f *fakeLocal) Get(_ context.Context, _ types.Params, _ backend.Object, state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, state)
	return f.getErr
}

func (f *fakeLocal) Set(_ context.Context, _ types.Params, _ backend.Object, state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, state)
	return f.setErr
}

func (f *fakeLocal) Unset(_ context.Context, _ types.Params, _ backend.Object, state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsets = append(f.unsets, state)
	return f.unsetErr
}

func (f *fakeLocal) CheckRoot(context.Context, types.Params, backend.Object) (bool, error) {
	return f.rootExists, nil
}
func (f *fakeLocal) GetRoot(context.Context, types.Params, backend.Object) error { return nil }
func (f *fakeLocal) SetRoot(context.Context, types.Params, backend.Object) error { return nil }
func (f *fakeLocal) UnsetRoot(context.Context, types.Params, backend.Object) error {
	return nil
}
func (f *fakeLocal) RequiresRunningObject() bool { return f.requiresRO }

// fakeOps is a hand-written fake of RemoteOps keyed by pool location path.
type fakeOps struct {
	mu sync.Mutex

	listByPath   map[string][]string
	existsByPath map[string]bool
	inSyncByPath map[string]bool

	transfers []string // "<path> <dir>"
}

func newFakeOps() *fakeOps {
	return &fakeOps{
		listByPath:   make(map[string][]string),
		existsByPath: make(map[string]bool),
		inSyncByPath: make(map[string]bool),
	}
}

func (f *fakeOps) List(_ context.Context, loc types.Location) ([]string, error) {
	return f.listByPath[loc.Path], nil
}

func (f *fakeOps) Exists(_ context.Context, pool types.Location, _ string) (bool, error) {
	return f.existsByPath[pool.Path], nil
}

func (f *fakeOps) InSync(_ context.Context, _, pool types.Location, _ string) (bool, error) {
	return f.inSyncByPath[pool.Path], nil
}

func (f *fakeOps) Transfer(_ context.Context, _, pool types.Location, state string, dir chain.Direction) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	verb := "upload"
	if dir == chain.Download {
		verb = "download"
	}

	f.transfers = append(f.transfers, pool.Path+" "+state+" "+verb)

	return nil
}

type testObject struct{ name string }

func (o testObject) Name() string { return o.name }

func testIdentity() types.Identity {
	return types.Identity{Gateway: "gw1", Host: "host1", SwarmPath: "/swarm", SharedPool: "/shared"}
}

func testLocations() func(obj backend.Object) types.Location {
	return func(obj backend.Object) types.Location {
		return types.Location{Path: "cache/" + obj.Name()}
	}
}

func poolLocationFn() func(obj backend.Object, src types.Location) types.Location {
	return func(obj backend.Object, src types.Location) types.Location {
		src.Path = src.Path + "/" + obj.Name()
		return src
	}
}

func TestSourcesFiltersAndSortsByScope(t *testing.T) {
	obj := testObject{name: "vm1"}

	params := types.Params{
		"show_location_vm1": "gw1/host1:/swarm gw1/host1:/other gw1/host2:/shared gw2/host3:/cluster",
		"pool_scope_vm1":     "swarm shared",
	}

	b := &Backend{Identity: testIdentity()}

	pools, own := b.sources(params, []string{obj.Name()}, "show")
	require.True(t, own)
	require.Len(t, pools, 2)
	require.Equal(t, "/other", pools[0].Path)
	require.Equal(t, "/shared", pools[1].Path)
}

func TestShowIsUnionLocalIntersectionPools(t *testing.T) {
	obj := testObject{name: "vm1"}

	local := &fakeLocal{showNames: []string{"a", "b"}}
	ops := newFakeOps()
	ops.listByPath["/p1/vm1"] = []string{"a"}
	ops.listByPath["/p2/vm1"] = []string{"a", "c"}

	params := types.Params{
		"show_location_vm1": "gw1/host1:/swarm gw1/host2:/p1 gw2/host3:/p2",
		"pool_scope_vm1":     "shared cluster",
	}
	// /p1 is same gateway, different host, no shared pool match => cluster scope
	// under this identity (no SharedPool configured), so permit "cluster" too.
	idNoShared := types.Identity{Gateway: "gw1", Host: "host1", SwarmPath: "/swarm"}

	b := &Backend{Local: local, Identity: idNoShared, Ops: ops, PoolLocation: poolLocationFn()}

	names, err := b.Show(context.Background(), params, obj)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, names)
}

func TestCheckDisagreementIsInconsistent(t *testing.T) {
	obj := testObject{name: "vm1"}

	local := &fakeLocal{checkResult: false}
	ops := newFakeOps()
	ops.existsByPath["/p1/vm1"] = true
	ops.existsByPath["/p2/vm1"] = false

	params := types.Params{
		"check_location_vm1": "gw1/host1:/p1 gw1/host1:/p2",
		"pool_scope_vm1":     "swarm",
	}

	b := &Backend{Local: local, Identity: testIdentity(), Ops: ops, PoolLocation: poolLocationFn()}

	_, err := b.Check(context.Background(), params, obj, "clean")
	require.ErrorIs(t, err, types.ErrInconsistent)
}

func TestCheckAgreesTrue(t *testing.T) {
	obj := testObject{name: "vm1"}

	local := &fakeLocal{checkResult: false}
	ops := newFakeOps()
	ops.existsByPath["/p1/vm1"] = true

	params := types.Params{
		"check_location_vm1": "gw1/host1:/p1",
		"pool_scope_vm1":     "swarm",
	}

	b := &Backend{Local: local, Identity: testIdentity(), Ops: ops, PoolLocation: poolLocationFn()}

	ok, err := b.Check(context.Background(), params, obj, "clean")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestGetDownloadsWhenOutOfSync(t *testing.T) {
	obj := testObject{name: "vm1"}

	local := &fakeLocal{}
	ops := newFakeOps()
	ops.existsByPath["/p1/vm1"] = true
	ops.inSyncByPath["/p1/vm1"] = false

	params := types.Params{
		"get_location_vm1": "gw1/host1:/swarm gw1/host1:/p1",
		"pool_scope_vm1":   "swarm",
	}

	b := &Backend{
		Local:         local,
		Identity:      testIdentity(),
		Ops:           ops,
		CacheLocation: testLocations(),
		PoolLocation:  poolLocationFn(),
	}

	require.NoError(t, b.Get(context.Background(), params, obj, "clean"))
	require.Equal(t, []string{"/p1/vm1 clean download"}, ops.transfers)
	require.Equal(t, []string{"clean"}, local.gets)
}

func TestSetFansOutToAllPermittedPools(t *testing.T) {
	obj := testObject{name: "vm1"}

	local := &fakeLocal{}
	ops := newFakeOps()

	params := types.Params{
		"set_location_vm1": "gw1/host1:/swarm gw1/host1:/p1 gw1/host2:/p2",
		"pool_scope_vm1":   "swarm cluster",
	}
	idNoShared := types.Identity{Gateway: "gw1", Host: "host1", SwarmPath: "/swarm"}

	b := &Backend{
		Local:         local,
		Identity:      idNoShared,
		Ops:           ops,
		CacheLocation: testLocations(),
		PoolLocation:  poolLocationFn(),
	}

	require.NoError(t, b.Set(context.Background(), params, obj, "clean"))
	require.Equal(t, []string{"clean"}, local.sets)
	require.Len(t, ops.transfers, 2)
}

func TestSetRootRequiresOwnScope(t *testing.T) {
	obj := testObject{name: "vm1"}

	local := &fakeLocal{}
	params := types.Params{
		"set_location_vm1": "gw2/host3:/p1",
		"pool_scope_vm1":   "cluster",
	}

	b := &Backend{Local: local, Identity: testIdentity(), PoolLocation: poolLocationFn()}

	err := b.SetRoot(context.Background(), params, obj)
	require.ErrorIs(t, err, types.ErrPrecondition)
}
