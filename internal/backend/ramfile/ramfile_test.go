package ramfile

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"vtstate/internal/backend"
	"vtstate/internal/mm/mmtest"
	"vtstate/types"
)

// fakeImageBackend is a hand-written fake of backend.Backend that tracks,
// per image object, the set of captured state names in memory.
type fakeImageBackend struct {
	states map[string]map[string]bool
}

func newFakeImageBackend() *fakeImageBackend {
	return &fakeImageBackend{states: make(map[string]map[string]bool)}
}

func (f *fakeImageBackend) Show(_ context.Context, _ types.Params, obj backend.Object) ([]string, error) {
	var out []string
	for s := range f.states[obj.Name()] {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeImageBackend) Check(_ context.Context, _ types.Params, obj backend.Object, state string) (bool, error) {
	return f.states[obj.Name()][state], nil
}

func (f *fakeImageBackend) Get(_ context.Context, _ types.Params, obj backend.Object, state string) error {
	if !f.states[obj.Name()][state] {
		return types.ErrMissing
	}
	return nil
}

func (f *fakeImageBackend) Set(_ context.Context, _ types.Params, obj backend.Object, state string) error {
	if f.states[obj.Name()] == nil {
		f.states[obj.Name()] = make(map[string]bool)
	}
	f.states[obj.Name()][state] = true
	return nil
}

func (f *fakeImageBackend) Unset(_ context.Context, _ types.Params, obj backend.Object, state string) error {
	delete(f.states[obj.Name()], state)
	return nil
}

func (f *fakeImageBackend) CheckRoot(context.Context, types.Params, backend.Object) (bool, error) {
	return true, nil
}

func (f *fakeImageBackend) GetRoot(context.Context, types.Params, backend.Object) error { return nil }

func (f *fakeImageBackend) SetRoot(context.Context, types.Params, backend.Object) error { return nil }

func (f *fakeImageBackend) UnsetRoot(context.Context, types.Params, backend.Object) error {
	return nil
}

func (f *fakeImageBackend) RequiresRunningObject() bool { return false }

func vmAndImage(t *testing.T) (types.Object, types.Object) {
	t.Helper()

	vm, err := types.NewObject(types.KindVM, []string{"vms"}, []string{"vm1"})
	require.NoError(t, err)

	img, err := types.NewObject(types.KindImage, []string{"vms", "images"}, []string{"vm1", "image1"})
	require.NoError(t, err)

	return vm, img
}

func newTestBackend(t *testing.T) (*Backend, *mmtest.Env, *fakeImageBackend, string) {
	t.Helper()

	dir := t.TempDir()
	env := mmtest.NewEnv()
	env.Add("vm1").Create(context.Background())

	imgBackend := newFakeImageBackend()
	vm, img := vmAndImage(t)

	b := &Backend{
		Env:   env,
		Image: imgBackend,
		Images: func(obj backend.Object) []backend.Object {
			return []backend.Object{img}
		},
	}

	_ = vm

	return b, env, imgBackend, dir
}

func TestSetGetUnsetRoundTrip(t *testing.T) {
	b, _, imgBackend, dir := newTestBackend(t)
	vm, img := vmAndImage(t)

	params := types.Params{"ramfile_dir_vm1": dir}

	require.NoError(t, b.Set(context.Background(), params, vm, "clean"))
	require.True(t, imgBackend.states[img.Name()]["clean"])

	names, err := b.Show(context.Background(), params, vm)
	require.NoError(t, err)
	require.Equal(t, []string{"clean"}, names)

	ok, err := b.Check(context.Background(), params, vm, "clean")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.Get(context.Background(), params, vm, "clean"))
	require.NoError(t, b.Unset(context.Background(), params, vm, "clean"))

	_, err = os.Stat(b.statePath(params, vm, "clean"))
	require.True(t, os.IsNotExist(err))
}

func TestShowOnlyReportsCompleteStates(t *testing.T) {
	b, _, imgBackend, dir := newTestBackend(t)
	vm, img := vmAndImage(t)

	params := types.Params{"ramfile_dir_vm1": dir}

	require.NoError(t, b.Set(context.Background(), params, vm, "clean"))

	delete(imgBackend.states[img.Name()], "clean")

	names, err := b.Show(context.Background(), params, vm)
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestCheckRootDelegatesToRuntime(t *testing.T) {
	b, env, _, _ := newTestBackend(t)
	vm, _ := vmAndImage(t)

	ok, err := b.CheckRoot(context.Background(), types.Params{}, vm)
	require.NoError(t, err)
	require.True(t, ok)

	env.Add("vm1").Destroy(context.Background(), true)

	ok, err = b.CheckRoot(context.Background(), types.Params{}, vm)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRequiresRunningObject(t *testing.T) {
	require.True(t, (&Backend{}).RequiresRunningObject())
}
