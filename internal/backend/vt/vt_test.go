package vt

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"vtstate/internal/mm/mmtest"
	"vtstate/types"
)

func vmObject(t *testing.T, name string) types.Object {
	t.Helper()

	obj, err := types.NewObject(types.KindVM, []string{"vms"}, []string{name})
	require.NoError(t, err)

	return obj
}

func TestSetGetUnsetRoundTrip(t *testing.T) {
	env := mmtest.NewEnv()
	env.Add("vm1").Create(context.Background())

	b := &Backend{Env: env}
	obj := vmObject(t, "vm1")
	params := types.Params{}

	require.NoError(t, b.Set(context.Background(), params, obj, "clean"))

	ok, err := b.Check(context.Background(), params, obj, "clean")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.Get(context.Background(), params, obj, "clean"))
	require.NoError(t, b.Unset(context.Background(), params, obj, "clean"))

	err = b.Get(context.Background(), params, obj, "clean")
	require.Error(t, err)

	// Testable Property 2: after Unset, Check must go back to false.
	ok, err = b.Check(context.Background(), params, obj, "clean")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCheckReportsUnknownStateAsFalse(t *testing.T) {
	env := mmtest.NewEnv()
	env.Add("vm1").Create(context.Background())

	b := &Backend{Env: env}
	obj := vmObject(t, "vm1")
	params := types.Params{}

	require.NoError(t, b.Set(context.Background(), params, obj, "clean"))

	ok, err := b.Check(context.Background(), params, obj, "nonexistent")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = b.Check(context.Background(), params, obj, "clean")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestShowListsKnownSnapshots(t *testing.T) {
	env := mmtest.NewEnv()
	env.Add("vm1").Create(context.Background())

	b := &Backend{Env: env}
	obj := vmObject(t, "vm1")
	params := types.Params{}

	require.NoError(t, b.Set(context.Background(), params, obj, "clean"))
	require.NoError(t, b.Set(context.Background(), params, obj, "dirty"))

	names, err := b.Show(context.Background(), params, obj)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"clean", "dirty"}, names)
}

func TestCheckRootReflectsRuntimeLifecycle(t *testing.T) {
	env := mmtest.NewEnv()
	rt := env.Add("vm1")

	b := &Backend{Env: env}
	obj := vmObject(t, "vm1")
	params := types.Params{}

	ok, err := b.CheckRoot(context.Background(), params, obj)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, b.SetRoot(context.Background(), params, obj))

	ok, err = b.CheckRoot(context.Background(), params, obj)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.UnsetRoot(context.Background(), params, obj))

	ok, err = b.CheckRoot(context.Background(), params, obj)
	require.NoError(t, err)
	require.False(t, ok)

	_ = rt
}

func TestGetRootRequiresRunningVM(t *testing.T) {
	env := mmtest.NewEnv()
	env.Add("vm1")

	b := &Backend{Env: env}
	obj := vmObject(t, "vm1")

	err := b.GetRoot(context.Background(), types.Params{}, obj)
	require.ErrorIs(t, err, types.ErrPrecondition)
}

func TestRuntimeErrorsPropagate(t *testing.T) {
	env := mmtest.NewEnv()
	env.Add("vm1").Fail = errors.New("monitor unreachable")

	b := &Backend{Env: env}
	obj := vmObject(t, "vm1")

	err := b.Set(context.Background(), types.Params{}, obj, "state1")
	require.ErrorIs(t, err, types.ErrBackend)
}

func TestNoEnvConfigured(t *testing.T) {
	b := &Backend{}
	obj := vmObject(t, "vm1")

	_, err := b.CheckRoot(context.Background(), types.Params{}, obj)
	require.ErrorIs(t, err, types.ErrBackend)
}

func TestRequiresRunningObject(t *testing.T) {
	require.True(t, (&Backend{}).RequiresRunningObject())
}
