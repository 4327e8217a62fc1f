package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"vtstate/types"
)

// fakeProbe is a hand-written fake of ImageProbe mapping an image path to
// its backing-file path, for deterministic chain-walk tests (spec §9
// DESIGN NOTES' instruction to keep chain walking behind an interface).
type fakeProbe struct {
	backing map[string]string
	err     error
}

func (f *fakeProbe) BackingFile(_ context.Context, path string) (string, error) {
	if f.err != nil {
		return "", f.err
	}

	return f.backing[path], nil
}

func imageDir() string { return "/cache/images" }

func TestChainWalksToRoot(t *testing.T) {
	probe := &fakeProbe{backing: map[string]string{
		"/cache/images/c.qcow2": "/cache/images/b.qcow2",
		"/cache/images/b.qcow2": "/cache/images/a.qcow2",
		"/cache/images/a.qcow2": "",
	}}

	r := NewResolver(probe, imageDir)

	states, err := r.Chain(context.Background(), "c")
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b", "a"}, states)
}

func TestChainSingleState(t *testing.T) {
	probe := &fakeProbe{backing: map[string]string{
		"/cache/images/solo.qcow2": "",
	}}

	r := NewResolver(probe, imageDir)

	states, err := r.Chain(context.Background(), "solo")
	require.NoError(t, err)
	require.Equal(t, []string{"solo"}, states)
}

func TestChainDetectsCycle(t *testing.T) {
	probe := &fakeProbe{backing: map[string]string{
		"/cache/images/a.qcow2": "/cache/images/b.qcow2",
		"/cache/images/b.qcow2": "/cache/images/a.qcow2",
	}}

	r := NewResolver(probe, imageDir)

	_, err := r.Chain(context.Background(), "a")
	require.Error(t, err)
	require.ErrorIs(t, err, types.ErrInvalid)
}

func TestChainExceedsMaxDepth(t *testing.T) {
	// No cycle, but the backing pointer never terminates and never
	// repeats a name, so only the depth cap stops the walk.
	probe := &fakeProbe{backing: make(map[string]string)}

	for i := 0; i < maxDepth+2; i++ {
		cur := stateName(i)
		next := stateName(i + 1)
		probe.backing["/cache/images/"+cur+".qcow2"] = "/cache/images/" + next + ".qcow2"
	}

	r := NewResolver(probe, imageDir)

	_, err := r.Chain(context.Background(), stateName(0))
	require.Error(t, err)
	require.ErrorIs(t, err, types.ErrInvalid)
}

func stateName(i int) string {
	return "s" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}

func TestChainPropagatesProbeError(t *testing.T) {
	probe := &fakeProbe{err: errors.New("boom")}

	r := NewResolver(probe, imageDir)

	_, err := r.Chain(context.Background(), "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}
