package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParamsGetPrefersMostSpecificScopeSuffix(t *testing.T) {
	p := Params{
		"check_mode":          "rr",
		"check_mode_vm1":      "ff",
		"check_mode_vm1_img1": "af",
	}

	require.Equal(t, "af", p.Get("check_mode", []string{"vm1", "img1"}, ""))
	require.Equal(t, "ff", p.Get("check_mode", []string{"vm1"}, ""))
	require.Equal(t, "rr", p.Get("check_mode", nil, ""))
}

func TestParamsGetFallsBackToMidScopeElement(t *testing.T) {
	p := Params{
		"check_mode_vm1": "ff",
	}

	// Neither "vm1_img1" nor "img1" match, but "vm1" alone (the second,
	// tail-to-head loop in scopeSuffixes) does.
	require.Equal(t, "ff", p.Get("check_mode", []string{"vm1", "img1"}, ""))
}

func TestParamsGetReturnsDefaultWhenAbsent(t *testing.T) {
	p := Params{}

	require.Equal(t, "def", p.Get("check_mode", []string{"vm1"}, "def"))
}

// TestParamsScopedViewPrefersMostSpecificOnBareCollision is the regression
// test for the ScopedView nondeterminism: a bare key and a scoped key for
// the same object must resolve deterministically to the scoped value
// regardless of map iteration order, mirroring Get's precedence.
func TestParamsScopedViewPrefersMostSpecificOnBareCollision(t *testing.T) {
	p := Params{
		"check_mode":     "rr",
		"check_mode_vm1": "ff",
	}

	for i := 0; i < 50; i++ {
		view := p.ScopedView([]string{"vm1"})
		require.Equal(t, "ff", view["check_mode"])
	}
}

func TestParamsScopedViewDeeperScopeStillWinsOverShallower(t *testing.T) {
	p := Params{
		"check_mode":          "rr",
		"check_mode_vm1":      "ff",
		"check_mode_vm1_img1": "af",
	}

	for i := 0; i < 50; i++ {
		view := p.ScopedView([]string{"vm1", "img1"})
		require.Equal(t, "af", view["check_mode"])
	}
}

func TestParamsScopedViewLeavesUnrelatedKeysAsBare(t *testing.T) {
	p := Params{
		"check_mode_vm2": "xx",
	}

	view := p.ScopedView([]string{"vm1"})
	require.Equal(t, "xx", view["check_mode_vm2"])
}

func TestParamsDecodeUsesScopedView(t *testing.T) {
	type target struct {
		Mode string `param:"check_mode"`
	}

	p := Params{
		"check_mode":     "rr",
		"check_mode_vm1": "ff",
	}

	var out target
	require.NoError(t, p.Decode([]string{"vm1"}, &out))
	require.Equal(t, "ff", out.Mode)
}
