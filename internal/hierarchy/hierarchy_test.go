package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vtstate/types"
)

func TestIterateDepthFirst(t *testing.T) {
	params := types.Params{
		"nets":       "net1",
		"vms_net1":   "vm1",
		"images_vm1": "image1",
	}

	views, err := Iterate(params, []string{"nets", "vms", "images"}, nil)
	require.NoError(t, err)
	require.Len(t, views, 3)

	require.Equal(t, "net1", views[0].Object.NameString())
	require.Equal(t, types.KindNet, views[0].Object.Kind)

	require.Equal(t, "net1/vm1", views[1].Object.NameString())
	require.Equal(t, types.KindVM, views[1].Object.Kind)

	require.Equal(t, "net1/vm1/image1", views[2].Object.NameString())
	require.Equal(t, types.KindImage, views[2].Object.Kind)
}

func TestIterateSkipTypes(t *testing.T) {
	params := types.Params{
		"nets":       "net1",
		"vms_net1":   "vm1",
		"skip_types": "nets",
	}

	views, err := Iterate(params, []string{"nets", "vms"}, nil)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Equal(t, "net1/vm1", views[0].Object.NameString())
}

func TestIterateImageReadonlyWarns(t *testing.T) {
	params := types.Params{
		"vms":                       "vm1",
		"images_vm1":                "image1",
		"image_readonly_vm1_image1": "true",
	}

	var warnings []string
	warn := func(format string, args ...interface{}) {
		warnings = append(warnings, format)
	}

	views, err := Iterate(params, []string{"vms", "images"}, warn)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Equal(t, "vm1", views[0].Object.NameString())
	require.Len(t, warnings, 1)
}

func TestIterateUnknownType(t *testing.T) {
	params := types.Params{"bogus": "x"}

	_, err := Iterate(params, []string{"bogus"}, nil)
	require.Error(t, err)
}

func TestDefaultChainFallback(t *testing.T) {
	require.Equal(t, []string{"nets", "vms", "images"}, DefaultChain(types.Params{}))
}

func TestDefaultChainFromParams(t *testing.T) {
	params := types.Params{"states_chain": "vms images"}
	require.Equal(t, []string{"vms", "images"}, DefaultChain(params))
}
