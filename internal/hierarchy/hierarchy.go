// Package hierarchy implements the hierarchy iterator (spec §4.7,
// component C7): given a chain definition such as "nets vms images" and a
// parameter map, it walks the nets -> vms -> images tree depth-first and
// yields one scoped parameter view per object.
//
// Grounded on phenix/internal/mm's small-struct-plus-functional-options
// shape and spec §6's "object enumeration at each level" key convention
// ("vms", "images", "nets", suffix-scoped by parent name).
package hierarchy

import (
	"fmt"

	"vtstate/types"
)

// pluralToKind maps a chain-definition token to the Kind of object it
// enumerates (spec §6: "vms, images, nets").
var pluralToKind = map[string]types.Kind{
	"nets":   types.KindNet,
	"vms":    types.KindVM,
	"images": types.KindImage,
}

// Warner receives a message whenever an object is skipped with a warning
// (spec §4.7: "image_readonly... skipped with a warning").
type Warner func(format string, args ...interface{})

// View is one yielded object-type parameter view: the object itself, plus
// its scoped parameter view (params.object_params(obj), spec §4.7).
type View struct {
	Object types.Object
	Params types.Params
}

// Iterate walks chainDef depth-first starting from an empty scope,
// yielding a View per object that is not skipped by skip_types or
// image_readonly (spec §4.7).
func Iterate(params types.Params, chainDef []string, warn Warner) ([]View, error) {
	if warn == nil {
		warn = func(string, ...interface{}) {}
	}

	skip := make(map[string]bool)
	for _, t := range params.Fields("skip_types", nil) {
		skip[t] = true
	}

	var views []View

	var walk func(level int, typePath, namePath []string) error

	walk = func(level int, typePath, namePath []string) error {
		if level >= len(chainDef) {
			return nil
		}

		plural := chainDef[level]

		kind, ok := pluralToKind[plural]
		if !ok {
			return fmt.Errorf("%w: unknown hierarchy type %q", types.ErrInvalid, plural)
		}

		names := params.Fields(plural, namePath)

		for _, name := range names {
			childTypePath := append(append([]string{}, typePath...), plural)
			childNamePath := append(append([]string{}, namePath...), name)

			obj, err := types.NewObject(kind, childTypePath, childNamePath)
			if err != nil {
				return err
			}

			if kind == types.KindImage && params.GetBool("image_readonly", childNamePath, false) {
				warn("skipping read-only image %s", obj.NameString())
			} else if !skip[plural] {
				views = append(views, View{
					Object: obj,
					Params: params.ScopedView(childNamePath),
				})
			}

			if err := walk(level+1, childTypePath, childNamePath); err != nil {
				return err
			}
		}

		return nil
	}

	if err := walk(0, nil, nil); err != nil {
		return nil, err
	}

	return views, nil
}

// DefaultChain returns the chain definition from "states_chain", falling
// back to the canonical "nets vms images" (spec §4.7, §6).
func DefaultChain(params types.Params) []string {
	if fields := params.Fields("states_chain", nil); len(fields) > 0 {
		return fields
	}

	return []string{"nets", "vms", "images"}
}
