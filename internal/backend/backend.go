// Package backend declares the capability set every storage backend
// implements (spec §4.2, component C2) and a name-keyed registry of
// concrete implementations (spec §9 DESIGN NOTES: "Implement backends as
// value types implementing the C2 capability set; register them in a
// static map keyed by backend name"), grounded on
// phenix/internal/mm/mm.go's small-interface-plus-one-implementation
// shape.
package backend

import (
	"context"
	"fmt"
	"sort"

	"vtstate/types"
)

// Backend is the capability set every concrete snapshot backend
// implements (spec §4.2).
type Backend interface {
	// Show lists the state names currently available for obj.
	Show(ctx context.Context, params types.Params, obj Object) ([]string, error)

	// Check reports whether the named state exists. Absence is reported
	// as (false, nil), never an error.
	Check(ctx context.Context, params types.Params, obj Object, state string) (bool, error)

	// Get materialises the named state's contents onto obj.
	Get(ctx context.Context, params types.Params, obj Object, state string) error

	// Set captures obj's current contents as the named state.
	Set(ctx context.Context, params types.Params, obj Object, state string) error

	// Unset removes the named state. Returns ErrInvalid if state is the
	// backend's own implementation pointer (spec §4.2, §4.3 LVM).
	Unset(ctx context.Context, params types.Params, obj Object, state string) error

	// CheckRoot/GetRoot/SetRoot/UnsetRoot manage the object's own
	// existence lifecycle (image file present, VG provisioned, VM image
	// present).
	CheckRoot(ctx context.Context, params types.Params, obj Object) (bool, error)
	GetRoot(ctx context.Context, params types.Params, obj Object) error
	SetRoot(ctx context.Context, params types.Params, obj Object) error
	UnsetRoot(ctx context.Context, params types.Params, obj Object) error

	// RequiresRunningObject reports whether obj must be online (true) or
	// offline (false) for Get/Set/Unset to succeed (spec §4.2).
	RequiresRunningObject() bool
}

// Object is the opaque runtime handle a backend acts on: the VM runtime
// object for vm/image backends that need it, or nil for image-only
// backends that never touch the VM runtime (spec §4.2 "obj is an opaque
// runtime handle").
type Object interface {
	// Name is the stateful object's own name, used to build backend
	// storage paths (e.g. the per-image directory for qcow2-external
	// states).
	Name() string
}

// Factory builds a Backend instance given its wiring parameters. Each
// concrete backend package registers its Factory in init() via Register.
type Factory func(params types.Params) (Backend, error)

var registry = make(map[string]Factory)

// Register adds a named backend Factory to the registry. Intended to be
// called from each concrete backend package's init().
func Register(name string, f Factory) {
	registry[name] = f
}

// New looks up name in the registry and builds a Backend from it.
func New(name string, params types.Params) (Backend, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown backend %q", types.ErrInvalid, name)
	}

	return f(params)
}

// Names returns the currently registered backend names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}
