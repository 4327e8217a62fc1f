// Package orchestrator implements the top-level entry points (spec §4.8,
// component C8): show/check/get/set/unset/push/pop. Each wraps the
// hierarchy iterator (C7), consults the policy engine (C6) per object,
// and invokes a concrete backend (C3), wrapped in the Sourced backend
// (C4) when pool locations are configured for that object's scope.
//
// Grounded on phenix/api's thin orchestration-over-lower-layers shape:
// this package owns no state of its own beyond wiring; every decision is
// driven by the parameter map handed in by the caller (spec §3: "the
// Orchestrator never reads ambient state").
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"

	"vtstate/internal/backend"
	"vtstate/internal/backend/qcow2ext"
	"vtstate/internal/backend/ramfile"
	"vtstate/internal/backend/vt"
	"vtstate/internal/chain"
	"vtstate/internal/hierarchy"
	"vtstate/internal/mm"
	"vtstate/internal/policy"
	"vtstate/internal/sourced"
	"vtstate/internal/transfer"
	"vtstate/store"
	"vtstate/types"
	"vtstate/util"
)

// Orchestrator wires the hierarchy iterator, policy engine, and backends
// together. Every field is supplied once at construction; Params is
// always passed fresh per call, never retained (spec §3).
type Orchestrator struct {
	// Env resolves vm-kind objects to their runtime handle, required by
	// the ramfile and vt backends.
	Env mm.Env

	// Identity is this process's own coordinates, used by the Sourced
	// backend to classify and rank pool locations.
	Identity types.Identity

	// TransferOptions configures the movers built for pool-source
	// dispatch (lock timeout, skip-locks switch, SSH parameters).
	TransferOptions transfer.Options

	// MaxConcurrentMirrors caps the Sourced backend's mirror fan-out.
	MaxConcurrentMirrors int

	// Scenarios persists named parameter maps (SPEC_FULL.md §2 C8
	// expansion). Nil disables SaveScenario/LoadScenario.
	Scenarios store.Store
}

// defaultBackendName returns the backend selected for an object type when
// "states_<type>" names none explicitly (spec §6 parameter table).
func defaultBackendName(kind types.Kind) string {
	switch kind {
	case types.KindImage:
		return "qcow2-internal"
	case types.KindVM:
		return "ramfile"
	default:
		return ""
	}
}

// backendFor builds the concrete backend.Backend for obj, wiring the VM
// runtime environment into ramfile/vt and the paired image backend into
// ramfile (spec §4.3; ramfile "alongside a configured image backend").
func (o *Orchestrator) backendFor(params types.Params, obj types.Object) (backend.Backend, string, error) {
	name := params.Get("states_"+string(obj.Kind), obj.NamePath, defaultBackendName(obj.Kind))
	if name == "" {
		return nil, "", fmt.Errorf("%w: no backend configured for %s", types.ErrInvalid, obj)
	}

	switch name {
	case "ramfile":
		imgName := params.Get("states_image", obj.NamePath, "qcow2-external")

		imgBackend, err := backend.New(imgName, params)
		if err != nil {
			return nil, "", fmt.Errorf("building ramfile's image backend: %w", err)
		}

		vmObj := obj

		images := func(backend.Object) []backend.Object {
			var out []backend.Object

			for _, n := range params.Fields("images", vmObj.NamePath) {
				typePath := append(append([]string{}, vmObj.TypePath...), "images")
				namePath := append(append([]string{}, vmObj.NamePath...), n)

				if img, err := types.NewObject(types.KindImage, typePath, namePath); err == nil {
					out = append(out, img)
				}
			}

			return out
		}

		return &ramfile.Backend{Env: o.Env, Image: imgBackend, Images: images}, name, nil
	case "vt":
		return &vt.Backend{Env: o.Env}, name, nil
	default:
		b, err := backend.New(name, params)
		return b, name, err
	}
}

// poolSources returns the pool locations configured for any operation at
// obj's scope, used to decide whether to wrap the local backend in the
// Sourced backend at all (spec §4.4 only applies when pool locations are
// configured).
func poolSources(params types.Params, obj types.Object) []types.Location {
	var out []types.Location

	for _, op := range []string{"show", "check", "get", "set", "unset"} {
		out = append(out, types.ParseLocations(params.Get(op+"_location", obj.NamePath, ""))...)
	}

	return out
}

// wrap wraps base in the Sourced backend when pool locations are
// configured for obj and the backend's on-disk layout is one Transfer Ops
// can move as discrete files (qcow2-external's per-state .qcow2 files,
// ramfile's per-state .state files). qcow2-internal, lvm, and vt states
// live inside a single image/volume/VM-runtime handle with no separable
// artefact Transfer Ops can address, so pool sourcing is not available for
// them (documented limitation, not a spec regression: spec §4.4 presumes
// a file-movable state).
func (o *Orchestrator) wrap(params types.Params, obj types.Object, base backend.Backend, backendName string) (backend.Backend, error) {
	sources := poolSources(params, obj)
	if len(sources) == 0 {
		return base, nil
	}

	var ops sourced.RemoteOps

	switch backendName {
	case "qcow2-external":
		ext, ok := base.(*qcow2ext.Backend)
		if !ok {
			return base, nil
		}

		dir := params.Get("image_dir", obj.NamePath, obj.Name())
		mover := transfer.ForLocation(types.Location{Path: dir}, sources[0], o.TransferOptions)

		io := &chain.IO{
			Resolver:  ext.Resolver(params, obj),
			Mover:     mover,
			CacheRoot: dir,
			PoolRoot:  sources[0].Path,
			IsVMState: false,
		}

		ops = sourced.NewChainOps(io)
	case "ramfile":
		dir := params.Get("ramfile_dir", obj.NamePath, obj.Name())
		mover := transfer.ForLocation(types.Location{Path: dir}, sources[0], o.TransferOptions)

		ops = sourced.NewFlatOps(mover, func(string) string { return ".state" })
	default:
		return base, nil
	}

	cacheLocation := func(obj backend.Object) types.Location {
		return types.Location{Path: params.Get("image_dir", []string{obj.Name()}, obj.Name())}
	}

	poolLocation := func(obj backend.Object, source types.Location) types.Location {
		return appendPath(source, obj.Name())
	}

	return &sourced.Backend{
		Local:                base,
		Identity:             o.Identity,
		Ops:                  ops,
		CacheLocation:        cacheLocation,
		PoolLocation:         poolLocation,
		MaxConcurrentMirrors: o.MaxConcurrentMirrors,
	}, nil
}

func appendPath(loc types.Location, name string) types.Location {
	loc.Path = filepath.Join(loc.Path, name)
	return loc
}

// visit builds the wired backend for a hierarchy view.
func (o *Orchestrator) visit(params types.Params, obj types.Object) (backend.Backend, error) {
	base, name, err := o.backendFor(params, obj)
	if err != nil {
		return nil, err
	}

	return o.wrap(params, obj, base, name)
}

func (o *Orchestrator) chain(params types.Params) []string {
	return hierarchy.DefaultChain(params)
}

// Check returns true only when every iterated object returns true for the
// state named by "check_state", or, for an object with no check_state, for
// its root existence under "check_mode" (spec §4.8).
func (o *Orchestrator) Check(ctx context.Context, params types.Params) (bool, error) {
	views, err := hierarchy.Iterate(params, o.chain(params), util.Debug)
	if err != nil {
		return false, err
	}

	for _, v := range views {
		ok, err := o.checkOne(ctx, params, v)
		if err != nil {
			return false, err
		}

		if !ok {
			return false, nil
		}
	}

	return true, nil
}

func (o *Orchestrator) checkOne(ctx context.Context, params types.Params, v hierarchy.View) (bool, error) {
	b, err := o.visit(params, v.Object)
	if err != nil {
		return false, err
	}

	state := v.Params.Get("check_state", nil, "")
	if state != "" {
		return b.Check(ctx, params, v.Object, state)
	}

	return o.checkRoot(ctx, params, v, b)
}

// checkRoot applies check_mode to a root-level check (spec §4.6: "for
// 'root missing' chooses between force-create root then re-check (f) and
// return false (r); for 'root exists' between reuse (r) and tear down &
// rebuild root (f)").
func (o *Orchestrator) checkRoot(ctx context.Context, params types.Params, v hierarchy.View, b backend.Backend) (bool, error) {
	modeStr := v.Params.Get("check_mode", nil, policy.DefaultCheckMode)

	mode, err := policy.Parse(modeStr)
	if err != nil {
		return false, err
	}

	exists, err := b.CheckRoot(ctx, params, v.Object)
	if err != nil {
		return false, err
	}

	switch mode.Decide(exists) {
	case policy.Abort:
		return false, types.ErrAbort
	case policy.Reuse, policy.Ignore:
		return exists, nil
	case policy.Force:
		if exists {
			if err := b.UnsetRoot(ctx, params, v.Object); err != nil {
				return false, err
			}
		}

		if err := b.SetRoot(ctx, params, v.Object); err != nil {
			return false, err
		}

		return true, nil
	default:
		return false, fmt.Errorf("%w: unknown action", types.ErrInvalid)
	}
}

// Show lists, per object, the state names currently visible (spec §4.8,
// generalising check's per-object traversal to show).
func (o *Orchestrator) Show(ctx context.Context, params types.Params) (map[string][]string, error) {
	views, err := hierarchy.Iterate(params, o.chain(params), util.Debug)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]string, len(views))

	for _, v := range views {
		b, err := o.visit(params, v.Object)
		if err != nil {
			return nil, err
		}

		names, err := b.Show(ctx, params, v.Object)
		if err != nil {
			return nil, err
		}

		out[v.Object.NameString()] = names
	}

	return out, nil
}

// Get traverses every iterated object, applying get_mode's policy
// decision per object; the first policy violation propagates and already
// applied objects are not rolled back (spec §4.8, §7).
func (o *Orchestrator) Get(ctx context.Context, params types.Params) error {
	return o.forEach(ctx, params, "get", "get_state", "get_mode", policy.DefaultGetMode, false)
}

// Set is Get's mirror for the set operation (spec §4.8).
func (o *Orchestrator) Set(ctx context.Context, params types.Params) error {
	return o.forEach(ctx, params, "set", "set_state", "set_mode", policy.DefaultSetMode, false)
}

// Unset is Get's mirror for the unset operation (spec §4.8).
func (o *Orchestrator) Unset(ctx context.Context, params types.Params) error {
	return o.forEach(ctx, params, "unset", "unset_state", "unset_mode", policy.DefaultUnsetMode, false)
}

// Push iterates then sets with push_mode, skipping reserved state names
// (spec §4.8: "push(p, e) = iterate then set with mode from push_mode,
// skipping reserved names"; spec §8 E6: state name read from
// "push_state").
func (o *Orchestrator) Push(ctx context.Context, params types.Params) error {
	return o.forEach(ctx, params, "set", "push_state", "push_mode", policy.DefaultPushMode, true)
}

// Pop iterates then gets then unsets the same named state, skipping
// reserved names (spec §4.8, §8 invariant 4: "pop ≡ get then unset").
// pop_mode has no default of its own (spec §4.6: "pop_mode reuses
// get/unset defaults") — the get step uses get_mode, the unset step uses
// unset_mode.
func (o *Orchestrator) Pop(ctx context.Context, params types.Params) error {
	views, err := hierarchy.Iterate(params, o.chain(params), util.Debug)
	if err != nil {
		return err
	}

	for _, v := range views {
		state := v.Params.Get("get_state", nil, "")
		if state == "" || policy.SkipReserved(state) {
			continue
		}

		b, err := o.visit(params, v.Object)
		if err != nil {
			return err
		}

		if err := o.applyOne(ctx, params, v, b, "get", "get_mode", policy.DefaultGetMode, state); err != nil {
			return err
		}

		if err := o.applyOne(ctx, params, v, b, "unset", "unset_mode", policy.DefaultUnsetMode, state); err != nil {
			return err
		}
	}

	return nil
}

// forEach drives get/set/unset/push uniformly over every iterated object
// (spec §4.8).
func (o *Orchestrator) forEach(ctx context.Context, params types.Params, backendOp, stateKey, modeKey, defaultMode string, skipReserved bool) error {
	views, err := hierarchy.Iterate(params, o.chain(params), util.Debug)
	if err != nil {
		return err
	}

	for _, v := range views {
		state := v.Params.Get(stateKey, nil, "")
		if state == "" {
			continue
		}

		if skipReserved && policy.SkipReserved(state) {
			continue
		}

		b, err := o.visit(params, v.Object)
		if err != nil {
			return err
		}

		if err := o.applyOne(ctx, params, v, b, backendOp, modeKey, defaultMode, state); err != nil {
			return err
		}
	}

	return nil
}

// applyOne runs the policy engine's decision for one object/state/op and
// invokes the corresponding backend call (spec §4.6, §4.8).
func (o *Orchestrator) applyOne(ctx context.Context, params types.Params, v hierarchy.View, b backend.Backend, op, modeKey, defaultMode, state string) error {
	modeStr := v.Params.Get(modeKey, nil, defaultMode)

	mode, err := policy.Parse(modeStr)
	if err != nil {
		return err
	}

	exists, err := b.Check(ctx, params, v.Object, state)
	if err != nil {
		return err
	}

	action := mode.Decide(exists)

	util.Debug("orchestrator: object=%s op=%s state=%s exists=%t action=%s", v.Object, op, state, exists, action)

	if op == "set" {
		rootExists, err := b.CheckRoot(ctx, params, v.Object)
		if err != nil {
			return err
		}

		if err := mode.ValidateSetPrecondition(exists, rootExists); err != nil {
			return err
		}
	}

	// Reuse means "don't touch the persisted capture" for set/unset/push
	// (a no-op), but for get it means "load the existing capture onto the
	// live object" — the only sensible action get(exists)='r' can take
	// (spec §8 E2: get_mode=ra with the state present still pauses,
	// restores, and resumes).
	if action == policy.Reuse && op == "get" {
		action = policy.Force
	}

	return policy.Apply(action,
		func() error { return o.invoke(ctx, params, v.Object, b, op, state) },
		func() error { return nil },
	)
}

func (o *Orchestrator) invoke(ctx context.Context, params types.Params, obj types.Object, b backend.Backend, op, state string) error {
	switch op {
	case "get":
		return b.Get(ctx, params, obj, state)
	case "set":
		return b.Set(ctx, params, obj, state)
	case "unset":
		return b.Unset(ctx, params, obj, state)
	default:
		return fmt.Errorf("%w: unknown orchestrator operation %q", types.ErrInvalid, op)
	}
}

// SaveScenario persists a named parameter map for later reuse (SPEC_FULL.md
// §2 C8 expansion).
func (o *Orchestrator) SaveScenario(name string, params types.Params) error {
	if o.Scenarios == nil {
		return fmt.Errorf("%w: no scenario store configured", types.ErrInvalid)
	}

	s := store.Scenario{Name: name, Params: params}

	if _, err := o.Scenarios.Get(name); err == nil {
		return o.Scenarios.Update(s)
	}

	return o.Scenarios.Create(s)
}

// LoadScenario retrieves a previously saved parameter map.
func (o *Orchestrator) LoadScenario(name string) (types.Params, error) {
	if o.Scenarios == nil {
		return nil, fmt.Errorf("%w: no scenario store configured", types.ErrInvalid)
	}

	s, err := o.Scenarios.Get(name)
	if err != nil {
		return nil, err
	}

	return s.Params, nil
}
