// Package sourced implements the Sourced backend (spec §4.4, component
// C4): a composition wrapper around a local backend.Backend that routes
// show/check/get/set/unset through enumerated, proximity-sorted,
// scope-filtered pool sources before or after the local call.
//
// Grounded on phenix/store's wrap-an-interface-with-policy shape and
// internal/chain for the actual chain-aware transfer/compare primitives a
// qcow2-external source needs.
package sourced

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"vtstate/internal/backend"
	"vtstate/internal/chain"
	"vtstate/internal/transfer"
	"vtstate/types"
)

// RemoteOps abstracts how a single state is checked, compared, and moved
// against one pool source. chainOps (backed by internal/chain) and
// flatOps (backed directly by a transfer.Mover) both implement it.
type RemoteOps interface {
	List(ctx context.Context, loc types.Location) ([]string, error)
	Exists(ctx context.Context, pool types.Location, state string) (bool, error)
	InSync(ctx context.Context, cache, pool types.Location, state string) (bool, error)
	Transfer(ctx context.Context, cache, pool types.Location, state string, dir chain.Direction) error
}

// Backend composes a local backend.Backend with pool-source routing (spec
// §4.4).
type Backend struct {
	Local    backend.Backend
	Identity types.Identity
	Ops      RemoteOps

	// CacheLocation and PoolLocation build the cache-side and a specific
	// pool-side Location for a given object and source root, used to talk
	// to Ops.
	CacheLocation func(obj backend.Object) types.Location
	PoolLocation  func(obj backend.Object, source types.Location) types.Location

	// MaxConcurrentMirrors caps the errgroup fan-out for set/unset
	// (expansion, SPEC_FULL.md §2 C4: independent mirror transfers run
	// concurrently while preserving proximity-first error-reporting
	// order).
	MaxConcurrentMirrors int
}

// sources enumerates, sorts by proximity, and scope-filters the pool
// locations configured for op (spec §4.4 steps 1-2).
func (b *Backend) sources(params types.Params, scope []string, op string) ([]types.Location, bool) {
	locs := types.ParseLocations(params.Get(op+"_location", scope, ""))

	sort.SliceStable(locs, func(i, j int) bool {
		return b.Identity.ProximityScore(locs[i]) > b.Identity.ProximityScore(locs[j])
	})

	permitted := types.ParseScopeSet(params.Fields("pool_scope", scope))

	var own bool

	var out []types.Location

	for _, l := range locs {
		s := b.Identity.ComputeScope(l)
		if s == types.ScopeOwn {
			own = true
			continue
		}

		if permitted.Permits(s) {
			out = append(out, l)
		}
	}

	if permitted.Permits(types.ScopeOwn) {
		own = true
	}

	return out, own
}

// Show is the union of the local listing (if own permitted) and the
// intersection across all permitted pool listings (spec §4.4).
func (b *Backend) Show(ctx context.Context, params types.Params, obj backend.Object) ([]string, error) {
	scope := []string{obj.Name()}
	pools, own := b.sources(params, scope, "show")

	result := make(map[string]int)

	if own {
		names, err := b.Local.Show(ctx, params, obj)
		if err != nil {
			return nil, err
		}

		for _, n := range names {
			result[n] = 1
		}
	}

	for _, pool := range pools {
		loc := b.PoolLocation(obj, pool)

		names, err := b.Ops.List(ctx, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: listing pool source: %v", types.ErrTransport, err)
		}

		seen := make(map[string]bool, len(names))
		for _, n := range names {
			seen[n] = true
		}

		for n := range result {
			if !seen[n] {
				delete(result, n)
			}
		}
	}

	var out []string

	for n := range result {
		out = append(out, n)
	}

	return out, nil
}

// Check returns true if local has the state (and own permitted) or any
// pool has it; disagreement among pools is ErrInconsistent (spec §4.4).
func (b *Backend) Check(ctx context.Context, params types.Params, obj backend.Object, state string) (bool, error) {
	scope := []string{obj.Name()}
	pools, own := b.sources(params, scope, "check")

	if own {
		ok, err := b.Local.Check(ctx, params, obj, state)
		if err != nil {
			return false, err
		}

		if ok {
			return true, nil
		}
	}

	var yes, no int

	for _, pool := range pools {
		loc := b.PoolLocation(obj, pool)

		ok, err := b.Ops.Exists(ctx, loc, state)
		if err != nil {
			return false, err
		}

		if ok {
			yes++
		} else {
			no++
		}
	}

	if yes > 0 && no > 0 {
		return false, fmt.Errorf("%w: pool sources disagree on state %s", types.ErrInconsistent, state)
	}

	return yes > 0, nil
}

// Get downloads from the best-scoring permitted source when the pool has
// the state and the cache either lacks it or has drifted, then invokes
// the local get (spec §4.4).
func (b *Backend) Get(ctx context.Context, params types.Params, obj backend.Object, state string) error {
	scope := []string{obj.Name()}
	pools, own := b.sources(params, scope, "get")

	if len(pools) > 0 {
		best := pools[0]

		poolLoc := b.PoolLocation(obj, best)
		cacheLoc := b.CacheLocation(obj)

		poolHas, err := b.Ops.Exists(ctx, poolLoc, state)
		if err != nil {
			return err
		}

		if poolHas {
			inSync, err := b.Ops.InSync(ctx, cacheLoc, poolLoc, state)
			if err != nil {
				return err
			}

			if !inSync {
				if err := b.Ops.Transfer(ctx, cacheLoc, poolLoc, state, chain.Download); err != nil {
					return err
				}
			}
		}
	}

	if !own {
		return nil
	}

	return b.Local.Get(ctx, params, obj, state)
}

// Set calls local set (when own permitted) then fans out uploads to every
// permitted non-own source concurrently, preserving proximity-first
// error-reporting order (spec §4.4, SPEC_FULL.md C4 expansion).
func (b *Backend) Set(ctx context.Context, params types.Params, obj backend.Object, state string) error {
	scope := []string{obj.Name()}
	pools, own := b.sources(params, scope, "set")

	if own {
		if err := b.Local.Set(ctx, params, obj, state); err != nil {
			return err
		}
	} else {
		localExists, err := b.Local.Check(ctx, params, obj, state)
		if err != nil {
			return err
		}

		if !localExists {
			return fmt.Errorf("%w: set without own scope requires an existing local state", types.ErrPrecondition)
		}
	}

	return b.fanOut(ctx, pools, obj, state, chain.Upload)
}

// Unset is the mirror of Set: local unset then per-source transport
// delete, each gated by scope (spec §4.4).
func (b *Backend) Unset(ctx context.Context, params types.Params, obj backend.Object, state string) error {
	scope := []string{obj.Name()}
	pools, own := b.sources(params, scope, "unset")

	if own {
		if err := b.Local.Unset(ctx, params, obj, state); err != nil {
			return err
		}
	}

	return b.fanOut(ctx, pools, obj, state, chain.Upload)
}

func (b *Backend) fanOut(ctx context.Context, pools []types.Location, obj backend.Object, state string, dir chain.Direction) error {
	cacheLoc := b.CacheLocation(obj)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.limit())

	errs := make([]error, len(pools))

	for i, pool := range pools {
		i, pool := i, pool

		g.Go(func() error {
			poolLoc := b.PoolLocation(obj, pool)
			errs[i] = b.Ops.Transfer(gctx, cacheLoc, poolLoc, state, dir)
			return errs[i]
		})
	}

	if err := g.Wait(); err == nil {
		return nil
	}

	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	return nil
}

func (b *Backend) limit() int {
	if b.MaxConcurrentMirrors > 0 {
		return b.MaxConcurrentMirrors
	}

	return 4
}

// CheckRoot/GetRoot/SetRoot/UnsetRoot enforce spec §4.4's mutual exclusion:
// setting a local root is forbidden when own is excluded from scope,
// updating the pool root requires an existing local root.

func (b *Backend) CheckRoot(ctx context.Context, params types.Params, obj backend.Object) (bool, error) {
	return b.Local.CheckRoot(ctx, params, obj)
}

func (b *Backend) GetRoot(ctx context.Context, params types.Params, obj backend.Object) error {
	return b.Local.GetRoot(ctx, params, obj)
}

func (b *Backend) SetRoot(ctx context.Context, params types.Params, obj backend.Object) error {
	scope := []string{obj.Name()}
	_, own := b.sources(params, scope, "set")

	if !own {
		return fmt.Errorf("%w: cannot set a local root when own scope is excluded", types.ErrPrecondition)
	}

	return b.Local.SetRoot(ctx, params, obj)
}

func (b *Backend) UnsetRoot(ctx context.Context, params types.Params, obj backend.Object) error {
	scope := []string{obj.Name()}
	pools, own := b.sources(params, scope, "unset")

	if !own {
		rootExists, err := b.Local.CheckRoot(ctx, params, obj)
		if err != nil {
			return err
		}

		if !rootExists {
			return fmt.Errorf("%w: updating the pool root requires an existing local root", types.ErrPrecondition)
		}
	}

	if own {
		if err := b.Local.UnsetRoot(ctx, params, obj); err != nil {
			return err
		}
	}

	_ = pools

	return nil
}

func (b *Backend) RequiresRunningObject() bool {
	return b.Local.RequiresRunningObject()
}

// flatOps implements RemoteOps directly atop a transfer.Mover, treating
// each state as a single artefact located at root/<state><suffix> — the
// shape used by ramfile RAM-state and non-chained backend mirrors.
type flatOps struct {
	mover  transfer.Mover
	suffix func(state string) string
}

// NewFlatOps builds a RemoteOps for backends whose states are single
// files with no backing-file chain (e.g. ramfile ".state" files).
func NewFlatOps(mover transfer.Mover, suffix func(state string) string) RemoteOps {
	return &flatOps{mover: mover, suffix: suffix}
}

func (f *flatOps) statePath(loc types.Location, state string) types.Location {
	loc.Path = loc.Path + "/" + state + f.suffix(state)
	return loc
}

func (f *flatOps) List(ctx context.Context, loc types.Location) ([]string, error) {
	return f.mover.List(ctx, loc)
}

func (f *flatOps) Exists(ctx context.Context, pool types.Location, state string) (bool, error) {
	names, err := f.mover.List(ctx, pool)
	if err != nil {
		return false, err
	}

	target := state + f.suffix(state)

	for _, n := range names {
		if n == target {
			return true, nil
		}
	}

	return false, nil
}

func (f *flatOps) InSync(ctx context.Context, cache, pool types.Location, state string) (bool, error) {
	return f.mover.Compare(ctx, f.statePath(cache, state), f.statePath(pool, state))
}

func (f *flatOps) Transfer(ctx context.Context, cache, pool types.Location, state string, dir chain.Direction) error {
	c, p := f.statePath(cache, state), f.statePath(pool, state)

	if dir == chain.Download {
		return f.mover.Download(ctx, c, p)
	}

	return f.mover.Upload(ctx, c, p)
}

// chainOps implements RemoteOps atop internal/chain's chain-aware
// compare/transfer, for qcow2-external (and vm-state) backed chains.
type chainOps struct {
	io *chain.IO
}

// NewChainOps builds a RemoteOps for backing-file-chained states.
func NewChainOps(io *chain.IO) RemoteOps {
	return &chainOps{io: io}
}

func (c *chainOps) List(ctx context.Context, loc types.Location) ([]string, error) {
	return c.io.Mover.List(ctx, loc)
}

func (c *chainOps) Exists(ctx context.Context, pool types.Location, state string) (bool, error) {
	names, err := c.io.Mover.List(ctx, pool)
	if err != nil {
		return false, err
	}

	target := state + ".qcow2"

	for _, n := range names {
		if n == target {
			return true, nil
		}
	}

	return false, nil
}

func (c *chainOps) InSync(ctx context.Context, _, _ types.Location, state string) (bool, error) {
	return chain.CompareChain(ctx, c.io, state)
}

func (c *chainOps) Transfer(ctx context.Context, _, _ types.Location, state string, dir chain.Direction) error {
	return chain.TransferChain(ctx, c.io, state, dir)
}
