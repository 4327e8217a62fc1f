package chain

import (
	"context"
	"fmt"
	"path/filepath"

	"vtstate/internal/transfer"
	"vtstate/types"
)

// Direction selects which way TransferChain moves data.
type Direction int

const (
	Download Direction = iota
	Upload
)

// IO bundles everything CompareChain/TransferChain need to act on one
// object's external-file states: how to resolve the chain, how to move
// artefacts, and whether the top-level state is a vm state (in which case
// its RAM dump participates too, per spec §4.5).
type IO struct {
	Resolver  *Resolver
	Mover     transfer.Mover
	CacheRoot string
	PoolRoot  string
	IsVMState bool
}

func (io *IO) imagePaths(state string) (cache, pool types.Location) {
	cache = types.Location{Path: filepath.Join(io.CacheRoot, state+".qcow2")}
	pool = types.Location{Path: filepath.Join(io.PoolRoot, state+".qcow2")}
	return
}

func (io *IO) ramPaths(state string) (cache, pool types.Location) {
	cache = types.Location{Path: filepath.Join(io.CacheRoot, state+".state")}
	pool = types.Location{Path: filepath.Join(io.PoolRoot, state+".state")}
	return
}

// CompareChain reports whether every ancestor of state, cache vs. pool, is
// identical. When the top of the chain is a vm-state, the RAM file is
// compared too (spec §4.5).
func CompareChain(ctx context.Context, io *IO, state string) (bool, error) {
	states, err := io.Resolver.Chain(ctx, state)
	if err != nil {
		return false, err
	}

	for _, s := range states {
		cache, pool := io.imagePaths(s)

		same, err := io.Mover.Compare(ctx, cache, pool)
		if err != nil {
			return false, fmt.Errorf("comparing image state %s: %w", s, err)
		}

		if !same {
			return false, nil
		}
	}

	if io.IsVMState {
		cache, pool := io.ramPaths(state)

		same, err := io.Mover.Compare(ctx, cache, pool)
		if err != nil {
			return false, fmt.Errorf("comparing RAM state %s: %w", state, err)
		}

		if !same {
			return false, nil
		}
	}

	return true, nil
}

// TransferChain downloads or uploads every ancestor of state, ordered from
// the leaf toward the root (spec §5: "this guarantees a partially-
// transferred chain always has a valid suffix"), plus the top-level RAM
// file for vm states.
func TransferChain(ctx context.Context, io *IO, state string, dir Direction) error {
	states, err := io.Resolver.Chain(ctx, state)
	if err != nil {
		return err
	}

	for _, s := range states {
		cache, pool := io.imagePaths(s)

		if err := io.move(ctx, cache, pool, dir); err != nil {
			return fmt.Errorf("transferring image state %s: %w", s, err)
		}
	}

	if io.IsVMState {
		cache, pool := io.ramPaths(state)

		ramExists, err := exists(ctx, io.Mover, dir, cache, pool)
		if err != nil {
			return err
		}

		if !ramExists {
			// The image states transferred fine above, so a missing RAM
			// file at this point means the vm-state side of the pair is
			// corrupt, not merely absent (spec §4.5).
			return fmt.Errorf("%w: vm state %s has image states but no RAM file", types.ErrBackend, state)
		}

		if err := io.move(ctx, cache, pool, dir); err != nil {
			return fmt.Errorf("transferring RAM state %s: %w", state, err)
		}
	}

	return nil
}

func (io *IO) move(ctx context.Context, cache, pool types.Location, dir Direction) error {
	if dir == Download {
		return io.Mover.Download(ctx, cache, pool)
	}

	return io.Mover.Upload(ctx, cache, pool)
}

func exists(ctx context.Context, m transfer.Mover, dir Direction, cache, pool types.Location) (bool, error) {
	loc := pool
	if dir == Upload {
		loc = cache
	}

	names, err := m.List(ctx, types.Location{Path: filepath.Dir(loc.Path)})
	if err != nil {
		return false, err
	}

	base := filepath.Base(loc.Path)
	for _, n := range names {
		if n == base {
			return true, nil
		}
	}

	return false, nil
}
