package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"vtstate/internal/lock"
	"vtstate/types"
)

// symlinkMover implements transfer for cache entries that are symbolic
// links to the pool path rather than copies of it (spec §4.1 "symlink
// mode"). List/Delete fall back to the local mover's filesystem
// primitives, since listing a directory and deleting a pool artefact have
// nothing to do with how the cache refers to it.
type symlinkMover struct {
	*local
}

func newSymlink(lockTimeoutSeconds int, skipLocks bool) *symlinkMover {
	return &symlinkMover{local: newLocal(lockTimeoutSeconds, skipLocks)}
}

func (s *symlinkMover) Compare(ctx context.Context, cache, pool types.Location) (bool, error) {
	target, err := os.Readlink(cache.Path)
	if err == nil {
		return target == pool.Path, nil
	}

	// Not a symlink (or doesn't exist yet): fall back to byte-level
	// compare, per spec §4.1.
	return s.local.Compare(ctx, cache, pool)
}

func (s *symlinkMover) Download(_ context.Context, cache, pool types.Location) error {
	h, err := lock.Acquire(pool.Path, time.Duration(s.lockTimeoutSeconds)*time.Second, s.skipLocks)
	if err != nil {
		return err
	}
	defer h.Release()

	if err := os.MkdirAll(filepath.Dir(cache.Path), 0755); err != nil {
		return fmt.Errorf("%w: creating cache dir for %s: %v", types.ErrTransport, cache.Path, err)
	}

	target, err := os.Readlink(cache.Path)
	if err == nil {
		if target == pool.Path {
			return nil
		}

		// Dead or redirected symlink: replace it.
		if err := os.Remove(cache.Path); err != nil {
			return fmt.Errorf("%w: replacing stale symlink %s: %v", types.ErrTransport, cache.Path, err)
		}
	} else if !os.IsNotExist(err) {
		// Exists but is not a symlink: refuse to overwrite it.
		return fmt.Errorf("%w: %s exists and is not a symlink", types.ErrInvalid, cache.Path)
	}

	if err := os.Symlink(pool.Path, cache.Path); err != nil {
		return fmt.Errorf("%w: symlinking %s -> %s: %v", types.ErrTransport, cache.Path, pool.Path, err)
	}

	return nil
}

func (s *symlinkMover) Upload(context.Context, types.Location, types.Location) error {
	return fmt.Errorf("%w: upload from a symlink cache entry is not a valid operation", types.ErrInvalid)
}
