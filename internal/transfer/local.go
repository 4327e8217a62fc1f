package transfer

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"vtstate/internal/lock"
	"vtstate/types"
)

const hashBlockSize = 1 << 20 // 1 MiB, per spec §4.1

type local struct {
	lockTimeoutSeconds int
	skipLocks          bool
}

func newLocal(lockTimeoutSeconds int, skipLocks bool) *local {
	return &local{lockTimeoutSeconds: lockTimeoutSeconds, skipLocks: skipLocks}
}

func (l *local) List(_ context.Context, loc types.Location) ([]string, error) {
	entries, err := os.ReadDir(loc.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("%w: listing %s: %v", types.ErrTransport, loc.Path, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	return names, nil
}

func (l *local) Compare(_ context.Context, cache, pool types.Location) (bool, error) {
	ch, err := hashFile(cache.Path)
	if err != nil {
		return false, err
	}

	ph, err := hashFile(pool.Path)
	if err != nil {
		return false, err
	}

	return ch == ph, nil
}

func (l *local) Download(ctx context.Context, cache, pool types.Location) error {
	h, err := lock.Acquire(pool.Path, l.timeout(), l.skipLocks)
	if err != nil {
		return err
	}
	defer h.Release()

	if same, _ := l.Compare(ctx, cache, pool); same {
		return nil
	}

	return copyFile(pool.Path, cache.Path)
}

func (l *local) Upload(ctx context.Context, cache, pool types.Location) error {
	h, err := lock.Acquire(pool.Path, l.timeout(), l.skipLocks)
	if err != nil {
		return err
	}
	defer h.Release()

	if same, _ := l.Compare(ctx, cache, pool); same {
		return nil
	}

	return copyFile(cache.Path, pool.Path)
}

func (l *local) Delete(_ context.Context, pool types.Location) error {
	h, err := lock.Acquire(pool.Path, l.timeout(), l.skipLocks)
	if err != nil {
		return err
	}
	defer h.Release()

	if err := os.Remove(pool.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: deleting %s: %v", types.ErrTransport, pool.Path, err)
	}

	return nil
}

func (l *local) timeout() time.Duration {
	return time.Duration(l.lockTimeoutSeconds) * time.Second
}

// hashFile returns the MD5 digest of src computed in 1 MiB blocks. A
// missing file hashes to the empty string (spec §4.1); callers that care
// about existence must check it themselves.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}

		return "", fmt.Errorf("%w: opening %s: %v", types.ErrTransport, path, err)
	}
	defer f.Close()

	h := md5.New()
	buf := make([]byte, hashBlockSize)

	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("%w: hashing %s: %v", types.ErrTransport, path, err)
	}

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("%w: creating parent dir for %s: %v", types.ErrTransport, dst, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", types.ErrTransport, src, err)
	}
	defer in.Close()

	tmp := dst + ".partial"

	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %v", types.ErrTransport, tmp, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: copying %s to %s: %v", types.ErrTransport, src, dst, err)
	}

	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: closing %s: %v", types.ErrTransport, tmp, err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("%w: renaming %s to %s: %v", types.ErrTransport, tmp, dst, err)
	}

	return nil
}
