// Package chain implements the Chain resolver (spec §4.5, component C5):
// walking the backing-file chain of an external-file state by repeatedly
// asking the image for its backing-filename metadata.
//
// Grounded on src/minimega/qcow.go's use of "qemu-img create -b <parent>"
// (the backing-file pointer this package walks in the other direction)
// and on spec §9 DESIGN NOTES' instruction to keep chain walking behind an
// interface so tests can substitute a deterministic stub.
package chain

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"vtstate/types"
)

// maxDepth caps chain walking; the source does not guard against cycles,
// so this implementation raises ErrInvalid on overflow instead of looping
// forever (spec §9 DESIGN NOTES).
const maxDepth = 64

// ImageProbe reads external-image metadata. The only method chain walking
// needs is the backing-file pointer of a given image path.
type ImageProbe interface {
	// BackingFile returns the backing-file path of the image at path, or
	// "" if the image has no parent.
	BackingFile(ctx context.Context, path string) (string, error)
}

// Resolver walks backing-file chains for one object's external states.
type Resolver struct {
	probe ImageProbe

	// ImageDir returns the directory containing <state>.qcow2 files for
	// the image object whose states are being chained.
	ImageDir func() string
}

func NewResolver(probe ImageProbe, imageDir func() string) *Resolver {
	return &Resolver{probe: probe, ImageDir: imageDir}
}

// Chain walks from state to its root ancestor, inclusive, returning
// [state, parent, grandparent, ...]. The chain terminates at an empty
// backing pointer (spec §3 "Backing chain").
func (r *Resolver) Chain(ctx context.Context, state string) ([]string, error) {
	var out []string

	seen := make(map[string]bool)
	cur := state

	for depth := 0; ; depth++ {
		if depth >= maxDepth {
			return nil, fmt.Errorf("%w: backing chain for %s exceeds max depth %d (cycle?)", types.ErrInvalid, state, maxDepth)
		}

		if seen[cur] {
			return nil, fmt.Errorf("%w: cycle detected in backing chain at %s", types.ErrInvalid, cur)
		}

		seen[cur] = true
		out = append(out, cur)

		path := filepath.Join(r.ImageDir(), cur+".qcow2")

		backing, err := r.probe.BackingFile(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("probing backing file of %s: %w", path, err)
		}

		if backing == "" {
			return out, nil
		}

		cur = stateNameFromPath(backing)
	}
}

// stateNameFromPath maps a backing-file path back to a state name: strip
// extension, take the basename (spec §4.5).
func stateNameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
