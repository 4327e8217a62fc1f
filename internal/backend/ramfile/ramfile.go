// Package ramfile implements the RAM-file backend (spec §4.3): VM memory
// is saved via the runtime's save-to-file capability into
// "<vm>/<state>.state", alongside a configured image backend that
// captures the disk side of the same named state.
//
// Grounded on phenix/internal/mm's pause/resume-around-an-operation shape
// and spec §7 DESIGN NOTES ("ramfile.setRoot retries image creation on
// first failure using a blank image created via the image backend").
package ramfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"vtstate/internal/backend"
	"vtstate/internal/mm"
	"vtstate/types"
)

func init() {
	backend.Register("ramfile", func(params types.Params) (backend.Backend, error) {
		return &Backend{}, nil
	})
}

// Env resolves a VM object to its runtime handle. Set by whatever wires
// backends together (the orchestrator), since backend.Object carries no
// runtime connection of its own.
type Env interface {
	GetVM(name string) (mm.Runtime, error)
}

// Backend implements backend.Backend for VM memory snapshots, delegating
// disk-side state capture to a configured image backend.
type Backend struct {
	// Env supplies the VM runtime handle for pause/resume/save/restore.
	Env Env

	// Image is the per-image backend used to restore/capture the disk
	// side of each state ("the configured image-state backend", spec
	// §4.3).
	Image backend.Backend

	// Images lists the image objects belonging to the VM object, in a
	// stable order, so the image backend can be driven once per image.
	Images func(obj backend.Object) []backend.Object
}

func (b *Backend) dir(params types.Params, obj backend.Object) string {
	return params.Get("ramfile_dir", []string{obj.Name()}, obj.Name())
}

func (b *Backend) statePath(params types.Params, obj backend.Object, state string) string {
	return filepath.Join(b.dir(params, obj), state+".state")
}

func (b *Backend) runtime(obj backend.Object) (mm.Runtime, error) {
	if b.Env == nil {
		return nil, fmt.Errorf("%w: no VM runtime environment configured", types.ErrBackend)
	}

	return b.Env.GetVM(obj.Name())
}

// Show reports a RAM state only when every image of the VM also has the
// companion image state present (completeness invariant, spec §4.3).
//
// The intended behaviour, per spec §9 DESIGN NOTES, is the intersection
// of each image's available state sets, filtered down to the names that
// also have a RAM file on disk.
func (b *Backend) Show(ctx context.Context, params types.Params, obj backend.Object) ([]string, error) {
	ramNames, err := b.ramNames(params, obj)
	if err != nil {
		return nil, err
	}

	images := b.Images(obj)
	if len(images) == 0 {
		return ramNames, nil
	}

	present := make(map[string]int, len(ramNames))
	for _, n := range ramNames {
		present[n] = 0
	}

	for _, img := range images {
		names, err := b.Image.Show(ctx, params, img)
		if err != nil {
			return nil, err
		}

		have := make(map[string]bool, len(names))
		for _, n := range names {
			have[n] = true
		}

		for n := range present {
			if have[n] {
				present[n]++
			}
		}
	}

	var complete []string

	for n, count := range present {
		if count == len(images) {
			complete = append(complete, n)
		}
	}

	return complete, nil
}

func (b *Backend) ramNames(params types.Params, obj backend.Object) ([]string, error) {
	entries, err := os.ReadDir(b.dir(params, obj))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("%w: listing %s: %v", types.ErrTransport, b.dir(params, obj), err)
	}

	var names []string

	for _, e := range entries {
		name := e.Name()
		if len(name) > len(".state") && name[len(name)-len(".state"):] == ".state" {
			names = append(names, name[:len(name)-len(".state")])
		}
	}

	return names, nil
}

func (b *Backend) Check(ctx context.Context, params types.Params, obj backend.Object, state string) (bool, error) {
	names, err := b.Show(ctx, params, obj)
	if err != nil {
		return false, err
	}

	for _, n := range names {
		if n == state {
			return true, nil
		}
	}

	return false, nil
}

// Get pauses the VM, restores each image via the configured image-state
// backend, then restores the RAM file and resumes (spec §4.3).
func (b *Backend) Get(ctx context.Context, params types.Params, obj backend.Object, state string) error {
	rt, err := b.runtime(obj)
	if err != nil {
		return err
	}

	if err := rt.Pause(ctx); err != nil {
		return fmt.Errorf("%w: pausing before restore: %v", types.ErrBackend, err)
	}

	for _, img := range b.Images(obj) {
		if err := b.Image.Get(ctx, params, img, state); err != nil {
			return fmt.Errorf("restoring image %s for state %s: %w", img.Name(), state, err)
		}
	}

	if err := rt.RestoreFromFile(ctx, b.statePath(params, obj, state)); err != nil {
		return fmt.Errorf("%w: restoring RAM file: %v", types.ErrBackend, err)
	}

	if err := rt.Resume(ctx); err != nil {
		return fmt.Errorf("%w: resuming after restore: %v", types.ErrBackend, err)
	}

	return nil
}

// Set pauses, saves the RAM, destroys the VM, sets each image state, and
// resumes by restoring from the just-saved file (workaround for an
// otherwise-unclean shutdown, spec §4.3).
func (b *Backend) Set(ctx context.Context, params types.Params, obj backend.Object, state string) error {
	rt, err := b.runtime(obj)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(b.dir(params, obj), 0755); err != nil {
		return fmt.Errorf("%w: creating ramfile dir: %v", types.ErrBackend, err)
	}

	if err := rt.Pause(ctx); err != nil {
		return fmt.Errorf("%w: pausing before capture: %v", types.ErrBackend, err)
	}

	path := b.statePath(params, obj, state)

	if err := rt.SaveToFile(ctx, path); err != nil {
		return fmt.Errorf("%w: saving RAM to file: %v", types.ErrBackend, err)
	}

	if err := rt.Destroy(ctx, false); err != nil {
		return fmt.Errorf("%w: destroying VM before image capture: %v", types.ErrBackend, err)
	}

	for _, img := range b.Images(obj) {
		if err := b.Image.Set(ctx, params, img, state); err != nil {
			return fmt.Errorf("capturing image %s for state %s: %w", img.Name(), state, err)
		}
	}

	if err := rt.Create(ctx); err != nil {
		return fmt.Errorf("%w: recreating VM: %v", types.ErrBackend, err)
	}

	if err := rt.RestoreFromFile(ctx, path); err != nil {
		return fmt.Errorf("%w: restoring from just-saved file: %v", types.ErrBackend, err)
	}

	if err := rt.Resume(ctx); err != nil {
		return fmt.Errorf("%w: resuming after capture: %v", types.ErrBackend, err)
	}

	return nil
}

func (b *Backend) Unset(_ context.Context, params types.Params, obj backend.Object, state string) error {
	if err := os.Remove(b.statePath(params, obj, state)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing ram state %s: %v", types.ErrBackend, state, err)
	}

	return nil
}

func (b *Backend) CheckRoot(ctx context.Context, params types.Params, obj backend.Object) (bool, error) {
	rt, err := b.runtime(obj)
	if err != nil {
		return false, err
	}

	return rt.IsAlive(ctx)
}

func (b *Backend) GetRoot(ctx context.Context, params types.Params, obj backend.Object) error {
	rt, err := b.runtime(obj)
	if err != nil {
		return err
	}

	return rt.Create(ctx)
}

// SetRoot retries image creation once on first failure using a blank
// image produced by the image backend (spec §7 DESIGN NOTES).
func (b *Backend) SetRoot(ctx context.Context, params types.Params, obj backend.Object) error {
	if err := os.MkdirAll(b.dir(params, obj), 0755); err != nil {
		return fmt.Errorf("%w: creating ramfile dir: %v", types.ErrBackend, err)
	}

	for _, img := range b.Images(obj) {
		if err := b.Image.SetRoot(ctx, params, img); err != nil {
			if retryErr := b.Image.SetRoot(ctx, params, img); retryErr != nil {
				return fmt.Errorf("%w: creating blank image for %s after retry: %v", types.ErrBackend, img.Name(), retryErr)
			}
		}
	}

	rt, err := b.runtime(obj)
	if err != nil {
		return err
	}

	return rt.Create(ctx)
}

func (b *Backend) UnsetRoot(ctx context.Context, params types.Params, obj backend.Object) error {
	rt, err := b.runtime(obj)
	if err != nil {
		return err
	}

	if err := rt.Destroy(ctx, true); err != nil {
		return fmt.Errorf("%w: destroying VM: %v", types.ErrBackend, err)
	}

	if err := os.RemoveAll(b.dir(params, obj)); err != nil {
		return fmt.Errorf("%w: removing ramfile dir: %v", types.ErrBackend, err)
	}

	return nil
}

func (b *Backend) RequiresRunningObject() bool {
	return true
}
