// Package qcow2ext implements the QCOW2-external backend (spec §4.3):
// states are separate "<state>.qcow2" files inside a per-image directory,
// each with a backing-file pointer to its parent.
//
// Grounded on src/minimega/qcow.go ("qemu-img create -f qcow2 -b <src>
// <dst>" for backing-file creation) and internal/chain for walking the
// resulting chains.
package qcow2ext

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"vtstate/internal/backend"
	"vtstate/internal/chain"
	"vtstate/types"
	"vtstate/util/shell"
)

func init() {
	backend.Register("qcow2-external", func(params types.Params) (backend.Backend, error) {
		return &Backend{}, nil
	})
}

// Backend implements backend.Backend for QCOW2-external image chains.
type Backend struct{}

func (b *Backend) dir(params types.Params, obj backend.Object) string {
	return params.Get("image_dir", []string{obj.Name()}, obj.Name())
}

func (b *Backend) statePath(params types.Params, obj backend.Object, state string) string {
	return filepath.Join(b.dir(params, obj), state+".qcow2")
}

func (b *Backend) workingPath(params types.Params, obj backend.Object) string {
	return params.Get("image_name", []string{obj.Name()}, obj.Name()+".qcow2")
}

func (b *Backend) Show(_ context.Context, params types.Params, obj backend.Object) ([]string, error) {
	entries, err := os.ReadDir(b.dir(params, obj))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("%w: listing %s: %v", types.ErrTransport, b.dir(params, obj), err)
	}

	var names []string

	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".qcow2") {
			names = append(names, strings.TrimSuffix(e.Name(), ".qcow2"))
		}
	}

	return names, nil
}

func (b *Backend) Check(ctx context.Context, params types.Params, obj backend.Object, state string) (bool, error) {
	_, err := os.Stat(b.statePath(params, obj, state))
	if os.IsNotExist(err) {
		return false, nil
	}

	return err == nil, nil
}

// Get creates a new working image whose backing file points to the chosen
// state (spec §4.3).
func (b *Backend) Get(ctx context.Context, params types.Params, obj backend.Object, state string) error {
	working := b.workingPath(params, obj)

	if err := os.Remove(working); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing previous working image: %v", types.ErrBackend, err)
	}

	_, stderr, err := shell.ExecCommand(ctx,
		shell.Command("qemu-img"),
		shell.Args("create", "-f", "qcow2", "-b", b.statePath(params, obj, state), "-F", "qcow2", working))
	if err != nil {
		return fmt.Errorf("%w: creating working image backed by %s: %s", types.ErrBackend, state, stderr)
	}

	return nil
}

// Set copies the current working image into "<state>.qcow2" (spec §4.3).
func (b *Backend) Set(ctx context.Context, params types.Params, obj backend.Object, state string) error {
	if err := os.MkdirAll(b.dir(params, obj), 0755); err != nil {
		return fmt.Errorf("%w: creating image dir: %v", types.ErrBackend, err)
	}

	_, stderr, err := shell.ExecCommand(ctx,
		shell.Command("qemu-img"),
		shell.Args("convert", "-O", "qcow2", b.workingPath(params, obj), b.statePath(params, obj, state)))
	if err != nil {
		return fmt.Errorf("%w: capturing state %s: %s", types.ErrBackend, state, stderr)
	}

	return nil
}

func (b *Backend) Unset(_ context.Context, params types.Params, obj backend.Object, state string) error {
	if err := os.Remove(b.statePath(params, obj, state)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing state %s: %v", types.ErrBackend, state, err)
	}

	return nil
}

func (b *Backend) CheckRoot(_ context.Context, params types.Params, obj backend.Object) (bool, error) {
	_, err := os.Stat(b.workingPath(params, obj))
	if os.IsNotExist(err) {
		return false, nil
	}

	return err == nil, nil
}

func (b *Backend) GetRoot(context.Context, types.Params, backend.Object) error {
	return nil // materialised by Get on first state restore
}

func (b *Backend) SetRoot(ctx context.Context, params types.Params, obj backend.Object) error {
	format := params.Get("image_format", []string{obj.Name()}, "qcow2")

	_, stderr, err := shell.ExecCommand(ctx,
		shell.Command("qemu-img"),
		shell.Args("create", "-f", format, b.workingPath(params, obj),
			params.Get("image_size", []string{obj.Name()}, "10G")))
	if err != nil {
		return fmt.Errorf("%w: creating root image: %s", types.ErrBackend, stderr)
	}

	return nil
}

func (b *Backend) UnsetRoot(_ context.Context, params types.Params, obj backend.Object) error {
	if err := os.RemoveAll(b.dir(params, obj)); err != nil {
		return fmt.Errorf("%w: removing image dir: %v", types.ErrBackend, err)
	}

	if err := os.Remove(b.workingPath(params, obj)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing working image: %v", types.ErrBackend, err)
	}

	return nil
}

func (b *Backend) RequiresRunningObject() bool {
	return false
}

// backingFileRe matches the "backing file:" line of "qemu-img info"
// output.
var backingFileRe = regexp.MustCompile(`^backing file:\s*(\S+)`)

// Probe implements chain.ImageProbe by shelling out to "qemu-img info".
type Probe struct{}

func (Probe) BackingFile(ctx context.Context, path string) (string, error) {
	out, _, err := shell.ExecCommand(ctx, shell.Command("qemu-img"), shell.Args("info", path))
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrTransport, err)
	}

	for _, line := range strings.Split(string(out), "\n") {
		if m := backingFileRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			return m[1], nil
		}
	}

	return "", nil
}

// Resolver builds a chain.Resolver for obj using this backend's on-disk
// layout (spec §4.5: "the chain resolver is used whenever the full
// dependency set is needed").
func (b *Backend) Resolver(params types.Params, obj backend.Object) *chain.Resolver {
	dir := b.dir(params, obj)
	return chain.NewResolver(Probe{}, func() string { return dir })
}
