// Package qcow2int implements the QCOW2-internal backend (spec §4.3):
// states live inside a single QCOW2 file as named snapshots, manipulated
// via "qemu-img snapshot".
//
// Grounded on src/minimega/qcow.go's use of exec.Command("qemu-img", ...)
// and phenix/util/shell's ExecCommand wrapper (adapted here, same
// Command/Args/Stdin functional-options shape) for running it.
package qcow2int

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"vtstate/internal/backend"
	"vtstate/types"
	"vtstate/util/shell"
)

func init() {
	backend.Register("qcow2-internal", func(params types.Params) (backend.Backend, error) {
		return &Backend{}, nil
	})
}

// Backend implements backend.Backend for QCOW2-internal snapshots.
type Backend struct{}

// snapshotLineRe matches a row of "qemu-img snapshot -l" output:
//
//	ID        TAG                VM SIZE                DATE       VM CLOCK
//	1         launch                0 B 2024-01-01 00:00:00   00:00:00.000
//
// "off" snapshots have VM SIZE == 0; "on" snapshots have a nonzero size.
var snapshotLineRe = regexp.MustCompile(`^\d+\s+(\S+)\s+([\d.]+\s*[KMGT]?i?B)\b`)

func (b *Backend) imagePath(params types.Params, obj backend.Object) string {
	return params.Get("image_name", []string{obj.Name()}, obj.Name()+".qcow2")
}

func (b *Backend) Show(ctx context.Context, params types.Params, obj backend.Object) ([]string, error) {
	out, _, err := shell.ExecCommand(ctx,
		shell.Command("qemu-img"),
		shell.Args("snapshot", "-l", b.imagePath(params, obj)))
	if err != nil {
		return nil, fmt.Errorf("%w: listing snapshots: %v", types.ErrTransport, err)
	}

	var names []string

	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		if m := snapshotLineRe.FindStringSubmatch(scanner.Text()); m != nil {
			names = append(names, m[1])
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

func (b *Backend) Get(ctx context.Context, params types.Params, obj backend.Object, state string) error {
	_, stderr, err := shell.ExecCommand(ctx,
		shell.Command("qemu-img"),
		shell.Args("snapshot", "-a", state, b.imagePath(params, obj)))
	if err != nil {
		return fmt.Errorf("%w: applying snapshot %s: %s", types.ErrBackend, state, stderr)
	}

	return nil
}

func (b *Backend) Set(ctx context.Context, params types.Params, obj backend.Object, state string) error {
	_, stderr, err := shell.ExecCommand(ctx,
		shell.Command("qemu-img"),
		shell.Args("snapshot", "-c", state, b.imagePath(params, obj)))
	if err != nil {
		return fmt.Errorf("%w: creating snapshot %s: %s", types.ErrBackend, state, stderr)
	}

	return nil
}

func (b *Backend) Unset(ctx context.Context, params types.Params, obj backend.Object, state string) error {
	_, stderr, err := shell.ExecCommand(ctx,
		shell.Command("qemu-img"),
		shell.Args("snapshot", "-d", state, b.imagePath(params, obj)))
	if err != nil {
		return fmt.Errorf("%w: deleting snapshot %s: %s", types.ErrBackend, state, stderr)
	}

	return nil
}

func (b *Backend) CheckRoot(ctx context.Context, params types.Params, obj backend.Object) (bool, error) {
	cmd := exec.CommandContext(ctx, "qemu-img", "info", b.imagePath(params, obj))
	return cmd.Run() == nil, nil
}

func (b *Backend) GetRoot(ctx context.Context, params types.Params, obj backend.Object) error {
	ok, err := b.CheckRoot(ctx, params, obj)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("%w: image %s not present locally", types.ErrMissing, b.imagePath(params, obj))
	}

	return nil
}

func (b *Backend) SetRoot(ctx context.Context, params types.Params, obj backend.Object) error {
	format := params.Get("image_format", []string{obj.Name()}, "qcow2")

	_, stderr, err := shell.ExecCommand(ctx,
		shell.Command("qemu-img"),
		shell.Args("create", "-f", format, b.imagePath(params, obj),
			params.Get("image_size", []string{obj.Name()}, "10G")))
	if err != nil {
		return fmt.Errorf("%w: creating image: %s", types.ErrBackend, stderr)
	}

	return nil
}

func (b *Backend) UnsetRoot(ctx context.Context, params types.Params, obj backend.Object) error {
	cmd := exec.CommandContext(ctx, "rm", "-f", b.imagePath(params, obj))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: removing image: %v", types.ErrBackend, err)
	}

	return nil
}

func (b *Backend) RequiresRunningObject() bool {
	return false
}
