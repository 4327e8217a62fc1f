// Package lvm implements the LVM backend (spec §4.3): states are thin LV
// snapshots in a per-object volume group, with a configurable "pointer"
// LV (e.g. "current_state") that is the live working copy and can never
// be unset directly.
//
// Grounded on phenix/internal/mm's shape (small struct backend, functional
// options for wiring) and spec §9 DESIGN NOTES ("the pointer snapshot in
// LVM is a natural single-writer mutable resource; model it as a named
// handle owned by the backend instance").
package lvm

import (
	"context"
	"fmt"
	"strings"

	"vtstate/internal/backend"
	"vtstate/types"
	"vtstate/util/shell"
)

func init() {
	backend.Register("lvm", func(params types.Params) (backend.Backend, error) {
		return &Backend{}, nil
	})
}

// Backend implements backend.Backend for LVM thin snapshots.
type Backend struct{}

func (b *Backend) vg(params types.Params, obj backend.Object) string {
	return params.Get("vg_name", []string{obj.Name()}, "vg_"+obj.Name())
}

func (b *Backend) pointer(params types.Params, obj backend.Object) string {
	return params.Get("lv_pointer_name", []string{obj.Name()}, "current_state")
}

func (b *Backend) lvPath(params types.Params, obj backend.Object, lv string) string {
	return "/dev/" + b.vg(params, obj) + "/" + lv
}

func (b *Backend) Show(ctx context.Context, params types.Params, obj backend.Object) ([]string, error) {
	out, _, err := shell.ExecCommand(ctx,
		shell.Command("lvs"),
		shell.Args("--noheadings", "-o", "lv_name", b.vg(params, obj)))
	if err != nil {
		return nil, fmt.Errorf("%w: listing LVs: %v", types.ErrTransport, err)
	}

	var names []string

	for _, line := range strings.Split(string(out), "\n") {
		name := strings.TrimSpace(line)
		if name == "" || name == b.pointer(params, obj) {
			continue
		}

		names = append(names, name)
	}

	return names, nil
}

func (b *Backend) Check(ctx context.Context, params types.Params, obj backend.Object, state string) (bool, error) {
	_, _, err := shell.ExecCommand(ctx,
		shell.Command("lvs"),
		shell.Args("--noheadings", b.lvPath(params, obj, state)))

	return err == nil, nil
}

// Get removes the pointer LV and re-snapshots the requested state into it
// (spec §4.3).
func (b *Backend) Get(ctx context.Context, params types.Params, obj backend.Object, state string) error {
	ptr := b.pointer(params, obj)

	if _, _, err := shell.ExecCommand(ctx, shell.Command("lvremove"), shell.Args("-f", b.lvPath(params, obj, ptr))); err != nil {
		return fmt.Errorf("%w: removing pointer %s: %v", types.ErrBackend, ptr, err)
	}

	_, stderr, err := shell.ExecCommand(ctx,
		shell.Command("lvcreate"),
		shell.Args("-s", "-n", ptr, b.lvPath(params, obj, state)))
	if err != nil {
		return fmt.Errorf("%w: snapshotting %s into pointer: %s", types.ErrBackend, state, stderr)
	}

	return nil
}

// Set snapshots the pointer back into a target state name (spec §4.3).
func (b *Backend) Set(ctx context.Context, params types.Params, obj backend.Object, state string) error {
	ptr := b.pointer(params, obj)

	_, stderr, err := shell.ExecCommand(ctx,
		shell.Command("lvcreate"),
		shell.Args("-s", "-n", state, b.lvPath(params, obj, ptr)))
	if err != nil {
		return fmt.Errorf("%w: capturing state %s: %s", types.ErrBackend, state, stderr)
	}

	return nil
}

// Unset is forbidden for the pointer LV itself (spec §4.2/§4.3, E4).
func (b *Backend) Unset(ctx context.Context, params types.Params, obj backend.Object, state string) error {
	if state == b.pointer(params, obj) {
		return fmt.Errorf("%w: %s is the implementation pointer and cannot be unset", types.ErrInvalid, state)
	}

	if _, _, err := shell.ExecCommand(ctx, shell.Command("lvremove"), shell.Args("-f", b.lvPath(params, obj, state))); err != nil {
		return fmt.Errorf("%w: removing state %s: %v", types.ErrBackend, state, err)
	}

	return nil
}

func (b *Backend) CheckRoot(ctx context.Context, params types.Params, obj backend.Object) (bool, error) {
	_, _, err := shell.ExecCommand(ctx, shell.Command("vgs"), shell.Args(b.vg(params, obj)))
	return err == nil, nil
}

func (b *Backend) GetRoot(ctx context.Context, params types.Params, obj backend.Object) error {
	ok, err := b.CheckRoot(ctx, params, obj)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("%w: volume group %s not present locally", types.ErrMissing, b.vg(params, obj))
	}

	return nil
}

// SetRoot builds the VG on top of a loopback device over a sparse file
// (optionally on tmpfs) and creates the thin pool (spec §4.3).
func (b *Backend) SetRoot(ctx context.Context, params types.Params, obj backend.Object) error {
	sparse := params.Get("lv_sparse_file", []string{obj.Name()}, "/tmp/"+obj.Name()+".img")
	size := params.Get("image_size", []string{obj.Name()}, "10G")
	vg := b.vg(params, obj)
	pool := params.Get("lv_pool_name", []string{obj.Name()}, "thinpool")

	steps := [][]string{
		{"truncate", "-s", size, sparse},
		{"losetup", "-f", sparse},
	}

	for _, args := range steps {
		if _, stderr, err := shell.ExecCommand(ctx, shell.Command(args[0]), shell.Args(args[1:]...)); err != nil {
			return fmt.Errorf("%w: %s: %s", types.ErrBackend, args[0], stderr)
		}
	}

	loopDev, stderr, err := shell.ExecCommand(ctx, shell.Command("losetup"), shell.Args("-j", sparse))
	if err != nil {
		return fmt.Errorf("%w: resolving loop device: %s", types.ErrBackend, stderr)
	}

	dev := strings.SplitN(strings.TrimSpace(string(loopDev)), ":", 2)[0]

	if _, stderr, err := shell.ExecCommand(ctx, shell.Command("vgcreate"), shell.Args(vg, dev)); err != nil {
		return fmt.Errorf("%w: creating VG: %s", types.ErrBackend, stderr)
	}

	if _, stderr, err := shell.ExecCommand(ctx, shell.Command("lvcreate"),
		shell.Args("-L", size, "--thinpool", pool, vg)); err != nil {
		return fmt.Errorf("%w: creating thin pool: %s", types.ErrBackend, stderr)
	}

	if _, stderr, err := shell.ExecCommand(ctx, shell.Command("lvcreate"),
		shell.Args("-V", size, "--thin", "-n", b.pointer(params, obj), vg+"/"+pool)); err != nil {
		return fmt.Errorf("%w: creating pointer LV: %s", types.ErrBackend, stderr)
	}

	return nil
}

// UnsetRoot tears everything down, tolerating partial cleanup failures and
// aggregating them into one ErrBackend (spec §4.3, §7 "vgCleanup
// tolerates per-stage failures").
func (b *Backend) UnsetRoot(ctx context.Context, params types.Params, obj backend.Object) error {
	vg := b.vg(params, obj)
	sparse := params.Get("lv_sparse_file", []string{obj.Name()}, "/tmp/"+obj.Name()+".img")

	var failures []string

	run := func(name string, args ...string) {
		if _, stderr, err := shell.ExecCommand(ctx, shell.Command(name), shell.Args(args...)); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %s", name, strings.TrimSpace(string(stderr))))
		}
	}

	run("vgremove", "-f", vg)
	run("losetup", "-d", sparse)
	run("rm", "-f", sparse)

	if len(failures) > 0 {
		return fmt.Errorf("%w: tearing down %s: %s", types.ErrBackend, vg, strings.Join(failures, "; "))
	}

	return nil
}

func (b *Backend) RequiresRunningObject() bool {
	return false
}
