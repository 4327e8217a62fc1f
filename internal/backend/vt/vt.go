// Package vt implements the QCOW2-VT backend (spec §4.3): VM-runtime
// snapshots taken directly through the monitor's savevm/loadvm/delvm
// commands. Requires the VM to be online for every state operation.
//
// Grounded on src/qmp/qmp.go's savevm/loadvm command names and
// internal/mm's Runtime capability set, which carries them verbatim.
package vt

import (
	"bufio"
	"context"
	"fmt"
	"regexp"
	"strings"

	"vtstate/internal/backend"
	"vtstate/internal/mm"
	"vtstate/types"
)

// snapshotLineRe matches a row of "info snapshots" HMP output, the same
// "ID TAG VM-SIZE DATE VM-CLOCK" table qemu-img snapshot -l prints
// (internal/backend/qcow2int/qcow2int.go's snapshotLineRe parses the
// equivalent CLI-tool rendering of the same data).
var snapshotLineRe = regexp.MustCompile(`^\d+\s+(\S+)\s+([\d.]+\s*[KMGT]?i?B)\b`)

func init() {
	backend.Register("vt", func(params types.Params) (backend.Backend, error) {
		return &Backend{}, nil
	})
}

// Env resolves a VM object to its runtime handle.
type Env interface {
	GetVM(name string) (mm.Runtime, error)
}

// Backend implements backend.Backend directly over the VM monitor's
// savevm/loadvm/delvm verbs.
type Backend struct {
	Env Env
}

func (b *Backend) runtime(obj backend.Object) (mm.Runtime, error) {
	if b.Env == nil {
		return nil, fmt.Errorf("%w: no VM runtime environment configured", types.ErrBackend)
	}

	return b.Env.GetVM(obj.Name())
}

// Show lists the VM's current savevm snapshots by sending "info snapshots"
// over the monitor and parsing the HMP reply the same way
// qcow2int.Backend.Show parses "qemu-img snapshot -l" (spec §6: monitorSend
// is the only capability this backend has for querying snapshot state).
func (b *Backend) Show(ctx context.Context, params types.Params, obj backend.Object) ([]string, error) {
	rt, err := b.runtime(obj)
	if err != nil {
		return nil, err
	}

	out, err := rt.MonitorSend(ctx, "info snapshots")
	if err != nil {
		return nil, fmt.Errorf("%w: info snapshots: %v", types.ErrBackend, err)
	}

	var names []string

	scanner := bufio.NewScanner(strings.NewReader(out))
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
	rt, err := b.runtime(obj)
	if err != nil {
		return err
	}

	if err := rt.LoadVM(ctx, state); err != nil {
		return fmt.Errorf("%w: loadvm %s: %v", types.ErrBackend, state, err)
	}

	return nil
}

func (b *Backend) Set(ctx context.Context, params types.Params, obj backend.Object, state string) error {
	rt, err := b.runtime(obj)
	if err != nil {
		return err
	}

	if err := rt.SaveVM(ctx, state); err != nil {
		return fmt.Errorf("%w: savevm %s: %v", types.ErrBackend, state, err)
	}

	return nil
}

func (b *Backend) Unset(ctx context.Context, params types.Params, obj backend.Object, state string) error {
	rt, err := b.runtime(obj)
	if err != nil {
		return err
	}

	if err := rt.DeleteVM(ctx, state); err != nil {
		return fmt.Errorf("%w: delvm %s: %v", types.ErrBackend, state, err)
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

	alive, err := rt.IsAlive(ctx)
	if err != nil {
		return err
	}

	if !alive {
		return fmt.Errorf("%w: VM %s is not online", types.ErrPrecondition, obj.Name())
	}

	return nil
}

func (b *Backend) SetRoot(ctx context.Context, params types.Params, obj backend.Object) error {
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

	return rt.Destroy(ctx, true)
}

func (b *Backend) RequiresRunningObject() bool {
	return true
}
