// Package mmtest provides a hand-written fake of the mm.Runtime/mm.Env
// capability set for use in tests of the backends and orchestrator that
// depend on a running VM object (spec §6), in place of a mocking
// framework (per this repo's own test-tooling convention).
package mmtest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"vtstate/internal/mm"
)

// Env is a fake mm.Env backed by an in-memory set of named runtimes.
type Env struct {
	mu  sync.Mutex
	vms map[string]*Runtime
}

// NewEnv returns an empty fake environment.
func NewEnv() *Env {
	return &Env{vms: make(map[string]*Runtime)}
}

// Add registers a fake runtime under name, creating it if absent, and
// returns it for further configuration by the caller.
func (e *Env) Add(name string) *Runtime {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r, ok := e.vms[name]; ok {
		return r
	}

	r := &Runtime{name: name, snapshots: make(map[string]bool)}
	e.vms[name] = r

	return r
}

// GetVM implements mm.Env.
func (e *Env) GetVM(name string) (mm.Runtime, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.vms[name]
	if !ok {
		return nil, fmt.Errorf("vm %s not found", name)
	}

	return r, nil
}

// Runtime is a fake mm.Runtime tracking just enough state for tests of
// the vt and ramfile backends to exercise pause/resume, savevm/loadvm,
// and save-to-file/restore-from-file transitions.
type Runtime struct {
	mu sync.Mutex

	name string

	alive      bool
	paused     bool
	snapshots  map[string]bool
	savedFiles map[string]bool

	// Fail, if set, is returned by every method instead of performing the
	// fake transition, letting tests simulate a runtime-level ErrBackend.
	Fail error

	// Commands records every MonitorSend invocation for assertions.
	Commands []string
}

func (r *Runtime) IsAlive(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Fail != nil {
		return false, r.Fail
	}

	return r.alive, nil
}

func (r *Runtime) Pause(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Fail != nil {
		return r.Fail
	}

	r.paused = true

	return nil
}

func (r *Runtime) Resume(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Fail != nil {
		return r.Fail
	}

	r.paused = false

	return nil
}

func (r *Runtime) Create(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Fail != nil {
		return r.Fail
	}

	r.alive = true

	return nil
}

func (r *Runtime) Destroy(ctx context.Context, graceful bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Fail != nil {
		return r.Fail
	}

	r.alive = false

	return nil
}

func (r *Runtime) SaveToFile(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Fail != nil {
		return r.Fail
	}

	if r.savedFiles == nil {
		r.savedFiles = make(map[string]bool)
	}

	if err := os.WriteFile(path, nil, 0644); err != nil {
		return err
	}

	r.savedFiles[path] = true

	return nil
}

func (r *Runtime) RestoreFromFile(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Fail != nil {
		return r.Fail
	}

	if !r.savedFiles[path] {
		return fmt.Errorf("no such saved file %s", path)
	}

	r.alive = true

	return nil
}

func (r *Runtime) MonitorSend(ctx context.Context, cmd string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Fail != nil {
		return "", r.Fail
	}

	r.Commands = append(r.Commands, cmd)

	if cmd == "info snapshots" {
		return r.renderSnapshots(), nil
	}

	return "", nil
}

// renderSnapshots formats r.snapshots as an "info snapshots" HMP reply, the
// same table shape qemu's monitor prints, so vt.Backend's "info snapshots"
// parsing has something real to parse against instead of an empty string.
func (r *Runtime) renderSnapshots() string {
	var sb strings.Builder

	sb.WriteString("ID        TAG                 VM SIZE                DATE       VM CLOCK\n")

	i := 1
	for name := range r.snapshots {
		fmt.Fprintf(&sb, "%-9d %-18s    0 B 2024-01-01 00:00:00   00:00:00.000\n", i, name)
		i++
	}

	return sb.String()
}

func (r *Runtime) SaveVM(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Fail != nil {
		return r.Fail
	}

	r.snapshots[name] = true

	return nil
}

func (r *Runtime) LoadVM(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Fail != nil {
		return r.Fail
	}

	if !r.snapshots[name] {
		return fmt.Errorf("no such snapshot %s", name)
	}

	return nil
}

func (r *Runtime) DeleteVM(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Fail != nil {
		return r.Fail
	}

	delete(r.snapshots, name)

	return nil
}

func (r *Runtime) VerifyStatus(ctx context.Context, status string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Fail != nil {
		return false, r.Fail
	}

	switch status {
	case "running":
		return r.alive && !r.paused, nil
	case "paused":
		return r.alive && r.paused, nil
	default:
		return false, nil
	}
}

// HasSnapshot reports whether name was captured via SaveVM and not since
// removed via DeleteVM, for use in test assertions.
func (r *Runtime) HasSnapshot(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.snapshots[name]
}
