// Package mm defines the VM runtime capability set the state core treats
// as an external collaborator (spec §1, §6), plus one implementation
// driven over a QMP-style monitor socket.
//
// Grounded on phenix/internal/mm/mm.go's small-interface / single
// package-level-default shape, generalised from phenix's minimega-specific
// MM interface down to exactly the capability set spec §6 names for the
// "Env handle"'s getVM(name) result.
package mm

import "context"

// Runtime is the capability set spec §6 names for a VM runtime object:
// "{isAlive, pause, resume, create, destroy(graceful), saveToFile(p),
// restoreFromFile(p), monitorSend(cmd), savevm(n), loadvm(n),
// verifyStatus(s)}". Any missing capability is treated as ErrBackend by
// callers (spec §6).
type Runtime interface {
	IsAlive(ctx context.Context) (bool, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Create(ctx context.Context) error
	Destroy(ctx context.Context, graceful bool) error
	SaveToFile(ctx context.Context, path string) error
	RestoreFromFile(ctx context.Context, path string) error
	MonitorSend(ctx context.Context, cmd string) (string, error)
	SaveVM(ctx context.Context, name string) error
	LoadVM(ctx context.Context, name string) error
	DeleteVM(ctx context.Context, name string) error
	VerifyStatus(ctx context.Context, status string) (bool, error)
}

// Env supplies VM runtime handles by name (spec §6 "Env handle").
type Env interface {
	GetVM(name string) (Runtime, error)
}
