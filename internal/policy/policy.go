// Package policy implements the policy engine (spec §4.6): two-letter
// mode strings that decide, per object and per operation, what action to
// take depending on whether the target state already exists.
//
// Grounded on phenix/store's small validated-enum pattern (parse once at
// the boundary, operate on a typed value afterward) and spec §4.6's state
// machine table.
package policy

import (
	"fmt"

	"vtstate/types"
)

// Action is one of the four policy letters (spec §4.6).
type Action int

const (
	// Abort raises types.ErrAbort.
	Abort Action = iota
	// Reuse keeps the object as-is.
	Reuse
	// Force creates or overwrites.
	Force
	// Ignore is a no-op; continue.
	Ignore
)

func (a Action) String() string {
	switch a {
	case Abort:
		return "abort"
	case Reuse:
		return "reuse"
	case Force:
		return "force"
	case Ignore:
		return "ignore"
	default:
		return "unknown"
	}
}

func parseLetter(c byte) (Action, error) {
	switch c {
	case 'a':
		return Abort, nil
	case 'r':
		return Reuse, nil
	case 'f':
		return Force, nil
	case 'i':
		return Ignore, nil
	default:
		return 0, fmt.Errorf("%w: unknown policy letter %q", types.ErrInvalid, string(c))
	}
}

// Mode is a parsed two-character policy string: Exists is applied when
// the target state is present, Missing when it is absent.
type Mode struct {
	Exists  Action
	Missing Action
}

// Default modes per operation (spec §4.6).
const (
	DefaultGetMode   = "ra"
	DefaultSetMode   = "ff"
	DefaultUnsetMode = "fi"
	DefaultCheckMode = "rr"
	DefaultPushMode  = "af"
)

// Parse decodes a two-character mode string. Any letter outside a/r/f/i
// raises types.ErrInvalid.
func Parse(s string) (Mode, error) {
	if len(s) != 2 {
		return Mode{}, fmt.Errorf("%w: mode %q must be exactly two characters", types.ErrInvalid, s)
	}

	exists, err := parseLetter(s[0])
	if err != nil {
		return Mode{}, err
	}

	missing, err := parseLetter(s[1])
	if err != nil {
		return Mode{}, err
	}

	return Mode{Exists: exists, Missing: missing}, nil
}

// Decide returns the action to take given whether the target currently
// exists (spec §4.6 state machine: "exists? -> [c1 letter] / [c2 letter]").
func (m Mode) Decide(exists bool) Action {
	if exists {
		return m.Exists
	}

	return m.Missing
}

// ValidateSetPrecondition enforces spec §4.6's additional rule: "For set
// with f on a missing state, if root does not exist the engine raises
// ErrPrecondition (root must be provided by check-mode ff explicitly,
// never implicitly by set)."
func (m Mode) ValidateSetPrecondition(stateExists, rootExists bool) error {
	if !stateExists && m.Decide(stateExists) == Force && !rootExists {
		return fmt.Errorf("%w: set with force on missing state requires an existing root", types.ErrPrecondition)
	}

	return nil
}

// Apply runs action for a decision, calling onForce for Force and
// onIgnoreOrReuse for Reuse or Ignore (a nil callback is a no-op), and
// returning types.ErrAbort directly for Abort so callers
// don't need a switch at every call site.
func Apply(action Action, onForce, onIgnoreOrReuse func() error) error {
	switch action {
	case Abort:
		return types.ErrAbort
	case Reuse, Ignore:
		if onIgnoreOrReuse != nil {
			return onIgnoreOrReuse()
		}

		return nil
	case Force:
		if onForce != nil {
			return onForce()
		}

		return nil
	default:
		return fmt.Errorf("%w: unknown action %v", types.ErrInvalid, action)
	}
}

// SkipReserved reports whether push/pop should silently skip a state name
// (spec §4.6: "push reserved states are skipped silently"; "pop reserved
// states are skipped silently").
func SkipReserved(name string) bool {
	s, err := types.NewState(name)
	if err != nil {
		return false
	}

	return s.IsReserved()
}
