// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package upgrade

// State of an Orchestrator.
type State int

const (
	StateUninitialized State = iota
	StateStorageReady
	StatePatchApplied
	StateUpgradeRequested
	StateRebooting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStorageReady:
		return "storage_ready"
	case StatePatchApplied:
		return "patch_applied"
	case StateUpgradeRequested:
		return "upgrade_requested"
	case StateRebooting:
		return "rebooting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateRebooting
}
