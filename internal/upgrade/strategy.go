// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package upgrade

import "context"

// UpgradeStrategy defines how a new image reaches the next boot.
type UpgradeStrategy interface {
	// Stage produces the new image and registers it with the boot
	// subsystem. Nothing is marked bootable unless Stage returns nil.
	Stage(ctx context.Context) error

	// Finalize hands control to the new image, typically by restarting.
	// On real hardware it does not return.
	Finalize(ctx context.Context) error
}
