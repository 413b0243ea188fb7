// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package boot

import (
	"context"

	"grimm.is/deltafw/internal/logging"
)

// SystemRestarter reboots the machine. Restart only returns on failure.
type SystemRestarter struct {
	Logger *logging.Logger
}

var _ Restarter = (*SystemRestarter)(nil)

// Restart syncs filesystems and reboots.
func (r *SystemRestarter) Restart(ctx context.Context) error {
	logger := r.Logger
	if logger == nil {
		logger = logging.WithComponent("boot")
	}
	logger.Info("Rebooting")
	return reboot()
}

// ExitRestarter leaves the restart to whoever started the process (an init
// script or service manager). Restart returns immediately.
type ExitRestarter struct {
	Logger *logging.Logger
}

var _ Restarter = (*ExitRestarter)(nil)

func (r *ExitRestarter) Restart(ctx context.Context) error {
	if r.Logger != nil {
		r.Logger.Info("Exiting, restart left to the service manager")
	}
	return nil
}
