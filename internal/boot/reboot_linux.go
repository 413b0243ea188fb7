// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package boot

import (
	"golang.org/x/sys/unix"

	"grimm.is/deltafw/internal/errors"
)

func reboot() error {
	unix.Sync()
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART); err != nil {
		return errors.Wrap(err, errors.KindInternal, "reboot(2) failed")
	}
	return nil
}
