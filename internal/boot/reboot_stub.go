// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package boot

import "grimm.is/deltafw/internal/errors"

func reboot() error {
	return errors.New(errors.KindInternal, "reboot is only supported on linux")
}
