// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command deltafw rebuilds a firmware image from the running image and a
// delta patch, writes it to the spare slot, marks it for the next boot and
// restarts. The config file is taken from $DELTAFW_CONFIG.
package main

import (
	"context"
	"os"

	"grimm.is/deltafw/cmd"
)

func main() {
	os.Exit(cmd.RunUpgrade(context.Background(), cmd.ConfigPath(), os.Stderr))
}
