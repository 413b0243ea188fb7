// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package install resolves the on-disk locations deltafw uses by default.
package install

import (
	"os"
	"path/filepath"
)

// EnvPrefix prefixes the directory override variables.
const EnvPrefix = "DELTAFW"

var (
	DefaultConfigDir string
	DefaultStateDir  string

	// Build-time path overrides (set via -ldflags), so images with a
	// read-only /etc can move the defaults.
	BuildDefaultConfigDir = ""
	BuildDefaultStateDir  = ""
)

func init() {
	DefaultConfigDir = "/etc/deltafw"
	if BuildDefaultConfigDir != "" {
		DefaultConfigDir = BuildDefaultConfigDir
	}

	DefaultStateDir = "/var/lib/deltafw"
	if BuildDefaultStateDir != "" {
		DefaultStateDir = BuildDefaultStateDir
	}
}

// GetConfigDir returns the config directory, checking env vars first.
// Priority: DELTAFW_CONFIG_DIR > DELTAFW_PREFIX/config > DefaultConfigDir
func GetConfigDir() string {
	if dir := os.Getenv(EnvPrefix + "_CONFIG_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(EnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "config")
	}
	return DefaultConfigDir
}

// GetStateDir returns the state directory, checking env vars first.
// Priority: DELTAFW_STATE_DIR > DELTAFW_PREFIX/state > DefaultStateDir
func GetStateDir() string {
	if dir := os.Getenv(EnvPrefix + "_STATE_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(EnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "state")
	}
	return DefaultStateDir
}

// ConfigFile is the config loaded when DELTAFW_CONFIG is unset.
func ConfigFile() string {
	return filepath.Join(GetConfigDir(), "deltafw.hcl")
}

// MarkerFile is the default pending-upgrade marker.
func MarkerFile() string {
	return filepath.Join(GetStateDir(), "pending.json")
}
