// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads the updater configuration from HCL, YAML or JSON.
package config

import (
	"time"

	"grimm.is/deltafw/internal/flash"
	"grimm.is/deltafw/internal/install"
	"grimm.is/deltafw/internal/logging"
)

// CurrentSchemaVersion defines the current schema version of the configuration.
const CurrentSchemaVersion = "1.0"

const (
	RestartReboot = "reboot"
	RestartExit   = "exit"
)

// Config describes one delta update run: the storage geometry, which
// partitions play the source, patch and destination roles, and how the
// pending upgrade is handed to the boot subsystem.
type Config struct {
	// Schema version for backward compatibility.
	// @enum: 1.0
	// @default: "1.0"
	SchemaVersion string `hcl:"schema_version,optional" json:"schema_version,omitempty" yaml:"schema_version,omitempty"`

	// Erase block size of the storage device in bytes. Must be a power of two.
	// @example: 4 * KiB
	BlockSize int `hcl:"block_size" json:"block_size" yaml:"block_size"`

	// Partition holding the running image. It is only ever read.
	Source string `hcl:"source" json:"source" yaml:"source"`
	// Partition holding the patch.
	Patch string `hcl:"patch" json:"patch" yaml:"patch"`
	// Partition receiving the new image.
	Destination string `hcl:"destination" json:"destination" yaml:"destination"`

	Partitions []Partition    `hcl:"partition,block" json:"partition" yaml:"partition"`
	Boot       *BootConfig    `hcl:"boot,block" json:"boot,omitempty" yaml:"boot,omitempty"`
	Restart    *RestartConfig `hcl:"restart,block" json:"restart,omitempty" yaml:"restart,omitempty"`
	Log        *LogConfig     `hcl:"log,block" json:"log,omitempty" yaml:"log,omitempty"`
	Metrics    *MetricsConfig `hcl:"metrics,block" json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Engine     *EngineConfig  `hcl:"engine,block" json:"engine,omitempty" yaml:"engine,omitempty"`
}

// Partition maps a partition name onto a file or block device.
type Partition struct {
	Name string `hcl:"name,label" json:"name" yaml:"name"`
	Path string `hcl:"path" json:"path" yaml:"path"`
	// Size in bytes. Zero uses the size of the backing file.
	// @default: 0
	Size int64 `hcl:"size,optional" json:"size,omitempty" yaml:"size,omitempty"`
}

// BootConfig controls the pending-upgrade marker.
type BootConfig struct {
	// @default: "<state dir>/pending.json"
	MarkerPath string `hcl:"marker_path,optional" json:"marker_path,omitempty" yaml:"marker_path,omitempty"`
	// Permanent upgrades are adopted without a trial boot.
	// @default: true
	Permanent *bool `hcl:"permanent,optional" json:"permanent,omitempty" yaml:"permanent,omitempty"`
}

// RestartConfig controls what happens once the upgrade is requested.
type RestartConfig struct {
	// @enum: reboot, exit
	// @default: "reboot"
	Mode string `hcl:"mode,optional" json:"mode,omitempty" yaml:"mode,omitempty"`
	// Pause before restarting so logs can drain.
	// @example: "3s"
	Delay string `hcl:"delay,optional" json:"delay,omitempty" yaml:"delay,omitempty"`
}

type LogConfig struct {
	// @enum: debug, info, warn, error
	// @default: "info"
	Level string `hcl:"level,optional" json:"level,omitempty" yaml:"level,omitempty"`
	// @enum: auto, text, json
	// @default: "auto"
	Format string `hcl:"format,optional" json:"format,omitempty" yaml:"format,omitempty"`
}

type MetricsConfig struct {
	// node_exporter textfile collector path. Empty disables export.
	Textfile string `hcl:"textfile,optional" json:"textfile,omitempty" yaml:"textfile,omitempty"`
}

type EngineConfig struct {
	// Bytes written between progress log lines.
	ProgressInterval int64 `hcl:"progress_interval,optional" json:"progress_interval,omitempty" yaml:"progress_interval,omitempty"`
	// Maximum bytes per read or write callback.
	ChunkSize int `hcl:"chunk_size,optional" json:"chunk_size,omitempty" yaml:"chunk_size,omitempty"`
}

// ApplyDefaults fills optional sections.
func (c *Config) ApplyDefaults() {
	if c.SchemaVersion == "" {
		c.SchemaVersion = CurrentSchemaVersion
	}
	if c.Boot == nil {
		c.Boot = &BootConfig{}
	}
	if c.Boot.MarkerPath == "" {
		c.Boot.MarkerPath = install.MarkerFile()
	}
	if c.Boot.Permanent == nil {
		permanent := true
		c.Boot.Permanent = &permanent
	}
	if c.Restart == nil {
		c.Restart = &RestartConfig{}
	}
	if c.Restart.Mode == "" {
		c.Restart.Mode = RestartReboot
	}
	if c.Log == nil {
		c.Log = &LogConfig{}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "auto"
	}
	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{}
	}
	if c.Engine == nil {
		c.Engine = &EngineConfig{}
	}
}

// Partition returns the named partition.
func (c *Config) Partition(name string) (Partition, bool) {
	for _, p := range c.Partitions {
		if p.Name == name {
			return p, true
		}
	}
	return Partition{}, false
}

// Permanent reports whether the upgrade is requested as permanent.
func (c *Config) Permanent() bool {
	return c.Boot == nil || c.Boot.Permanent == nil || *c.Boot.Permanent
}

// RestartDelay parses restart.delay. Validate rejects bad values, so errors
// read as zero here.
func (c *Config) RestartDelay() time.Duration {
	if c.Restart == nil || c.Restart.Delay == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Restart.Delay)
	if err != nil {
		return 0
	}
	return d
}

// LogLevel parses log.level.
func (c *Config) LogLevel() logging.Level {
	if c.Log == nil {
		return logging.LevelInfo
	}
	return logging.ParseLevel(c.Log.Level)
}

// Device builds the file-backed flash device described by the partitions.
func (c *Config) Device() *flash.FileDevice {
	parts := make(map[flash.PartitionID]flash.FilePartition, len(c.Partitions))
	for _, p := range c.Partitions {
		parts[flash.PartitionID(p.Name)] = flash.FilePartition{Path: p.Path, Size: p.Size}
	}
	return flash.NewFileDevice(c.BlockSize, parts)
}
