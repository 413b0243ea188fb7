// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"fmt"
	"math/bits"
	"path/filepath"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate validates the entire configuration.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if c.SchemaVersion != "" && c.SchemaVersion != CurrentSchemaVersion {
		errs = append(errs, ValidationError{"schema_version", fmt.Sprintf("unsupported version %q", c.SchemaVersion)})
	}

	if c.BlockSize <= 0 || bits.OnesCount(uint(c.BlockSize)) != 1 {
		errs = append(errs, ValidationError{"block_size", fmt.Sprintf("must be a positive power of two, got %d", c.BlockSize)})
	}

	errs = append(errs, c.validatePartitions()...)
	errs = append(errs, c.validateRoles()...)

	if c.Restart != nil {
		switch c.Restart.Mode {
		case "", RestartReboot, RestartExit:
		default:
			errs = append(errs, ValidationError{"restart.mode", fmt.Sprintf("unknown mode %q", c.Restart.Mode)})
		}
		if c.Restart.Delay != "" {
			if d, err := time.ParseDuration(c.Restart.Delay); err != nil || d < 0 {
				errs = append(errs, ValidationError{"restart.delay", fmt.Sprintf("invalid duration %q", c.Restart.Delay)})
			}
		}
	}

	if c.Log != nil {
		switch c.Log.Format {
		case "", "auto", "text", "json":
		default:
			errs = append(errs, ValidationError{"log.format", fmt.Sprintf("unknown format %q", c.Log.Format)})
		}
	}

	if c.Engine != nil {
		if c.Engine.ProgressInterval < 0 {
			errs = append(errs, ValidationError{"engine.progress_interval", "must not be negative"})
		}
		if c.Engine.ChunkSize < 0 {
			errs = append(errs, ValidationError{"engine.chunk_size", "must not be negative"})
		}
	}

	return errs
}

func (c *Config) validatePartitions() ValidationErrors {
	var errs ValidationErrors
	names := make(map[string]bool)
	paths := make(map[string]string)

	for _, p := range c.Partitions {
		field := fmt.Sprintf("partition.%s", p.Name)
		if p.Name == "" {
			errs = append(errs, ValidationError{"partition", "name is required"})
			continue
		}
		if names[p.Name] {
			errs = append(errs, ValidationError{field, "defined more than once"})
		}
		names[p.Name] = true

		if p.Path == "" {
			errs = append(errs, ValidationError{field + ".path", "is required"})
		} else {
			// Claims lock the backing file, so a shared file would make
			// the partitions exclude each other.
			clean := filepath.Clean(p.Path)
			if other, ok := paths[clean]; ok {
				errs = append(errs, ValidationError{field + ".path", fmt.Sprintf("shares %s with partition %q", clean, other)})
			}
			paths[clean] = p.Name
		}

		if p.Size < 0 {
			errs = append(errs, ValidationError{field + ".size", "must not be negative"})
		} else if c.BlockSize > 0 && p.Size%int64(c.BlockSize) != 0 {
			errs = append(errs, ValidationError{field + ".size", fmt.Sprintf("%d is not a multiple of block_size %d", p.Size, c.BlockSize)})
		}
	}
	return errs
}

func (c *Config) validateRoles() ValidationErrors {
	var errs ValidationErrors
	roles := []struct{ field, name string }{
		{"source", c.Source},
		{"patch", c.Patch},
		{"destination", c.Destination},
	}

	seen := make(map[string]string)
	for _, r := range roles {
		if r.name == "" {
			errs = append(errs, ValidationError{r.field, "is required"})
			continue
		}
		if _, ok := c.Partition(r.name); !ok {
			errs = append(errs, ValidationError{r.field, fmt.Sprintf("partition %q is not defined", r.name)})
		}
		if other, ok := seen[r.name]; ok {
			errs = append(errs, ValidationError{r.field, fmt.Sprintf("partition %q is already the %s", r.name, other)})
		}
		seen[r.name] = r.field
	}
	return errs
}
