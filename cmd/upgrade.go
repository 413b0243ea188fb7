// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"context"
	"io"
	"os"

	"golang.org/x/term"

	"grimm.is/deltafw/internal/boot"
	"grimm.is/deltafw/internal/config"
	"grimm.is/deltafw/internal/flash"
	"grimm.is/deltafw/internal/install"
	"grimm.is/deltafw/internal/logging"
	"grimm.is/deltafw/internal/metrics"
	"grimm.is/deltafw/internal/patch"
	"grimm.is/deltafw/internal/upgrade"
)

// ConfigEnv names the environment variable holding the config path.
const ConfigEnv = "DELTAFW_CONFIG"

// Version is set at link time.
var Version = "dev"

// ConfigPath returns $DELTAFW_CONFIG, or the installed config file when unset.
func ConfigPath() string {
	if p := os.Getenv(ConfigEnv); p != "" {
		return p
	}
	return install.ConfigFile()
}

// RunUpgrade performs one delta update described by the config at
// configPath and returns the process exit status. With restart mode
// "reboot" a successful run does not return.
func RunUpgrade(ctx context.Context, configPath string, logOut io.Writer) int {
	logger := logging.New(logging.Config{
		Level:  logging.LevelInfo,
		Output: logOut,
		JSON:   !isTerminal(logOut),
	})

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		logger.WithError(err).Error("Failed to load config", "path", configPath)
		return 1
	}

	logger = logging.New(logging.Config{
		Level:  cfg.LogLevel(),
		Output: logOut,
		JSON:   wantJSON(cfg.Log.Format, logOut),
	})
	logging.SetDefault(logger)

	logger.Info("Delta firmware update",
		"version", Version,
		"config", configPath,
		"block_size", cfg.BlockSize,
		"source", cfg.Source,
		"patch", cfg.Patch,
		"destination", cfg.Destination)

	if m, err := boot.ReadMarker(cfg.Boot.MarkerPath); err != nil {
		logger.WithError(err).Warn("Ignoring unreadable upgrade marker", "path", cfg.Boot.MarkerPath)
	} else if m != nil {
		logger.Warn("An upgrade is already pending and will be replaced",
			"pending_run_id", m.RunID,
			"pending_partition", m.Partition)
	}

	reg := metrics.NewRegistry()

	var restarter boot.Restarter
	switch cfg.Restart.Mode {
	case config.RestartExit:
		restarter = &boot.ExitRestarter{Logger: logger.WithComponent("boot")}
	default:
		restarter = &boot.SystemRestarter{Logger: logger.WithComponent("boot")}
	}

	engine := patch.NewEngine(cfg.BlockSize, logger.WithComponent("patch"))
	if cfg.Engine.ChunkSize > 0 {
		engine.ChunkSize = cfg.Engine.ChunkSize
	}

	orch, err := upgrade.New(upgrade.Config{
		Source:           flash.PartitionID(cfg.Source),
		Patch:            flash.PartitionID(cfg.Patch),
		Destination:      flash.PartitionID(cfg.Destination),
		BlockSize:        cfg.BlockSize,
		Permanent:        cfg.Permanent(),
		RestartDelay:     cfg.RestartDelay(),
		ProgressInterval: cfg.Engine.ProgressInterval,
	}, upgrade.Options{
		Device:    cfg.Device(),
		Engine:    engine,
		Requester: boot.NewMarkerRequester(cfg.Boot.MarkerPath),
		Restarter: restarter,
		Logger:    logger,
		Metrics:   reg,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to set up upgrade")
		return 1
	}

	stageErr := orch.Stage(ctx)

	// Export before Finalize: a successful reboot never comes back.
	if path := cfg.Metrics.Textfile; path != "" {
		if err := reg.WriteTextfile(path); err != nil {
			logger.Warn("Failed to write metrics textfile", "path", path, "error", err)
		}
	}

	if stageErr != nil {
		logger.Error("Upgrade failed", "run_id", orch.RunID().String(), "state", orch.State().String())
		return 1
	}
	if err := orch.Finalize(ctx); err != nil {
		return 1
	}
	return 0
}

func wantJSON(format string, w io.Writer) bool {
	switch format {
	case "json":
		return true
	case "text":
		return false
	default:
		return !isTerminal(w)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
