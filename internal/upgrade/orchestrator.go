// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package upgrade drives one delta update from open storage to restart.
//
// The orchestrator moves through
//
//	uninitialized -> storage_ready -> patch_applied -> upgrade_requested -> rebooting
//
// and drops to failed from any earlier state. The upgrade request is only
// issued after the engine has returned successfully and the destination
// has been flushed and released.
package upgrade

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"grimm.is/deltafw/internal/boot"
	"grimm.is/deltafw/internal/delta"
	"grimm.is/deltafw/internal/errors"
	"grimm.is/deltafw/internal/flash"
	"grimm.is/deltafw/internal/logging"
	"grimm.is/deltafw/internal/metrics"
)

// Config selects the partitions and request policy of a run.
type Config struct {
	Source      flash.PartitionID
	Patch       flash.PartitionID
	Destination flash.PartitionID
	BlockSize   int

	// Permanent is passed through to the upgrade request.
	Permanent bool
	// RestartDelay is waited out before Restart.
	RestartDelay time.Duration
	// ProgressInterval is forwarded to the storage glue.
	ProgressInterval int64
}

// Options carries the collaborators. Device, Engine, Requester and
// Restarter are required.
type Options struct {
	Device    flash.Device
	Engine    delta.Engine
	Requester boot.Requester
	Restarter boot.Restarter

	Logger  *logging.Logger
	Metrics *metrics.Registry
	// Sleep defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Orchestrator runs a single update. It is not reusable.
type Orchestrator struct {
	cfg       Config
	device    flash.Device
	engine    delta.Engine
	requester boot.Requester
	restarter boot.Restarter
	logger    *logging.Logger
	metrics   *metrics.Registry
	sleep     func(time.Duration)

	runID   uuid.UUID
	state   State
	started time.Time
	err     error

	writer    *flash.ImageWriter
	glue      *delta.Glue
	imageSize int64
	digest    []byte
}

var _ UpgradeStrategy = (*Orchestrator)(nil)

// New validates cfg and opts. No storage is touched until Stage.
func New(cfg Config, opts Options) (*Orchestrator, error) {
	switch {
	case opts.Device == nil:
		return nil, errors.New(errors.KindValidation, "upgrade: device is required")
	case opts.Engine == nil:
		return nil, errors.New(errors.KindValidation, "upgrade: engine is required")
	case opts.Requester == nil:
		return nil, errors.New(errors.KindValidation, "upgrade: requester is required")
	case opts.Restarter == nil:
		return nil, errors.New(errors.KindValidation, "upgrade: restarter is required")
	case cfg.BlockSize <= 0:
		return nil, errors.Errorf(errors.KindValidation, "upgrade: invalid block size %d", cfg.BlockSize)
	case cfg.Source == "" || cfg.Patch == "" || cfg.Destination == "":
		return nil, errors.New(errors.KindValidation, "upgrade: source, patch and destination are required")
	case cfg.Destination == cfg.Source:
		return nil, errors.Errorf(errors.KindValidation, "upgrade: destination %q is the running image", cfg.Destination)
	}

	runID := uuid.New()
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("upgrade").With("run_id", runID.String())

	sleep := opts.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	return &Orchestrator{
		cfg:       cfg,
		device:    opts.Device,
		engine:    opts.Engine,
		requester: opts.Requester,
		restarter: opts.Restarter,
		logger:    logger,
		metrics:   opts.Metrics,
		sleep:     sleep,
		runID:     runID,
		state:     StateUninitialized,
	}, nil
}

// RunID identifies this run in logs and in the upgrade request.
func (o *Orchestrator) RunID() uuid.UUID {
	return o.runID
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return o.state
}

// Err returns the error that moved the orchestrator to StateFailed.
func (o *Orchestrator) Err() error {
	return o.err
}

// Run stages the update and, if that succeeds, finalizes it.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Stage(ctx); err != nil {
		return err
	}
	return o.Finalize(ctx)
}

// Stage opens the destination, applies the patch and requests the upgrade.
func (o *Orchestrator) Stage(ctx context.Context) error {
	if o.state != StateUninitialized {
		return errors.Errorf(errors.KindInternal, "upgrade: stage called in state %s", o.state)
	}
	o.started = time.Now()

	if err := o.initStorage(); err != nil {
		return o.fail(err, "Storage initialization failed")
	}
	if err := o.applyPatch(ctx); err != nil {
		return o.fail(err, "Patch application failed")
	}
	if err := o.requestUpgrade(ctx); err != nil {
		return o.fail(err, "Upgrade request failed")
	}

	if o.metrics != nil {
		o.metrics.ObserveRun(o.started)
		o.metrics.Runs.WithLabelValues("ok").Inc()
	}
	return nil
}

// Finalize restarts into the requested image.
func (o *Orchestrator) Finalize(ctx context.Context) error {
	if o.state != StateUpgradeRequested {
		return errors.Errorf(errors.KindInternal, "upgrade: finalize called in state %s", o.state)
	}

	if d := o.cfg.RestartDelay; d > 0 {
		o.logger.Info("Waiting before restart", "delay", d.String())
		o.sleep(d)
	}

	o.transition(StateRebooting)
	o.logger.Info("New firmware written, rebooting",
		"partition", string(o.cfg.Destination),
		"image_size", o.imageSize)

	if err := o.restarter.Restart(ctx); err != nil {
		// The request is already persisted: the next boot adopts the new
		// image no matter how it happens.
		o.logger.WithError(err).Error("Restart failed after the upgrade was requested; reboot manually")
		return err
	}
	return nil
}

func (o *Orchestrator) initStorage() error {
	w, err := flash.OpenImageWriter(o.device, o.cfg.Destination, o.cfg.BlockSize)
	if err != nil {
		return err
	}
	o.writer = w

	o.glue = delta.NewGlue(
		flash.NewRegion(o.device, o.cfg.Source, o.logger),
		flash.NewRegion(o.device, o.cfg.Patch, o.logger),
		w,
		delta.GlueOptions{
			Logger:           o.logger,
			Metrics:          o.metrics,
			ProgressInterval: o.cfg.ProgressInterval,
		},
	)
	if err := o.glue.Seek(0, 0); err != nil {
		return multierr.Append(err, o.releaseWriter())
	}

	o.transition(StateStorageReady)
	return nil
}

func (o *Orchestrator) applyPatch(ctx context.Context) error {
	o.logger.Info("Applying patch",
		"source", string(o.cfg.Source),
		"patch", string(o.cfg.Patch),
		"destination", string(o.cfg.Destination))

	err := o.engine.Apply(ctx, o.glue)
	if err != nil {
		kind := errors.GetKind(err)
		if !kind.IsStorage() && kind != errors.KindPatchApplication {
			err = errors.Wrap(err, errors.KindPatchApplication, "engine failed")
		}
	} else if n := o.writer.Buffered(); n > 0 {
		err = errors.Errorf(errors.KindPatchApplication, "engine returned with %d unflushed bytes", n)
	}

	o.imageSize = o.writer.BytesWritten()
	o.digest = o.writer.Digest()
	if closeErr := o.releaseWriter(); closeErr != nil {
		if err != nil {
			return multierr.Append(err, closeErr)
		}
		return closeErr
	}
	if err != nil {
		return err
	}

	o.transition(StatePatchApplied)
	return nil
}

func (o *Orchestrator) requestUpgrade(ctx context.Context) error {
	req := boot.Request{
		RunID:     o.runID,
		Partition: o.cfg.Destination,
		Permanent: o.cfg.Permanent,
		ImageSize: o.imageSize,
		Digest:    o.digest,
	}
	if err := o.requester.RequestUpgrade(ctx, req); err != nil {
		if errors.GetKind(err) != errors.KindUpgradeRequest {
			err = errors.Wrap(err, errors.KindUpgradeRequest, "upgrade request rejected")
		}
		return errors.Attr(err, "partition", string(o.cfg.Destination))
	}

	o.transition(StateUpgradeRequested)
	o.logger.Info("Upgrade requested", "mode", req.Mode(), "image_size", req.ImageSize)
	return nil
}

func (o *Orchestrator) releaseWriter() error {
	if o.writer == nil {
		return nil
	}
	return o.writer.Close()
}

func (o *Orchestrator) transition(next State) {
	prev := o.state
	o.state = next
	o.logger.Debug("State change", "from", prev.String(), "to", next.String())
	if o.metrics != nil {
		from := prev.String()
		if prev == StateUninitialized {
			from = ""
		}
		o.metrics.SetState(from, next.String())
	}
}

func (o *Orchestrator) fail(err error, msg string) error {
	// The writer is closed on every path that reaches here; a second
	// Close is a no-op.
	if closeErr := o.releaseWriter(); closeErr != nil {
		err = multierr.Append(err, closeErr)
	}
	o.err = err
	o.transition(StateFailed)
	o.logger.WithError(err).Error(msg, "state", StateFailed.String())

	if o.metrics != nil {
		o.metrics.ObserveRun(o.started)
		o.metrics.Runs.WithLabelValues(errors.GetKind(err).String()).Inc()
	}
	return err
}
