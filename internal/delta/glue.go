// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package delta

import (
	"time"

	"grimm.is/deltafw/internal/errors"
	"grimm.is/deltafw/internal/flash"
	"grimm.is/deltafw/internal/logging"
	"grimm.is/deltafw/internal/metrics"
)

// DefaultProgressInterval is how many written bytes pass between progress logs.
const DefaultProgressInterval = 64 * 1024

// GlueOptions configures Glue. Zero values are usable.
type GlueOptions struct {
	Logger           *logging.Logger
	Metrics          *metrics.Registry
	ProgressInterval int64
}

// Glue implements Memory over flash regions. Source and patch regions are
// opened for each read; the destination is the run's ImageWriter, which
// holds its claim across calls, so erases go through it as well.
type Glue struct {
	source *flash.Region
	patch  *flash.Region
	dest   *flash.ImageWriter
	cursor Cursor

	logger           *logging.Logger
	metrics          *metrics.Registry
	rate             *metrics.RateCalculator
	progressInterval int64
	nextProgress     int64
}

// NewGlue binds the streams. The cursor starts at (0, 0).
func NewGlue(source, patch *flash.Region, dest *flash.ImageWriter, opts GlueOptions) *Glue {
	logger := opts.Logger
	if logger == nil {
		logger = logging.WithComponent("delta")
	}
	interval := opts.ProgressInterval
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	return &Glue{
		source:           source,
		patch:            patch,
		dest:             dest,
		logger:           logger,
		metrics:          opts.Metrics,
		rate:             metrics.NewRateCalculator(5 * time.Second),
		progressInterval: interval,
		nextProgress:     interval,
	}
}

// Cursor returns a copy of the current offsets.
func (g *Glue) Cursor() Cursor {
	return g.cursor
}

// Read implements Memory.
func (g *Glue) Read(stream Stream, p []byte) error {
	g.count("read")

	var region *flash.Region
	switch stream {
	case StreamSource:
		region = g.source
	case StreamPatch:
		region = g.patch
	default:
		return g.fail(errors.Errorf(errors.KindInternal, "read from unknown stream %d", int(stream)))
	}

	off := g.cursor.Offset(stream)
	if err := region.Read(off, p); err != nil {
		g.logger.Error("Can not read stream", "stream", stream.String(), "partition", string(region.ID()), "offset", off, "size", len(p))
		return g.fail(errors.Attr(err, "stream", stream.String()))
	}

	if g.metrics != nil {
		g.metrics.BytesRead.WithLabelValues(stream.String()).Add(float64(len(p)))
	}
	return nil
}

// Write implements Memory.
func (g *Glue) Write(p []byte, flush bool) error {
	g.count("write")

	if err := g.dest.Write(p, flush); err != nil {
		g.logger.Error("Flash write error", "partition", string(g.dest.ID()), "size", len(p), "flush", flush)
		return g.fail(err)
	}

	n := int64(len(p))
	if g.metrics != nil {
		g.metrics.BytesWritten.Add(float64(n))
	}
	g.rate.Add(n)
	if written := g.dest.BytesWritten(); written >= g.nextProgress {
		g.logger.Info("Writing image", "written", written, "bytes_per_sec", int64(g.rate.Rate()))
		for g.nextProgress <= written {
			g.nextProgress += g.progressInterval
		}
	}
	return nil
}

// Erase implements Memory.
func (g *Glue) Erase(offset, size int64) error {
	g.count("erase")

	if err := g.dest.Erase(offset, size); err != nil {
		g.logger.Error("Can not erase destination", "partition", string(g.dest.ID()), "offset", offset, "size", size)
		return g.fail(err)
	}
	if g.metrics != nil {
		g.metrics.BytesErased.Add(float64(size))
	}
	return nil
}

// Seek implements Memory.
func (g *Glue) Seek(source, patch int64) error {
	g.count("seek")
	g.cursor.Seek(source, patch)
	return nil
}

func (g *Glue) count(op string) {
	if g.metrics != nil {
		g.metrics.Operations.WithLabelValues(op).Inc()
	}
}

func (g *Glue) fail(err error) error {
	if g.metrics != nil {
		g.metrics.Errors.WithLabelValues(errors.GetKind(err).String()).Inc()
	}
	return err
}
