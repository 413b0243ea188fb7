// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flash

import (
	"go.uber.org/multierr"

	"grimm.is/deltafw/internal/errors"
	"grimm.is/deltafw/internal/logging"
)

// Region is a partition accessed with one open/close per operation, so the
// device is free for other consumers between calls.
type Region struct {
	dev    Device
	id     PartitionID
	logger *logging.Logger
}

// NewRegion binds a partition on dev.
func NewRegion(dev Device, id PartitionID, logger *logging.Logger) *Region {
	if logger == nil {
		logger = logging.WithComponent("flash")
	}
	return &Region{
		dev:    dev,
		id:     id,
		logger: logger.With("partition", string(id)),
	}
}

// ID returns the partition this region is bound to.
func (r *Region) ID() PartitionID {
	return r.id
}

// Read fills p from off. It never reports a short read as success.
func (r *Region) Read(off int64, p []byte) error {
	n := int64(len(p))
	return r.withArea(errors.KindReadFailure, off, n, func(a Area) error {
		if err := checkRange(off, n, a.Size()); err != nil {
			return errors.Storage(err, errors.KindReadFailure, string(r.id), off, n, "read outside partition")
		}
		if err := a.Read(off, p); err != nil {
			return errors.Storage(err, errors.KindReadFailure, string(r.id), off, n, "read failed")
		}
		return nil
	})
}

// Erase erases [off, off+length). Arguments are passed to the device as is.
func (r *Region) Erase(off, length int64) error {
	return r.withArea(errors.KindEraseFailure, off, length, func(a Area) error {
		return eraseArea(a, r.id, off, length)
	})
}

func eraseArea(a Area, id PartitionID, off, length int64) error {
	if err := checkRange(off, length, a.Size()); err != nil {
		return errors.Storage(err, errors.KindEraseFailure, string(id), off, length, "erase outside partition")
	}
	if err := a.Erase(off, length); err != nil {
		return errors.Storage(err, errors.KindEraseFailure, string(id), off, length, "erase failed")
	}
	return nil
}

// withArea opens the partition, runs fn and closes the partition on every
// path. A close failure after a successful fn is reported with kind.
func (r *Region) withArea(kind errors.Kind, off, n int64, fn func(Area) error) (err error) {
	area, err := r.dev.Open(r.id)
	if err != nil {
		r.logger.Error("Can not open partition", "error", err)
		return errors.Storage(err, errors.KindDeviceUnavailable, string(r.id), off, n, "open partition")
	}
	defer func() {
		if cerr := area.Close(); cerr != nil {
			r.logger.Warn("Close failed", "error", cerr)
			if err == nil {
				err = errors.Storage(cerr, kind, string(r.id), off, n, "close partition")
			} else {
				err = multierr.Append(err, cerr)
			}
		}
	}()

	if err = fn(area); err != nil {
		r.logger.Error("Storage operation failed", "kind", errors.GetKind(err).String(), "offset", off, "size", n, "error", err)
	}
	return err
}
