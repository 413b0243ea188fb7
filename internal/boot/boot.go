// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package boot hands a freshly written image to the boot subsystem and
// restarts the system so the boot verifier can adopt it.
package boot

import (
	"context"

	"github.com/google/uuid"

	"grimm.is/deltafw/internal/flash"
)

// Request describes the image that should be booted next.
type Request struct {
	RunID     uuid.UUID
	Partition flash.PartitionID
	// Permanent requests skip the trial boot. Test requests revert to the
	// current image unless the new one confirms itself.
	Permanent bool
	ImageSize int64
	Digest    []byte
}

// Mode is the marker spelling of Permanent.
func (r Request) Mode() string {
	if r.Permanent {
		return ModePermanent
	}
	return ModeTest
}

const (
	ModePermanent = "permanent"
	ModeTest      = "test"
)

// Requester marks a written image as the pending upgrade.
type Requester interface {
	RequestUpgrade(ctx context.Context, req Request) error
}

// RequesterFunc adapts a function to Requester.
type RequesterFunc func(ctx context.Context, req Request) error

func (f RequesterFunc) RequestUpgrade(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// Restarter restarts the system. On real hardware Restart does not return.
type Restarter interface {
	Restart(ctx context.Context) error
}

// RestarterFunc adapts a function to Restarter.
type RestarterFunc func(ctx context.Context) error

func (f RestarterFunc) Restart(ctx context.Context) error {
	return f(ctx)
}
