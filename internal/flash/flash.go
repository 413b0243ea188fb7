// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package flash provides access to erase-block-oriented storage partitions.
//
// A Device hands out exclusive Areas for named partitions. Region wraps a
// partition with per-call scoped access (open, operate, close) and
// ImageWriter holds the destination partition open for a whole update,
// buffering writes into full blocks.
package flash

import "errors"

// ErasedValue is the byte value of erased storage. Both shipped drivers pad
// the final partial block of a flushed image with it.
const ErasedValue byte = 0xFF

// PartitionID names a physical partition. It is opaque to everything except
// the Device that resolves it.
type PartitionID string

// Device is the storage driver boundary.
type Device interface {
	// Open claims exclusive access to a partition. The returned Area must be
	// closed exactly once before the partition can be opened again.
	Open(id PartitionID) (Area, error)
}

// Area is a claimed partition. Offsets are relative to the partition start.
type Area interface {
	// Read fills p completely from off or fails; short reads are errors.
	Read(off int64, p []byte) error
	// Write programs p at off. Callers must have erased the range first.
	Write(off int64, p []byte) error
	// Erase resets [off, off+length) to ErasedValue. Both arguments must be
	// aligned to the device block size; the area does not round.
	Erase(off, length int64) error
	// Size is the partition size in bytes.
	Size() int64
	Close() error
}

var (
	ErrUnknownPartition = errors.New("unknown partition")
	ErrBusy             = errors.New("partition already claimed")
	ErrClosed           = errors.New("area is closed")
	ErrOutOfRange       = errors.New("range outside partition")
	ErrMisaligned       = errors.New("erase range not block aligned")
)

// checkRange reports whether [off, off+n) lies inside a partition of size.
func checkRange(off, n, size int64) error {
	if off < 0 || n < 0 || off > size || n > size-off {
		return ErrOutOfRange
	}
	return nil
}

// checkAligned validates an erase request against the block size.
func checkAligned(off, n int64, blockSize int) error {
	bs := int64(blockSize)
	if bs <= 0 || off%bs != 0 || n%bs != 0 {
		return ErrMisaligned
	}
	return nil
}
