// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package delta defines the contract between a patch algorithm and storage.
//
// An Engine reconstructs the new image using only the four Memory
// primitives. It never learns which partitions back the source, patch or
// destination streams; Glue resolves that.
package delta

import "context"

// Stream selects one of the two logical input streams.
type Stream int

const (
	StreamSource Stream = iota
	StreamPatch
)

func (s Stream) String() string {
	switch s {
	case StreamSource:
		return "source"
	case StreamPatch:
		return "patch"
	default:
		return "unknown"
	}
}

// Memory is the callback surface handed to an Engine.
type Memory interface {
	// Read fills p from the stream's current cursor offset. It does not
	// advance the cursor.
	Read(stream Stream, p []byte) error
	// Write appends p to the destination image. flush commits any
	// partially filled block.
	Write(p []byte, flush bool) error
	// Erase erases [offset, offset+size) of the destination. Arguments must
	// be erase-block aligned.
	Erase(offset, size int64) error
	// Seek sets both stream offsets. It always succeeds.
	Seek(source, patch int64) error
}

// Engine applies a patch. Implementations must flush their final write.
type Engine interface {
	Apply(ctx context.Context, mem Memory) error
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, mem Memory) error

// Apply calls f.
func (f EngineFunc) Apply(ctx context.Context, mem Memory) error {
	return f(ctx, mem)
}
