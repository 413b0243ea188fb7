// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package delta

// Cursor tracks one offset per stream. Bounds are not checked here; the
// storage read rejects out-of-range offsets.
type Cursor struct {
	Source int64
	Patch  int64
}

// Seek sets both offsets.
func (c *Cursor) Seek(source, patch int64) {
	c.Source = source
	c.Patch = patch
}

// Offset returns the offset of stream.
func (c *Cursor) Offset(stream Stream) int64 {
	if stream == StreamSource {
		return c.Source
	}
	return c.Patch
}
