// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flash

import (
	"crypto/sha256"
	"hash"

	"grimm.is/deltafw/internal/errors"
)

// ImageWriter is the buffered write context for the destination partition.
// It claims the partition on open and keeps it until Close. Bytes are
// appended sequentially from offset 0 and programmed one full block at a
// time; a flush programs the trailing partial block padded with ErasedValue.
type ImageWriter struct {
	id        PartitionID
	area      Area
	blockSize int

	buf       []byte
	committed int64 // device offset of the next block to program
	accepted  int64 // logical image bytes handed to Write
	sum       hash.Hash
}

// OpenImageWriter claims id on dev. On error nothing is left open.
func OpenImageWriter(dev Device, id PartitionID, blockSize int) (*ImageWriter, error) {
	if blockSize <= 0 {
		return nil, errors.Errorf(errors.KindValidation, "invalid block size %d", blockSize)
	}
	area, err := dev.Open(id)
	if err != nil {
		return nil, errors.Storage(err, errors.KindDeviceUnavailable, string(id), 0, 0, "open image writer")
	}
	return &ImageWriter{
		id:        id,
		area:      area,
		blockSize: blockSize,
		buf:       make([]byte, 0, blockSize),
		sum:       sha256.New(),
	}, nil
}

// ID returns the destination partition.
func (w *ImageWriter) ID() PartitionID {
	return w.id
}

// Write appends p. Every block that fills up is programmed immediately; when
// flush is set the remaining partial block is padded and programmed too.
func (w *ImageWriter) Write(p []byte, flush bool) error {
	if w.area == nil {
		return errors.Storage(ErrClosed, errors.KindWriteFailure, string(w.id), w.committed, int64(len(p)), "write after close")
	}

	w.sum.Write(p)
	w.accepted += int64(len(p))

	for len(p) > 0 {
		n := copy(w.buf[len(w.buf):w.blockSize], p)
		w.buf = w.buf[:len(w.buf)+n]
		p = p[n:]
		if len(w.buf) == w.blockSize {
			if err := w.commit(); err != nil {
				return err
			}
		}
	}

	if flush && len(w.buf) > 0 {
		for len(w.buf) < w.blockSize {
			w.buf = append(w.buf, ErasedValue)
		}
		return w.commit()
	}
	return nil
}

func (w *ImageWriter) commit() error {
	off := w.committed
	n := int64(len(w.buf))
	if err := checkRange(off, n, w.area.Size()); err != nil {
		return errors.Storage(err, errors.KindWriteFailure, string(w.id), off, n, "image exceeds partition")
	}
	if err := w.area.Write(off, w.buf); err != nil {
		return errors.Storage(err, errors.KindWriteFailure, string(w.id), off, n, "write failed")
	}
	w.committed += n
	w.buf = w.buf[:0]
	return nil
}

// Erase erases a range of the destination through the held claim.
func (w *ImageWriter) Erase(off, length int64) error {
	if w.area == nil {
		return errors.Storage(ErrClosed, errors.KindEraseFailure, string(w.id), off, length, "erase after close")
	}
	return eraseArea(w.area, w.id, off, length)
}

// Buffered is the number of accepted bytes not yet programmed.
func (w *ImageWriter) Buffered() int {
	return len(w.buf)
}

// BytesWritten is the logical image size accepted so far, without padding.
func (w *ImageWriter) BytesWritten() int64 {
	return w.accepted
}

// Digest is the SHA-256 of the logical image bytes accepted so far.
func (w *ImageWriter) Digest() []byte {
	return w.sum.Sum(nil)
}

// Close releases the destination. Buffered bytes that were never flushed are
// dropped. Close is idempotent.
func (w *ImageWriter) Close() error {
	if w.area == nil {
		return nil
	}
	area := w.area
	w.area = nil
	if err := area.Close(); err != nil {
		return errors.Storage(err, errors.KindWriteFailure, string(w.id), w.committed, 0, "close image writer")
	}
	return nil
}
