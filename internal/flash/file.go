// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flash

import (
	"fmt"
	"os"

	"go.uber.org/multierr"
)

// FilePartition maps a partition onto a file or block device node.
type FilePartition struct {
	Path string
	// Size in bytes. Zero means the size of the file at open time.
	Size int64
}

// FileDevice serves partitions from files (or /dev/mtdblock* style nodes).
// Claims are exclusive non-blocking flocks on the backing file, so two
// partitions must not share a path.
type FileDevice struct {
	blockSize  int
	partitions map[PartitionID]FilePartition
}

// NewFileDevice creates a device with the given erase block size.
func NewFileDevice(blockSize int, partitions map[PartitionID]FilePartition) *FileDevice {
	return &FileDevice{
		blockSize:  blockSize,
		partitions: partitions,
	}
}

// Open implements Device.
func (d *FileDevice) Open(id PartitionID) (Area, error) {
	spec, ok := d.partitions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPartition, id)
	}

	f, err := os.OpenFile(spec.Path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", spec.Path, err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrBusy, spec.Path, err)
	}

	size := spec.Size
	if size == 0 {
		info, err := f.Stat()
		if err != nil {
			return nil, multierr.Combine(err, unlockFile(f), f.Close())
		}
		size = info.Size()
	}

	return &fileArea{f: f, size: size, blockSize: d.blockSize}, nil
}

type fileArea struct {
	f         *os.File
	size      int64
	blockSize int
}

func (a *fileArea) Size() int64 {
	return a.size
}

func (a *fileArea) Read(off int64, p []byte) error {
	if a.f == nil {
		return ErrClosed
	}
	if err := checkRange(off, int64(len(p)), a.size); err != nil {
		return err
	}
	// ReadAt returns a non-nil error whenever n < len(p).
	_, err := a.f.ReadAt(p, off)
	return err
}

func (a *fileArea) Write(off int64, p []byte) error {
	if a.f == nil {
		return ErrClosed
	}
	if err := checkRange(off, int64(len(p)), a.size); err != nil {
		return err
	}
	_, err := a.f.WriteAt(p, off)
	return err
}

func (a *fileArea) Erase(off, length int64) error {
	if a.f == nil {
		return ErrClosed
	}
	if err := checkRange(off, length, a.size); err != nil {
		return err
	}
	if err := checkAligned(off, length, a.blockSize); err != nil {
		return err
	}

	block := make([]byte, a.blockSize)
	for i := range block {
		block[i] = ErasedValue
	}
	for pos := off; pos < off+length; pos += int64(a.blockSize) {
		if _, err := a.f.WriteAt(block, pos); err != nil {
			return err
		}
	}
	return nil
}

func (a *fileArea) Close() error {
	if a.f == nil {
		return ErrClosed
	}
	f := a.f
	a.f = nil
	return multierr.Combine(f.Sync(), unlockFile(f), f.Close())
}
