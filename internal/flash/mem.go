// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flash

import (
	"fmt"
	"sort"
	"sync"
)

// Op identifies a device operation for fault injection.
type Op string

const (
	OpOpen  Op = "open"
	OpRead  Op = "read"
	OpWrite Op = "write"
	OpErase Op = "erase"
)

// Violation records a program of bytes that were not erased beforehand.
type Violation struct {
	Partition PartitionID
	Offset    int64
	Length    int64
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: write of %d bytes at %d without prior erase", v.Partition, v.Length, v.Offset)
}

// MemDevice is an in-memory Device. It tracks which blocks were erased and
// which bytes were programmed since, records every write that lands on
// bytes not freshly erased, and counts open claims so tests can detect
// leaks. Partitions start in an unknown (not erased) state.
type MemDevice struct {
	// Strict makes writes over non-erased bytes fail instead of only
	// being recorded.
	Strict bool

	mu         sync.Mutex
	blockSize  int
	parts      map[PartitionID]*memPartition
	faults     map[PartitionID]map[Op]error
	violations []Violation
}

type memPartition struct {
	data       []byte
	erased     []bool // per block
	programmed []bool // per byte, since the last erase
	open       bool
	opens      int
}

// NewMemDevice creates an empty device with the given erase block size.
func NewMemDevice(blockSize int) *MemDevice {
	return &MemDevice{
		blockSize: blockSize,
		parts:     make(map[PartitionID]*memPartition),
		faults:    make(map[PartitionID]map[Op]error),
	}
}

// BlockSize returns the erase block size.
func (d *MemDevice) BlockSize() int {
	return d.blockSize
}

// AddPartition creates a partition of size bytes filled with contents
// (the rest is ErasedValue).
func (d *MemDevice) AddPartition(id PartitionID, size int, contents []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	data := make([]byte, size)
	for i := range data {
		data[i] = ErasedValue
	}
	copy(data, contents)

	blocks := (size + d.blockSize - 1) / d.blockSize
	d.parts[id] = &memPartition{
		data:       data,
		erased:     make([]bool, blocks),
		programmed: make([]bool, size),
	}
}

// Contents returns a copy of a partition's bytes.
func (d *MemDevice) Contents(id PartitionID) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.parts[id]
	if !ok {
		return nil
	}
	out := make([]byte, len(p.data))
	copy(out, p.data)
	return out
}

// InjectFault makes every subsequent op on id fail with err. A nil err
// clears the fault.
func (d *MemDevice) InjectFault(id PartitionID, op Op, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.faults[id] == nil {
		d.faults[id] = make(map[Op]error)
	}
	if err == nil {
		delete(d.faults[id], op)
		return
	}
	d.faults[id][op] = err
}

// OpenClaims lists partitions currently claimed.
func (d *MemDevice) OpenClaims() []PartitionID {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ids []PartitionID
	for id, p := range d.parts {
		if p.open {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Opens returns how many times id was successfully opened.
func (d *MemDevice) Opens(id PartitionID) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.parts[id]; ok {
		return p.opens
	}
	return 0
}

// Violations returns the recorded erase-before-write violations.
func (d *MemDevice) Violations() []Violation {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]Violation(nil), d.violations...)
}

// Open implements Device.
func (d *MemDevice) Open(id PartitionID) (Area, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.faults[id][OpOpen]; err != nil {
		return nil, err
	}
	p, ok := d.parts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPartition, id)
	}
	if p.open {
		return nil, fmt.Errorf("%w: %s", ErrBusy, id)
	}
	p.open = true
	p.opens++
	return &memArea{dev: d, id: id, part: p}, nil
}

type memArea struct {
	dev    *MemDevice
	id     PartitionID
	part   *memPartition
	closed bool
}

func (a *memArea) check(op Op) error {
	if a.closed {
		return ErrClosed
	}
	return a.dev.faults[a.id][op]
}

func (a *memArea) Size() int64 {
	return int64(len(a.part.data))
}

func (a *memArea) Read(off int64, p []byte) error {
	a.dev.mu.Lock()
	defer a.dev.mu.Unlock()

	if err := a.check(OpRead); err != nil {
		return err
	}
	if err := checkRange(off, int64(len(p)), a.Size()); err != nil {
		return err
	}
	copy(p, a.part.data[off:])
	return nil
}

func (a *memArea) Write(off int64, p []byte) error {
	a.dev.mu.Lock()
	defer a.dev.mu.Unlock()

	if err := a.check(OpWrite); err != nil {
		return err
	}
	n := int64(len(p))
	if err := checkRange(off, n, a.Size()); err != nil {
		return err
	}

	for i := off; i < off+n; i++ {
		block := i / int64(a.dev.blockSize)
		if !a.part.erased[block] || a.part.programmed[i] {
			v := Violation{Partition: a.id, Offset: off, Length: n}
			a.dev.violations = append(a.dev.violations, v)
			if a.dev.Strict {
				return fmt.Errorf("%s", v)
			}
			break
		}
	}

	copy(a.part.data[off:], p)
	for i := off; i < off+n; i++ {
		a.part.programmed[i] = true
	}
	return nil
}

func (a *memArea) Erase(off, length int64) error {
	a.dev.mu.Lock()
	defer a.dev.mu.Unlock()

	if err := a.check(OpErase); err != nil {
		return err
	}
	if err := checkRange(off, length, a.Size()); err != nil {
		return err
	}
	if err := checkAligned(off, length, a.dev.blockSize); err != nil {
		return err
	}

	for i := off; i < off+length; i++ {
		a.part.data[i] = ErasedValue
		a.part.programmed[i] = false
	}
	bs := int64(a.dev.blockSize)
	for b := off / bs; b < (off+length)/bs; b++ {
		a.part.erased[b] = true
	}
	return nil
}

func (a *memArea) Close() error {
	a.dev.mu.Lock()
	defer a.dev.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	a.closed = true
	a.part.open = false
	return nil
}
