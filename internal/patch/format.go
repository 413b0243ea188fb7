// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package patch implements a sequential delta format on top of delta.Memory.
//
// Layout: a 16 byte little-endian header followed by an op stream, which may
// be zstd compressed.
//
//	magic "DFWP" | version u8 | compression u8 | reserved u16 | target size u32 | payload size u32
//
// Ops:
//
//	0x00             end of patch
//	0x01 uvarint n   copy n bytes from the source at the source position
//	0x02 uvarint n   insert the next n bytes of the op stream
//	0x03 varint d    move the source position by d
package patch

import (
	"bytes"
	"encoding/binary"

	"github.com/klauspost/compress/zstd"

	"grimm.is/deltafw/internal/errors"
)

const (
	HeaderSize = 16
	Version    = 1
)

var magic = [4]byte{'D', 'F', 'W', 'P'}

// Compression of the op stream.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

const (
	opEnd    byte = 0x00
	opCopy   byte = 0x01
	opInsert byte = 0x02
	opSkip   byte = 0x03
)

// Header describes a patch.
type Header struct {
	Compression Compression
	TargetSize  uint32
	PayloadSize uint32
}

// MarshalBinary encodes the header.
func (h Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	copy(buf, magic[:])
	buf[4] = Version
	buf[5] = byte(h.Compression)
	binary.LittleEndian.PutUint32(buf[8:], h.TargetSize)
	binary.LittleEndian.PutUint32(buf[12:], h.PayloadSize)
	return buf, nil
}

// UnmarshalBinary decodes and validates a header.
func (h *Header) UnmarshalBinary(buf []byte) error {
	if len(buf) < HeaderSize {
		return errors.Errorf(errors.KindPatchApplication, "patch header too short: %d bytes", len(buf))
	}
	if !bytes.Equal(buf[:4], magic[:]) {
		return errors.New(errors.KindPatchApplication, "bad patch magic")
	}
	if buf[4] != Version {
		return errors.Errorf(errors.KindPatchApplication, "unsupported patch version %d", buf[4])
	}
	c := Compression(buf[5])
	if c != CompressionNone && c != CompressionZstd {
		return errors.Errorf(errors.KindPatchApplication, "unsupported compression %d", buf[5])
	}
	h.Compression = c
	h.TargetSize = binary.LittleEndian.Uint32(buf[8:])
	h.PayloadSize = binary.LittleEndian.Uint32(buf[12:])
	return nil
}

// Builder assembles a patch op by op.
type Builder struct {
	ops    bytes.Buffer
	target int64
}

// NewBuilder creates an empty patch.
func NewBuilder() *Builder {
	return &Builder{}
}

// Copy copies n source bytes into the target.
func (b *Builder) Copy(n int) *Builder {
	b.ops.WriteByte(opCopy)
	b.ops.Write(binary.AppendUvarint(nil, uint64(n)))
	b.target += int64(n)
	return b
}

// Insert writes literal data into the target.
func (b *Builder) Insert(data []byte) *Builder {
	b.ops.WriteByte(opInsert)
	b.ops.Write(binary.AppendUvarint(nil, uint64(len(data))))
	b.ops.Write(data)
	b.target += int64(len(data))
	return b
}

// Skip moves the source position by d bytes.
func (b *Builder) Skip(d int64) *Builder {
	b.ops.WriteByte(opSkip)
	b.ops.Write(binary.AppendVarint(nil, d))
	return b
}

// Bytes terminates the op stream and returns the encoded patch.
func (b *Builder) Bytes(c Compression) ([]byte, error) {
	body := append(append([]byte(nil), b.ops.Bytes()...), opEnd)

	switch c {
	case CompressionNone:
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
		if err != nil {
			return nil, err
		}
		body = enc.EncodeAll(body, nil)
		enc.Close()
	default:
		return nil, errors.Errorf(errors.KindValidation, "unsupported compression %d", c)
	}

	hdr, _ := Header{
		Compression: c,
		TargetSize:  uint32(b.target),
		PayloadSize: uint32(len(body)),
	}.MarshalBinary()
	return append(hdr, body...), nil
}
