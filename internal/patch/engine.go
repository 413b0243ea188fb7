// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package patch

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zstd"

	"grimm.is/deltafw/internal/delta"
	"grimm.is/deltafw/internal/errors"
	"grimm.is/deltafw/internal/logging"
)

// DefaultChunkSize bounds each source read and destination write.
const DefaultChunkSize = 512

// Engine applies patches in this package's format. It erases destination
// blocks just ahead of the bytes it writes into them.
type Engine struct {
	BlockSize int
	ChunkSize int
	Logger    *logging.Logger
}

var _ delta.Engine = (*Engine)(nil)

// NewEngine creates an engine for a device with the given erase block size.
func NewEngine(blockSize int, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.WithComponent("patch")
	}
	return &Engine{
		BlockSize: blockSize,
		ChunkSize: DefaultChunkSize,
		Logger:    logger,
	}
}

// run is the state of one Apply call. src and patch are the engine's own
// stream positions, pushed to the cursor with Seek before every read.
type run struct {
	mem       delta.Memory
	blockSize int64
	chunk     []byte

	src    int64
	patch  int64
	out    int64
	erased int64
}

// Apply implements delta.Engine.
func (e *Engine) Apply(ctx context.Context, mem delta.Memory) error {
	if e.BlockSize <= 0 {
		return errors.Errorf(errors.KindValidation, "invalid block size %d", e.BlockSize)
	}
	chunk := e.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}

	r := &run{
		mem:       mem,
		blockSize: int64(e.BlockSize),
		chunk:     make([]byte, chunk),
	}

	raw := make([]byte, HeaderSize)
	if err := r.readPatch(raw); err != nil {
		return err
	}
	var hdr Header
	if err := hdr.UnmarshalBinary(raw); err != nil {
		return err
	}
	e.Logger.Info("Applying patch",
		"compression", hdr.Compression.String(),
		"target_size", hdr.TargetSize,
		"payload_size", hdr.PayloadSize)

	var body io.Reader = &patchStream{r: r, remaining: int64(hdr.PayloadSize)}
	if hdr.Compression == CompressionZstd {
		dec, err := zstd.NewReader(body, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return errors.Wrap(err, errors.KindPatchApplication, "init zstd decoder")
		}
		defer dec.Close()
		body = dec
	}

	if err := r.exec(bufio.NewReader(body)); err != nil {
		return err
	}
	if r.out != int64(hdr.TargetSize) {
		return errors.Errorf(errors.KindPatchApplication, "patch produced %d bytes, header declares %d", r.out, hdr.TargetSize)
	}

	if err := mem.Write(nil, true); err != nil {
		return err
	}
	e.Logger.Info("Patch applied", "written", r.out)
	return nil
}

func (r *run) exec(br *bufio.Reader) error {
	for {
		op, err := br.ReadByte()
		if err != nil {
			return opErr(err, "read op")
		}

		switch op {
		case opEnd:
			return nil

		case opCopy:
			n, err := binary.ReadUvarint(br)
			if err != nil {
				return opErr(err, "read copy length")
			}
			if err := r.copySource(int64(n)); err != nil {
				return err
			}

		case opInsert:
			n, err := binary.ReadUvarint(br)
			if err != nil {
				return opErr(err, "read insert length")
			}
			if err := r.insert(br, int64(n)); err != nil {
				return err
			}

		case opSkip:
			d, err := binary.ReadVarint(br)
			if err != nil {
				return opErr(err, "read skip distance")
			}
			if r.src+d < 0 {
				return errors.Errorf(errors.KindPatchApplication, "skip of %d moves source before start", d)
			}
			r.src += d

		default:
			return errors.Errorf(errors.KindPatchApplication, "unknown op 0x%02x", op)
		}
	}
}

func (r *run) copySource(n int64) error {
	for n > 0 {
		k := min(n, int64(len(r.chunk)))
		buf := r.chunk[:k]

		if err := r.mem.Seek(r.src, r.patch); err != nil {
			return err
		}
		if err := r.mem.Read(delta.StreamSource, buf); err != nil {
			return err
		}
		if err := r.emit(buf); err != nil {
			return err
		}
		r.src += k
		n -= k
	}
	return nil
}

func (r *run) insert(br *bufio.Reader, n int64) error {
	for n > 0 {
		k := min(n, int64(len(r.chunk)))
		buf := r.chunk[:k]
		if _, err := io.ReadFull(br, buf); err != nil {
			return opErr(err, "read insert data")
		}
		if err := r.emit(buf); err != nil {
			return err
		}
		n -= k
	}
	return nil
}

// emit erases the blocks p will land in, then writes p.
func (r *run) emit(p []byte) error {
	end := r.out + int64(len(p))
	if end > r.erased {
		upTo := (end + r.blockSize - 1) / r.blockSize * r.blockSize
		if err := r.mem.Erase(r.erased, upTo-r.erased); err != nil {
			return err
		}
		r.erased = upTo
	}
	if err := r.mem.Write(p, false); err != nil {
		return err
	}
	r.out = end
	return nil
}

func (r *run) readPatch(p []byte) error {
	if err := r.mem.Seek(r.src, r.patch); err != nil {
		return err
	}
	if err := r.mem.Read(delta.StreamPatch, p); err != nil {
		return err
	}
	r.patch += int64(len(p))
	return nil
}

// patchStream reads the op payload through the Memory callbacks.
type patchStream struct {
	r         *run
	remaining int64
}

func (s *patchStream) Read(p []byte) (int, error) {
	if s.remaining == 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}
	if len(p) > len(s.r.chunk) {
		p = p[:len(s.r.chunk)]
	}
	if err := s.r.readPatch(p); err != nil {
		return 0, err
	}
	s.remaining -= int64(len(p))
	return len(p), nil
}

// opErr keeps storage failures as they are and tags everything else as a
// malformed patch.
func opErr(err error, msg string) error {
	if errors.GetKind(err).IsStorage() {
		return err
	}
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return errors.Wrap(err, errors.KindPatchApplication, msg)
}
