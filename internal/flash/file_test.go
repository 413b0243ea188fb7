// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flash

import (
	"bytes"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/deltafw/internal/errors"
	"grimm.is/deltafw/internal/logging"
)

func newFileDevice(t *testing.T) (*FileDevice, string) {
	t.Helper()
	dir := t.TempDir()

	slot0 := filepath.Join(dir, "slot0.bin")
	require.NoError(t, os.WriteFile(slot0, testImage(256), 0644))
	slot1 := filepath.Join(dir, "slot1.bin")
	require.NoError(t, os.WriteFile(slot1, make([]byte, 256), 0644))

	dev := NewFileDevice(64, map[PartitionID]FilePartition{
		"slot0": {Path: slot0},
		"slot1": {Path: slot1, Size: 256},
		"gone":  {Path: filepath.Join(dir, "missing.bin")},
	})
	return dev, slot1
}

func TestFileDevice_Read(t *testing.T) {
	dev, _ := newFileDevice(t)
	r := NewRegion(dev, "slot0", logging.Discard())

	buf := make([]byte, 32)
	require.NoError(t, r.Read(200, buf))
	assert.Equal(t, testImage(256)[200:232], buf)

	err := r.Read(240, make([]byte, 32))
	assert.Equal(t, errors.KindReadFailure, errors.GetKind(err))
}

func TestFileDevice_EraseAndWrite(t *testing.T) {
	dev, path := newFileDevice(t)

	w, err := OpenImageWriter(dev, "slot1", 64)
	require.NoError(t, err)
	require.NoError(t, w.Erase(0, 128))
	require.NoError(t, w.Write([]byte("firmware"), true))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("firmware"), data[:8])
	assert.Equal(t, bytes.Repeat([]byte{ErasedValue}, 120), data[8:128])
	assert.Equal(t, make([]byte, 128), data[128:], "bytes outside the erased range are untouched")
}

func TestFileDevice_MisalignedErase(t *testing.T) {
	dev, _ := newFileDevice(t)
	r := NewRegion(dev, "slot1", logging.Discard())

	err := r.Erase(32, 64)
	assert.Equal(t, errors.KindEraseFailure, errors.GetKind(err))
	assert.True(t, stderrors.Is(err, ErrMisaligned))
}

func TestFileDevice_OpenErrors(t *testing.T) {
	dev, _ := newFileDevice(t)

	_, err := dev.Open("nope")
	assert.True(t, stderrors.Is(err, ErrUnknownPartition))

	_, err = dev.Open("gone")
	assert.True(t, stderrors.Is(err, os.ErrNotExist))
}

func TestFileDevice_CloseTwice(t *testing.T) {
	dev, _ := newFileDevice(t)

	a, err := dev.Open("slot0")
	require.NoError(t, err)
	assert.Equal(t, int64(256), a.Size())
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Close(), ErrClosed)
	assert.ErrorIs(t, a.Read(0, make([]byte, 1)), ErrClosed)
}
