// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package boot

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"

	"grimm.is/deltafw/internal/errors"
)

// Marker is the pending-upgrade record the boot verifier consumes.
type Marker struct {
	RunID       string    `json:"run_id"`
	Partition   string    `json:"partition"`
	Mode        string    `json:"mode"`
	ImageSize   int64     `json:"image_size"`
	SHA256      string    `json:"sha256"`
	RequestedAt time.Time `json:"requested_at"`
}

// MarkerRequester requests upgrades by writing a Marker file. The file is
// replaced atomically, so a reader sees either the old marker or the new one.
type MarkerRequester struct {
	Path string

	now func() time.Time
}

var _ Requester = (*MarkerRequester)(nil)

// NewMarkerRequester creates a requester writing to path.
func NewMarkerRequester(path string) *MarkerRequester {
	return &MarkerRequester{Path: path, now: time.Now}
}

// RequestUpgrade implements Requester.
func (m *MarkerRequester) RequestUpgrade(ctx context.Context, req Request) error {
	if req.Partition == "" {
		return errors.New(errors.KindUpgradeRequest, "upgrade request without partition")
	}
	if req.ImageSize < 0 {
		return errors.Errorf(errors.KindUpgradeRequest, "invalid image size %d", req.ImageSize)
	}

	marker := Marker{
		RunID:       req.RunID.String(),
		Partition:   string(req.Partition),
		Mode:        req.Mode(),
		ImageSize:   req.ImageSize,
		SHA256:      hex.EncodeToString(req.Digest),
		RequestedAt: m.now().UTC(),
	}
	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.KindUpgradeRequest, "encode marker")
	}

	if err := writeAtomic(m.Path, data); err != nil {
		err = errors.Wrap(err, errors.KindUpgradeRequest, "write upgrade marker")
		err = errors.Attr(err, "partition", marker.Partition)
		return errors.Attr(err, "path", m.Path)
	}
	return nil
}

// ReadMarker loads the marker at path. A missing file returns (nil, nil).
func ReadMarker(path string) (*Marker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.KindInternal, "read upgrade marker")
	}

	var marker Marker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "corrupt upgrade marker")
	}
	return &marker, nil
}

func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return multierr.Append(err, tmp.Close())
	}
	if err := tmp.Sync(); err != nil {
		return multierr.Append(err, tmp.Close())
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}

	// The rename is only durable once the directory entry is on disk.
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	return multierr.Combine(d.Sync(), d.Close())
}
