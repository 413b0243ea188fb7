// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/deltafw/internal/boot"
	"grimm.is/deltafw/internal/patch"
	"grimm.is/deltafw/internal/testutil"
)

type workspace struct {
	dir      string
	config   string
	slot0    []byte
	slot1    string
	marker   string
	textfile string
}

func newWorkspace(t *testing.T, patchBytes []byte) *workspace {
	t.Helper()
	dir := t.TempDir()
	w := &workspace{
		dir:      dir,
		config:   filepath.Join(dir, "deltafw.hcl"),
		slot1:    filepath.Join(dir, "slot1.bin"),
		marker:   filepath.Join(dir, "state", "pending.json"),
		textfile: filepath.Join(dir, "deltafw.prom"),
	}

	w.slot0 = append(testutil.Ramp(256), make([]byte, 768)...)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "slot0.bin"), w.slot0, 0o644))
	require.NoError(t, os.WriteFile(w.slot1, make([]byte, 1024), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "patch.bin"), patchBytes, 0o644))

	hcl := fmt.Sprintf(`
block_size  = 512
source      = "slot0"
patch       = "patch"
destination = "slot1"

partition "slot0" {
  path = %q
  size = 2 * 512
}
partition "slot1" {
  path = %q
}
partition "patch" {
  path = %q
}

boot {
  marker_path = %q
}
restart {
  mode = "exit"
}
metrics {
  textfile = %q
}
log {
  format = "json"
}
`, filepath.Join(dir, "slot0.bin"), w.slot1, filepath.Join(dir, "patch.bin"), w.marker, w.textfile)
	require.NoError(t, os.WriteFile(w.config, []byte(hcl), 0o644))
	return w
}

func TestRunUpgrade_Success(t *testing.T) {
	p, err := patch.NewBuilder().Copy(256).Bytes(patch.CompressionZstd)
	require.NoError(t, err)
	w := newWorkspace(t, p)

	var logs bytes.Buffer
	code := RunUpgrade(context.Background(), w.config, &logs)
	require.Equal(t, 0, code, logs.String())

	got, err := os.ReadFile(w.slot1)
	require.NoError(t, err)
	assert.Equal(t, w.slot0[:256], got[:256])
	assert.Equal(t, testutil.Fill(256, 0xFF), got[256:512], "final block padded")
	assert.Equal(t, make([]byte, 512), got[512:], "untouched tail")

	m, err := boot.ReadMarker(w.marker)
	require.NoError(t, err)
	require.NotNil(t, m)
	sum := sha256.Sum256(w.slot0[:256])
	assert.Equal(t, "slot1", m.Partition)
	assert.Equal(t, boot.ModePermanent, m.Mode)
	assert.Equal(t, int64(256), m.ImageSize)
	assert.Equal(t, hex.EncodeToString(sum[:]), m.SHA256)

	prom, err := os.ReadFile(w.textfile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `deltafw_runs_total{result="ok"} 1`)

	assert.Contains(t, logs.String(), `"msg":"Delta firmware update"`)
	assert.Contains(t, logs.String(), `"msg":"New firmware written, rebooting"`)
}

func TestRunUpgrade_BadPatch(t *testing.T) {
	w := newWorkspace(t, []byte("definitely not a patch"))

	var logs bytes.Buffer
	code := RunUpgrade(context.Background(), w.config, &logs)
	assert.Equal(t, 1, code)

	_, err := os.Stat(w.marker)
	assert.True(t, os.IsNotExist(err), "no marker after a failed run")

	prom, err := os.ReadFile(w.textfile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `deltafw_runs_total{result="patch_application_failure"} 1`)
	assert.Contains(t, logs.String(), `"kind":"patch_application_failure"`)
}

func TestRunUpgrade_MissingDestination(t *testing.T) {
	p, err := patch.NewBuilder().Copy(256).Bytes(patch.CompressionNone)
	require.NoError(t, err)
	w := newWorkspace(t, p)
	require.NoError(t, os.Remove(w.slot1))

	var logs bytes.Buffer
	assert.Equal(t, 1, RunUpgrade(context.Background(), w.config, &logs))
	assert.Contains(t, logs.String(), `"kind":"device_unavailable"`)

	_, err = os.Stat(w.marker)
	assert.True(t, os.IsNotExist(err))
}

func TestRunUpgrade_ReplacesPendingMarker(t *testing.T) {
	p, err := patch.NewBuilder().Copy(256).Bytes(patch.CompressionNone)
	require.NoError(t, err)
	w := newWorkspace(t, p)

	var logs bytes.Buffer
	require.Equal(t, 0, RunUpgrade(context.Background(), w.config, &logs), logs.String())
	first, err := boot.ReadMarker(w.marker)
	require.NoError(t, err)

	logs.Reset()
	require.Equal(t, 0, RunUpgrade(context.Background(), w.config, &logs), logs.String())
	second, err := boot.ReadMarker(w.marker)
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Contains(t, logs.String(), "An upgrade is already pending")
}

func TestRunUpgrade_BadConfig(t *testing.T) {
	var logs bytes.Buffer
	assert.Equal(t, 1, RunUpgrade(context.Background(), filepath.Join(t.TempDir(), "missing.hcl"), &logs))
	assert.Contains(t, logs.String(), "Failed to load config")
}

func TestConfigPath(t *testing.T) {
	t.Setenv(ConfigEnv, "")
	t.Setenv("DELTAFW_CONFIG_DIR", "")
	t.Setenv("DELTAFW_PREFIX", "")
	assert.Equal(t, "/etc/deltafw/deltafw.hcl", ConfigPath())

	t.Setenv(ConfigEnv, "/tmp/x.yaml")
	assert.Equal(t, "/tmp/x.yaml", ConfigPath())
}
