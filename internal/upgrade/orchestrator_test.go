// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package upgrade

import (
	"context"
	"crypto/sha256"
	stderrors "errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/deltafw/internal/boot"
	"grimm.is/deltafw/internal/delta"
	"grimm.is/deltafw/internal/errors"
	"grimm.is/deltafw/internal/flash"
	"grimm.is/deltafw/internal/logging"
	"grimm.is/deltafw/internal/metrics"
	"grimm.is/deltafw/internal/patch"
	"grimm.is/deltafw/internal/testutil"
)

const blockSize = 64

type env struct {
	dev       *flash.MemDevice
	metrics   *metrics.Registry
	requests  []boot.Request
	restarts  int
	slept     []time.Duration
	requestFn func(boot.Request) error
	restartFn func() error
}

func newEnv(t *testing.T, patchBytes []byte) *env {
	t.Helper()
	dev := flash.NewMemDevice(blockSize)
	dev.Strict = true
	dev.AddPartition("slot0", 512, testutil.Ramp(256))
	dev.AddPartition("patch", 512, patchBytes)
	dev.AddPartition("slot1", 512, nil)
	return &env{dev: dev, metrics: metrics.NewRegistry()}
}

func copyAllPatch(t *testing.T) []byte {
	t.Helper()
	p, err := patch.NewBuilder().Copy(256).Bytes(patch.CompressionNone)
	require.NoError(t, err)
	return p
}

func (e *env) orchestrator(t *testing.T, engine delta.Engine, mutate ...func(*Config)) *Orchestrator {
	t.Helper()
	cfg := Config{
		Source:      "slot0",
		Patch:       "patch",
		Destination: "slot1",
		BlockSize:   blockSize,
		Permanent:   true,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	o, err := New(cfg, Options{
		Device: e.dev,
		Engine: engine,
		Requester: boot.RequesterFunc(func(_ context.Context, req boot.Request) error {
			e.requests = append(e.requests, req)
			if e.requestFn != nil {
				return e.requestFn(req)
			}
			return nil
		}),
		Restarter: boot.RestarterFunc(func(context.Context) error {
			e.restarts++
			if e.restartFn != nil {
				return e.restartFn()
			}
			return nil
		}),
		Logger:  logging.Discard(),
		Metrics: e.metrics,
		Sleep:   func(d time.Duration) { e.slept = append(e.slept, d) },
	})
	require.NoError(t, err)
	return o
}

func refEngine() delta.Engine {
	return patch.NewEngine(blockSize, logging.Discard())
}

func TestOrchestrator_CopyPatchEndToEnd(t *testing.T) {
	e := newEnv(t, copyAllPatch(t))
	o := e.orchestrator(t, refEngine())

	require.NoError(t, o.Run(context.Background()))

	assert.Equal(t, StateRebooting, o.State())
	if diff := cmp.Diff(testutil.Ramp(256), e.dev.Contents("slot1")[:256]); diff != "" {
		t.Errorf("destination mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, e.dev.Violations())
	assert.Empty(t, e.dev.OpenClaims())

	require.Len(t, e.requests, 1)
	req := e.requests[0]
	sum := sha256.Sum256(testutil.Ramp(256))
	assert.Equal(t, flash.PartitionID("slot1"), req.Partition)
	assert.True(t, req.Permanent)
	assert.Equal(t, int64(256), req.ImageSize)
	assert.Equal(t, sum[:], req.Digest)
	assert.Equal(t, o.RunID(), req.RunID)
	assert.Equal(t, 1, e.restarts)

	assert.Equal(t, 1.0, promtest.ToFloat64(e.metrics.State.WithLabelValues("rebooting")))
	assert.Equal(t, 0.0, promtest.ToFloat64(e.metrics.State.WithLabelValues("upgrade_requested")))
	assert.Equal(t, 1.0, promtest.ToFloat64(e.metrics.Runs.WithLabelValues("ok")))
}

// countingMemory fails the n-th callback (1-based) with a storage error.
type countingMemory struct {
	delta.Memory
	calls  int
	failAt int
}

func (m *countingMemory) hit() error {
	m.calls++
	if m.calls == m.failAt {
		return errors.New(errors.KindReadFailure, "injected")
	}
	return nil
}

func (m *countingMemory) Read(s delta.Stream, p []byte) error {
	if err := m.hit(); err != nil {
		return err
	}
	return m.Memory.Read(s, p)
}

func (m *countingMemory) Write(p []byte, flush bool) error {
	if err := m.hit(); err != nil {
		return err
	}
	return m.Memory.Write(p, flush)
}

func (m *countingMemory) Erase(off, size int64) error {
	if err := m.hit(); err != nil {
		return err
	}
	return m.Memory.Erase(off, size)
}

func (m *countingMemory) Seek(s, p int64) error {
	if err := m.hit(); err != nil {
		return err
	}
	return m.Memory.Seek(s, p)
}

func failingAt(n int, total *int) delta.Engine {
	inner := refEngine()
	return delta.EngineFunc(func(ctx context.Context, mem delta.Memory) error {
		cm := &countingMemory{Memory: mem, failAt: n}
		err := inner.Apply(ctx, cm)
		if total != nil {
			*total = cm.calls
		}
		return err
	})
}

// Whatever callback fails, the image is never marked bootable.
func TestOrchestrator_EngineFailureAtEveryCall(t *testing.T) {
	p, err := patch.NewBuilder().Copy(100).Insert([]byte("new")).Skip(20).Copy(100).Bytes(patch.CompressionNone)
	require.NoError(t, err)

	var total int
	clean := newEnv(t, p)
	require.NoError(t, clean.orchestrator(t, failingAt(0, &total)).Run(context.Background()))
	require.Greater(t, total, 5)

	for n := 1; n <= total; n++ {
		e := newEnv(t, p)
		o := e.orchestrator(t, failingAt(n, nil))

		err := o.Run(context.Background())
		require.Error(t, err, "call %d", n)
		assert.Equal(t, StateFailed, o.State(), "call %d", n)
		assert.Equal(t, errors.KindReadFailure, errors.GetKind(err), "call %d", n)
		assert.Empty(t, e.requests, "call %d", n)
		assert.Zero(t, e.restarts, "call %d", n)
		assert.Empty(t, e.dev.OpenClaims(), "call %d", n)
	}
}

func TestOrchestrator_RepeatedInitFailuresLeakNothing(t *testing.T) {
	e := newEnv(t, copyAllPatch(t))
	e.dev.InjectFault("slot1", flash.OpOpen, stderrors.New("claimed by bootloader"))

	applied := 0
	engine := delta.EngineFunc(func(context.Context, delta.Memory) error {
		applied++
		return nil
	})

	for i := 0; i < 20; i++ {
		o := e.orchestrator(t, engine)
		err := o.Run(context.Background())
		require.Error(t, err)
		assert.Equal(t, errors.KindDeviceUnavailable, errors.GetKind(err))
		assert.Equal(t, StateFailed, o.State())
	}

	assert.Zero(t, applied, "engine must not run without storage")
	assert.Empty(t, e.dev.OpenClaims())
	assert.Empty(t, e.requests)
	assert.Equal(t, 20.0, promtest.ToFloat64(e.metrics.Runs.WithLabelValues("device_unavailable")))
}

func TestOrchestrator_EngineError(t *testing.T) {
	e := newEnv(t, copyAllPatch(t))
	o := e.orchestrator(t, delta.EngineFunc(func(context.Context, delta.Memory) error {
		return stderrors.New("corrupt patch")
	}))

	err := o.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KindPatchApplication, errors.GetKind(err))
	assert.Equal(t, StateFailed, o.State())
	assert.Same(t, err, o.Err())

	assert.Equal(t, 1, e.dev.Opens("slot1"), "destination was opened")
	assert.Empty(t, e.dev.OpenClaims())
	assert.Empty(t, e.requests)
	assert.Zero(t, e.restarts)
}

func TestOrchestrator_StorageKindPreserved(t *testing.T) {
	e := newEnv(t, copyAllPatch(t))
	e.dev.InjectFault("slot0", flash.OpRead, stderrors.New("ecc"))
	o := e.orchestrator(t, refEngine())

	err := o.Run(context.Background())
	assert.Equal(t, errors.KindReadFailure, errors.GetKind(err))
	assert.Equal(t, "slot0", errors.GetAttributes(err)["partition"])
	assert.Empty(t, e.requests)
}

func TestOrchestrator_UnflushedEngine(t *testing.T) {
	e := newEnv(t, copyAllPatch(t))
	o := e.orchestrator(t, delta.EngineFunc(func(_ context.Context, mem delta.Memory) error {
		if err := mem.Erase(0, blockSize); err != nil {
			return err
		}
		return mem.Write([]byte("partial"), false)
	}))

	err := o.Run(context.Background())
	assert.Equal(t, errors.KindPatchApplication, errors.GetKind(err))
	assert.Empty(t, e.requests)
	assert.Empty(t, e.dev.OpenClaims())
}

func TestOrchestrator_RequestFailure(t *testing.T) {
	e := newEnv(t, copyAllPatch(t))
	e.requestFn = func(boot.Request) error { return stderrors.New("bootloader refused") }
	o := e.orchestrator(t, refEngine())

	err := o.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KindUpgradeRequest, errors.GetKind(err))
	assert.Equal(t, "slot1", errors.GetAttributes(err)["partition"])
	assert.Equal(t, StateFailed, o.State())
	assert.Len(t, e.requests, 1)
	assert.Zero(t, e.restarts)
}

func TestOrchestrator_TestModeAndDelay(t *testing.T) {
	e := newEnv(t, copyAllPatch(t))
	o := e.orchestrator(t, refEngine(), func(c *Config) {
		c.Permanent = false
		c.RestartDelay = 3 * time.Second
	})

	require.NoError(t, o.Run(context.Background()))
	require.Len(t, e.requests, 1)
	assert.False(t, e.requests[0].Permanent)
	assert.Equal(t, []time.Duration{3 * time.Second}, e.slept)
}

func TestOrchestrator_RestartError(t *testing.T) {
	e := newEnv(t, copyAllPatch(t))
	e.restartFn = func() error { return stderrors.New("EPERM") }
	o := e.orchestrator(t, refEngine())

	err := o.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateRebooting, o.State(), "the request stands")
	assert.Len(t, e.requests, 1)
}

func TestOrchestrator_StageFinalizeOrdering(t *testing.T) {
	e := newEnv(t, copyAllPatch(t))
	o := e.orchestrator(t, refEngine())

	assert.Error(t, o.Finalize(context.Background()), "finalize before stage")
	assert.Equal(t, StateUninitialized, o.State())

	require.NoError(t, o.Stage(context.Background()))
	assert.Equal(t, StateUpgradeRequested, o.State())
	assert.Zero(t, e.restarts)

	assert.Error(t, o.Stage(context.Background()), "stage twice")
	require.NoError(t, o.Finalize(context.Background()))
	assert.Equal(t, 1, e.restarts)
}

func TestNew_Validation(t *testing.T) {
	dev := flash.NewMemDevice(blockSize)
	good := Options{
		Device:    dev,
		Engine:    refEngine(),
		Requester: boot.RequesterFunc(func(context.Context, boot.Request) error { return nil }),
		Restarter: &boot.ExitRestarter{},
	}
	cfg := Config{Source: "a", Patch: "b", Destination: "c", BlockSize: blockSize}

	tests := []struct {
		name string
		cfg  func(Config) Config
		opts func(Options) Options
	}{
		{"no device", nil, func(o Options) Options { o.Device = nil; return o }},
		{"no engine", nil, func(o Options) Options { o.Engine = nil; return o }},
		{"no requester", nil, func(o Options) Options { o.Requester = nil; return o }},
		{"no restarter", nil, func(o Options) Options { o.Restarter = nil; return o }},
		{"zero block", func(c Config) Config { c.BlockSize = 0; return c }, nil},
		{"missing patch", func(c Config) Config { c.Patch = ""; return c }, nil},
		{"destination is source", func(c Config) Config { c.Destination = "a"; return c }, nil},
	}

	_, err := New(cfg, good)
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, o := cfg, good
			if tt.cfg != nil {
				c = tt.cfg(c)
			}
			if tt.opts != nil {
				o = tt.opts(o)
			}
			_, err := New(c, o)
			assert.Equal(t, errors.KindValidation, errors.GetKind(err))
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "storage_ready", StateStorageReady.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StatePatchApplied.Terminal())
}
