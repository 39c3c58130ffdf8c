package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"sensorhub/internal/config"
	"sensorhub/internal/factory"
	"sensorhub/internal/metrics"
	"sensorhub/internal/router"
	"sensorhub/pkg/component"
	"sensorhub/pkg/plugin"
	"sensorhub/pkg/testutil"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stuckDevice ignores cancellation until released.
type stuckDevice struct {
	*component.BaseDevice
	release chan struct{}
}

func (d *stuckDevice) Run(ctx context.Context) error {
	<-d.release
	return nil
}

// blockingReceiver holds the notifying sensor until released.
type blockingReceiver struct {
	name    string
	entered chan struct{}
	once    sync.Once
	release chan struct{}
}

func (r *blockingReceiver) Name() string { return r.name }

func (r *blockingReceiver) Update(*component.Sensor) error {
	r.once.Do(func() { close(r.entered) })
	<-r.release
	return nil
}

func (r *blockingReceiver) Close() error { return nil }

type hubFixture struct {
	env       *testutil.TestEnv
	receivers *testutil.RecordingReceiverFactory
	builder   *factory.Factory
	release   chan struct{}
	blocking  *blockingReceiver
}

func newFixture(t *testing.T) *hubFixture {
	t.Helper()
	f := &hubFixture{
		env:       testutil.NewTestEnv(t),
		receivers: testutil.NewRecordingReceiverFactory(),
		release:   make(chan struct{}),
	}
	f.blocking = &blockingReceiver{name: "blocking", entered: make(chan struct{}), release: f.release}
	registry := plugin.NewRegistry()
	require.NoError(t, registry.Register(plugin.FactoryInfo{Name: "Dev4b", Kind: plugin.KindDevice, Factory: testutil.ScriptedDeviceFactory}))
	require.NoError(t, registry.Register(plugin.FactoryInfo{Name: "ConsoleOutput", Kind: plugin.KindReceiver, Factory: f.receivers.Factory()}))
	require.NoError(t, registry.Register(plugin.FactoryInfo{
		Name: "Stuck", Kind: plugin.KindDevice,
		Factory: func(ctx *plugin.Context, name string, _ component.Options) (component.Component, error) {
			s := component.NewSensor("S1", "count", "1", ctx.Logger)
			return &stuckDevice{BaseDevice: component.NewBaseDevice(name, ctx.Logger, ctx.Clock, s), release: f.release}, nil
		},
	}))

	require.NoError(t, registry.Register(plugin.FactoryInfo{
		Name: "BlockingOutput", Kind: plugin.KindReceiver,
		Factory: func(*plugin.Context, string, component.Options) (component.Component, error) {
			return f.blocking, nil
		},
	}))

	f.env.SignedPlugin(t, "vendor.zip", map[string]string{
		"Dev4b":          "kind: device\n",
		"ConsoleOutput":  "kind: receiver\n",
		"Stuck":          "kind: device\n",
		"BlockingOutput": "kind: receiver\n",
	}, nil)

	l, _ := factory.NewLoader(factory.Sources{Trust: f.env.TrustConfig(), PluginDirs: []string{f.env.PluginDir}}, registry, f.env.Context, zap.NewNop())
	f.builder = factory.New(l, zap.NewNop())
	return f
}

func (f *hubFixture) hub(t *testing.T, doc string, opts Options) *Hub {
	t.Helper()
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	if opts.Clock == nil {
		opts.Clock = f.env.Clock
	}
	return New(cfg, f.builder, opts)
}

func TestRun_SingleCycleDeliversOnce(t *testing.T) {
	f := newFixture(t)
	h := f.hub(t, `
devices:
  - {name: dev1, type: Dev4b, sensors: [ADXL345, BMP180P, BMP180T]}
receivers:
  - {name: console, type: ConsoleOutput}
routes:
  - [dev1, ADXL345, console]
`, Options{RunDuration: -1})

	require.NoError(t, h.Run(context.Background()))
	require.NoError(t, h.Shutdown(time.Second))

	console := f.receivers.Get("console")
	updates := console.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, "ADXL345", updates[0].Sensor)
	assert.Equal(t, 1.0, updates[0].Value.Float())
	assert.Equal(t, f.env.Clock.Now(), updates[0].Timestamp)
	assert.Equal(t, 1, console.Closes())
}

func TestRun_FailingReceiverDoesNotStopOthers(t *testing.T) {
	f := newFixture(t)
	h := f.hub(t, `
devices:
  - {name: dev1, type: Dev4b, sensors: [S1], cycles: 3, interval: 0s}
receivers:
  - {name: bad, type: ConsoleOutput, fail: true}
  - {name: worse, type: ConsoleOutput, panic: true}
  - {name: good, type: ConsoleOutput}
routes:
  - [dev1, S1, bad]
  - [dev1, S1, worse]
  - [dev1, S1, good]
`, Options{RunDuration: -1})

	require.NoError(t, h.Run(context.Background()))
	require.NoError(t, h.Shutdown(time.Second))

	assert.Equal(t, 3, f.receivers.Get("good").UpdateCount())
	assert.Equal(t, 3, f.receivers.Get("bad").UpdateCount())
	assert.Equal(t, 3, f.receivers.Get("worse").UpdateCount())
}

func TestStart_UnresolvedRouteFailsStartup(t *testing.T) {
	f := newFixture(t)
	h := f.hub(t, `
devices:
  - {name: dev1, type: Dev4b, sensors: [ADXL345]}
receivers:
  - {name: console, type: ConsoleOutput}
routes:
  - [dev1, ADXL345, console]
  - [dev1, ADXL345, ghost]
`, Options{})

	err := h.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, router.ErrRouteUnresolved)
	assert.Empty(t, h.Devices())
	assert.Equal(t, 1, f.receivers.Get("console").Closes())
	assert.NoError(t, h.Shutdown(time.Second))
}

func TestStart_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr error
	}{
		{
			name:    "malformed route",
			doc:     "receivers:\n  - {name: console, type: ConsoleOutput}\nroutes:\n  - [dev1, S1]\n",
			wantErr: factory.ErrMalformedRoute,
		},
		{
			name:    "duplicate receiver",
			doc:     "receivers:\n  - {name: console, type: ConsoleOutput}\n  - {name: console, type: ConsoleOutput}\n",
			wantErr: factory.ErrDuplicateName,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			h := f.hub(t, tt.doc, Options{})
			err := h.Start(context.Background())
			assert.ErrorIs(t, err, tt.wantErr)
			if r := f.receivers.Get("console"); r != nil {
				assert.Equal(t, 1, r.Closes())
			}
		})
	}
}

func TestStart_FailedInitializationSkipsDevice(t *testing.T) {
	f := newFixture(t)
	h := f.hub(t, `
devices:
  - {name: dev1, type: Dev4b, sensors: [A], fail_init: true}
  - {name: dev2, type: Dev4b, sensors: [B], cycles: 2, interval: 0s}
receivers:
  - {name: console, type: ConsoleOutput}
routes:
  - [dev1, A, console]
  - [dev2, B, console]
`, Options{RunDuration: -1})

	require.NoError(t, h.Run(context.Background()))
	require.NoError(t, h.Shutdown(time.Second))

	require.Len(t, h.Devices(), 1)
	assert.Equal(t, "dev2", h.Devices()[0].Name())
	assert.Equal(t, []router.Route{{Device: "dev2", Sensor: "B", Receiver: "console"}}, h.Routes())

	failures := h.Failures()
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], ErrDeviceInitialization)
	assert.ErrorIs(t, failures[0], testutil.ErrInitFailed)
	assert.Contains(t, failures[0].Error(), "dev1")

	console := f.receivers.Get("console")
	updates := console.Updates()
	require.Len(t, updates, 2)
	assert.Empty(t, testutil.FilterUpdates(updates, "A"))
	assert.Equal(t, 1, console.Closes())
}

func TestStart_Twice(t *testing.T) {
	f := newFixture(t)
	h := f.hub(t, "devices:\n  - {name: dev1, type: Dev4b}\n", Options{})
	require.NoError(t, h.Start(context.Background()))
	assert.ErrorIs(t, h.Start(context.Background()), ErrAlreadyStarted)
	require.NoError(t, h.Shutdown(time.Second))
}

func TestRun_WindowElapses(t *testing.T) {
	f := newFixture(t)
	h := f.hub(t, `
devices:
  - {name: dev1, type: Dev4b, sensors: [S1], cycles: 0, interval: 1s}
receivers:
  - {name: console, type: ConsoleOutput}
routes:
  - [dev1, S1, console]
`, Options{RunDuration: 10 * time.Second})

	done := make(chan error, 1)
	go func() { done <- h.Run(context.Background()) }()

	// device sleep plus run window
	require.Eventually(t, func() bool { return f.env.Clock.Waiters() == 2 }, time.Second, time.Millisecond)
	f.env.Clock.Advance(10 * time.Second)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the run window")
	}
	console := f.receivers.Get("console")
	require.Eventually(t, func() bool { return console.UpdateCount() >= 2 }, time.Second, time.Millisecond)
	require.NoError(t, h.Shutdown(time.Second))

	assert.Equal(t, 1, console.Closes())
	assert.Equal(t, 0, h.Devices()[0].Sensors()[0].Subscribers())
}

func TestRun_ContextCancel(t *testing.T) {
	f := newFixture(t)
	h := f.hub(t, "devices:\n  - {name: dev1, type: Dev4b, cycles: 0, interval: 1s}\n", Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	require.Eventually(t, func() bool { return f.env.Clock.Waiters() == 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.NoError(t, h.Shutdown(time.Second))
}

func TestShutdown_Timeout(t *testing.T) {
	f := newFixture(t)
	h := f.hub(t, `
devices:
  - {name: dev1, type: Stuck}
receivers:
  - {name: console, type: ConsoleOutput}
routes:
  - [dev1, S1, console]
`, Options{})
	require.NoError(t, h.Start(context.Background()))
	defer close(f.release)

	err := h.Shutdown(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrShutdownTimeout)
	assert.Equal(t, 1, f.receivers.Get("console").Closes())
	assert.Equal(t, 0, h.Devices()[0].Sensors()[0].Subscribers())

	// repeated shutdown returns the first result and closes nothing again
	assert.ErrorIs(t, h.Shutdown(time.Second), ErrShutdownTimeout)
	assert.Equal(t, 1, f.receivers.Get("console").Closes())
}

func TestShutdown_ReceiverStuckInUpdate(t *testing.T) {
	f := newFixture(t)
	h := f.hub(t, `
devices:
  - {name: dev1, type: Dev4b, sensors: [S1], cycles: 1}
receivers:
  - {name: blocking, type: BlockingOutput}
routes:
  - [dev1, S1, blocking]
`, Options{})
	require.NoError(t, h.Start(context.Background()))
	defer close(f.release)

	select {
	case <-f.blocking.entered:
	case <-time.After(time.Second):
		t.Fatal("receiver was never notified")
	}

	done := make(chan error, 1)
	go func() { done <- h.Shutdown(20 * time.Millisecond) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrShutdownTimeout)
	case <-time.After(time.Second):
		t.Fatal("Shutdown ignored its timeout")
	}
}

func TestShutdown_NotStarted(t *testing.T) {
	f := newFixture(t)
	h := f.hub(t, "", Options{})
	assert.NoError(t, h.Shutdown(time.Second))
	assert.Empty(t, h.Receivers())
	assert.Empty(t, h.Routes())
}

func TestRun_Metrics(t *testing.T) {
	f := newFixture(t)
	m := metrics.New()
	h := f.hub(t, `
devices:
  - {name: dev1, type: Dev4b, sensors: [S1, S2]}
receivers:
  - {name: console, type: ConsoleOutput}
routes:
  - [dev1, S1, console]
  - [dev1, S2, console]
`, Options{RunDuration: -1, Metrics: m})

	require.NoError(t, h.Run(context.Background()))
	require.NoError(t, h.Shutdown(time.Second))

	count, err := promtest.GatherAndCount(m.Registry(), "sensorhub_deliveries_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Len(t, h.Routes(), 2)
}
