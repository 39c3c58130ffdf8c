package factory

import (
	"errors"
	"testing"

	"sensorhub/internal/config"
	"sensorhub/internal/loader"
	"sensorhub/internal/router"
	"sensorhub/pkg/component"
	"sensorhub/pkg/plugin"
	"sensorhub/pkg/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeLoader builds scripted devices and recording receivers, failing for
// type "Broken".
type fakeLoader struct {
	devices   []*testutil.ScriptedDevice
	receivers []*testutil.RecordingReceiver
	opts      []component.Options
	resets    int
}

func (l *fakeLoader) Reset() { l.resets++ }

var errBroken = errors.New("broken type")

func (l *fakeLoader) LoadDevice(typeName, name string, opts component.Options) (component.Device, error) {
	l.opts = append(l.opts, opts)
	if typeName == "Broken" {
		return nil, errBroken
	}
	d := testutil.NewScriptedDevice(nil, name, 1, 0, "S1")
	d.Sensor("S1").Subscribe(testutil.NewRecordingReceiver("pre"))
	l.devices = append(l.devices, d)
	return d, nil
}

func (l *fakeLoader) LoadReceiver(typeName, name string, opts component.Options) (component.Receiver, error) {
	l.opts = append(l.opts, opts)
	if typeName == "Broken" {
		return nil, errBroken
	}
	r := testutil.NewRecordingReceiver(name)
	l.receivers = append(l.receivers, r)
	return r, nil
}

func spec(name, typeName string) config.ComponentSpec {
	return config.ComponentSpec{Name: name, Type: typeName, Options: component.Options{"name": name, "type": typeName}}
}

func TestCreateDevices(t *testing.T) {
	l := &fakeLoader{}
	cfg := &config.Config{Devices: []config.ComponentSpec{spec("dev1", "Dev4b"), spec("dev2", "Dev4b")}}

	devices, err := New(l, zap.NewNop()).CreateDevices(cfg)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "dev1", devices[0].Name())
	assert.Equal(t, "dev2", devices[1].Name())
	assert.Equal(t, cfg.Devices[0].Options, l.opts[0])
	assert.Equal(t, 1, l.resets)
}

func TestCreateDevices_FailFastClosesBuilt(t *testing.T) {
	l := &fakeLoader{}
	cfg := &config.Config{Devices: []config.ComponentSpec{
		spec("dev1", "Dev4b"), spec("dev2", "Broken"), spec("dev3", "Dev4b"),
	}}

	devices, err := New(l, nil).CreateDevices(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBroken)
	assert.Contains(t, err.Error(), `device "dev2"`)
	assert.Nil(t, devices)

	// dev3 was never attempted, dev1 was closed
	require.Len(t, l.devices, 1)
	assert.Len(t, l.opts, 2)
	assert.Equal(t, 0, l.devices[0].Sensor("S1").Subscribers())
}

func TestCreateReceivers(t *testing.T) {
	l := &fakeLoader{}
	cfg := &config.Config{Receivers: []config.ComponentSpec{spec("console", "ConsoleOutput"), spec("log", "LogOutput")}}

	receivers, err := New(l, nil).CreateReceivers(cfg)
	require.NoError(t, err)
	require.Len(t, receivers, 2)
	assert.Equal(t, "log", receivers[1].Name())
	assert.Equal(t, 1, l.resets)

	cfg.Receivers = append(cfg.Receivers, spec("plot", "Broken"))
	l = &fakeLoader{}
	_, err = New(l, nil).CreateReceivers(cfg)
	assert.ErrorIs(t, err, errBroken)
	for _, r := range l.receivers {
		assert.Equal(t, 1, r.Closes())
	}
}

func TestCreate_DuplicateNames(t *testing.T) {
	l := &fakeLoader{}
	cfg := &config.Config{
		Devices:   []config.ComponentSpec{spec("dev1", "Dev4b"), spec("dev1", "Dev4b")},
		Receivers: []config.ComponentSpec{spec("console", "ConsoleOutput"), spec("console", "LogOutput")},
	}
	f := New(l, nil)

	_, err := f.CreateDevices(cfg)
	assert.ErrorIs(t, err, ErrDuplicateName)
	_, err = f.CreateReceivers(cfg)
	assert.ErrorIs(t, err, ErrDuplicateName)
	assert.Empty(t, l.opts, "nothing is built when names collide")
}

func TestCreateRoutes(t *testing.T) {
	routes, err := CreateRoutes(&config.Config{Routes: [][]string{{"dev1", "ADXL345", "console"}}})
	require.NoError(t, err)
	assert.Equal(t, []router.Route{{Device: "dev1", Sensor: "ADXL345", Receiver: "console"}}, routes)

	routes, err = New(nil, nil).CreateRoutes(&config.Config{})
	require.NoError(t, err)
	assert.Empty(t, routes)

	tests := []struct {
		name   string
		triple []string
	}{
		{"too short", []string{"dev1", "ADXL345"}},
		{"too long", []string{"dev1", "ADXL345", "console", "log"}},
		{"empty name", []string{"dev1", "", "console"}},
		{"empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CreateRoutes(&config.Config{Routes: [][]string{{"dev1", "ADXL345", "console"}, tt.triple}})
			assert.ErrorIs(t, err, ErrMalformedRoute)
			assert.Contains(t, err.Error(), "routes[1]")
		})
	}
}

func TestNewLoader_SignedArtifacts(t *testing.T) {
	env := testutil.NewTestEnv(t)
	registry := plugin.NewRegistry()
	receivers := testutil.NewRecordingReceiverFactory()
	require.NoError(t, registry.Register(plugin.FactoryInfo{Name: "Dev4b", Kind: plugin.KindDevice, Factory: testutil.ScriptedDeviceFactory}))
	require.NoError(t, registry.Register(plugin.FactoryInfo{Name: "ConsoleOutput", Kind: plugin.KindReceiver, Factory: receivers.Factory()}))

	env.SignedPlugin(t, "vendor.zip", map[string]string{
		"Dev4b":         "kind: device\n",
		"ConsoleOutput": "kind: receiver\n",
	}, nil)
	env.LooseDescriptor(t, "LogOutput", "kind: receiver\nfactory: ConsoleOutput\n")

	l, verifier := NewLoader(Sources{Trust: env.TrustConfig(), PluginDirs: []string{env.PluginDir}}, registry, env.Context, zap.NewNop())
	f := New(l, zap.NewNop())

	cfg, err := config.Parse([]byte(`
devices:
  - {name: dev1, type: Dev4b, sensors: [ADXL345]}
receivers:
  - {name: console, type: ConsoleOutput}
routes:
  - [dev1, ADXL345, console]
`))
	require.NoError(t, err)

	devices, err := f.CreateDevices(cfg)
	require.NoError(t, err)
	assert.Equal(t, "ADXL345", devices[0].Sensors()[0].Name())

	receivers2, err := f.CreateReceivers(cfg)
	require.NoError(t, err)
	assert.Same(t, receivers.Get("console"), receivers2[0])
	assert.True(t, verifier.IsAdmissible(env.PluginDir+"/vendor.zip"))

	// loose descriptors stay invisible unless allowed
	_, err = l.LoadReceiver("LogOutput", "log", nil)
	assert.ErrorIs(t, err, loader.ErrPluginNotFound)
}
