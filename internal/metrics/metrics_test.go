package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sensorhub/internal/loader"
	"sensorhub/pkg/component"
	"sensorhub/pkg/plugin"
	"sensorhub/pkg/testutil"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveDelivery(t *testing.T) {
	m := New()
	s := component.NewSensor("BMP180T", "temperature", "°C", nil)
	ok := testutil.NewRecordingReceiver("console")
	bad := testutil.NewRecordingReceiver("log").FailWith(testutil.ErrInjected)
	s.SetNotifyHook(m.ObserveDelivery)
	s.Subscribe(ok)
	s.Subscribe(bad)

	require.Error(t, s.NotifyAll())
	require.Error(t, s.NotifyAll())

	assert.Equal(t, 2.0, promtest.ToFloat64(m.deliveries.WithLabelValues("BMP180T", "console")))
	assert.Equal(t, 0.0, promtest.ToFloat64(m.deliveries.WithLabelValues("BMP180T", "log")))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.receiverFailures.WithLabelValues("log")))
}

func TestInstrumentDevices(t *testing.T) {
	m := New()
	dev := testutil.NewScriptedDevice(nil, "dev1", 1, 0, "S1", "S2")
	rcv := testutil.NewRecordingReceiver("console")
	for _, s := range dev.Sensors() {
		s.Subscribe(rcv)
	}

	m.InstrumentDevices([]component.Device{dev})
	require.NoError(t, dev.NotifyAll())

	assert.Equal(t, 1.0, promtest.ToFloat64(m.deliveries.WithLabelValues("S1", "console")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.deliveries.WithLabelValues("S2", "console")))
}

func TestObserveVerdictAndLoad(t *testing.T) {
	m := New()
	m.ObserveVerdict("a.zip", nil)
	m.ObserveVerdict("b.zip", errors.New("unsigned entry"))
	m.ObserveVerdict("c.zip", errors.New("foreign signer"))

	assert.Equal(t, 1.0, promtest.ToFloat64(m.verdicts.WithLabelValues("admitted")))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.verdicts.WithLabelValues("rejected")))

	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("x: %w", loader.ErrPluginNotFound), "not_found"},
		{fmt.Errorf("x: %w", loader.ErrCapabilityMismatch), "capability_mismatch"},
		{fmt.Errorf("x: %w", loader.ErrContractViolation), "contract_violation"},
		{fmt.Errorf("x: %w", loader.ErrConstructionFailed), "construction_failed"},
		{errors.New("other"), "error"},
	}
	for _, tt := range tests {
		m.ObserveLoad(plugin.KindReceiver, "ConsoleOutput", nil, tt.err)
		assert.Equal(t, 1.0, promtest.ToFloat64(m.loads.WithLabelValues("receiver", tt.want)), tt.want)
	}
}

func TestDevicesRunningAndHandler(t *testing.T) {
	m := New()
	m.DeviceStarted()
	m.DeviceStarted()
	m.DeviceStopped()
	assert.Equal(t, 1.0, promtest.ToFloat64(m.devicesRunning))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "sensorhub_devices_running 1"))

	count, err := promtest.GatherAndCount(m.Registry(), "sensorhub_devices_running")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
