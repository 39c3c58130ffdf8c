package daylight

import (
	"context"
	"testing"
	"time"

	"sensorhub/pkg/clock"
	"sensorhub/pkg/component"
	"sensorhub/pkg/plugin"
	"sensorhub/pkg/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hour, min int) time.Time {
	return time.Date(2024, 5, 1, hour, min, 0, 0, time.UTC)
}

func TestCalculator_Phase(t *testing.T) {
	greenwich := NewCalculator(51.4779, 0)

	tests := []struct {
		when time.Time
		want Phase
	}{
		{at(2, 0), PhaseNight},
		{at(4, 40), PhaseMorning},
		{at(12, 0), PhaseDay},
		{at(19, 0), PhaseSunset},
		{at(19, 40), PhaseDusk},
		{at(21, 0), PhaseNight},
	}
	for _, tt := range tests {
		t.Run(tt.when.Format("15:04"), func(t *testing.T) {
			assert.Equal(t, tt.want, greenwich.Phase(tt.when))
		})
	}
}

func TestCalculator_PhaseAcrossUTCMidnight(t *testing.T) {
	austin := NewCalculator(DefaultLatitude, DefaultLongitude)
	// 19:40 local time on May 1 is already May 2 in UTC
	assert.Equal(t, PhaseSunset, austin.Phase(time.Date(2024, 5, 2, 0, 40, 0, 0, time.UTC)))
	assert.Equal(t, PhaseDay, austin.Phase(at(20, 0)))
	assert.Equal(t, PhaseNight, austin.Phase(at(8, 0)))
}

func TestCalculator_SunTimes(t *testing.T) {
	st := NewCalculator(51.4779, 0).SunTimes(at(12, 0))
	require.False(t, st.Sunrise.IsZero())
	assert.True(t, st.Dawn.Before(st.Sunrise))
	assert.True(t, st.SunriseEnd.Before(st.SunsetStart))
	assert.True(t, st.Sunset.Before(st.Dusk))
	assert.InDelta(t, 890, st.Sunset.Sub(st.Sunrise).Minutes(), 20)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "night", PhaseNight.String())
	assert.Equal(t, "morning", PhaseMorning.String())
	assert.Equal(t, "day", PhaseDay.String())
	assert.Equal(t, "sunset", PhaseSunset.String())
	assert.Equal(t, "dusk", PhaseDusk.String())
}

func TestNew_Options(t *testing.T) {
	ctx := plugin.NewContext(nil, nil, nil)
	for _, opts := range []component.Options{
		{"latitude": 91},
		{"longitude": "east"},
		{"cycles": -2},
		{"interval": "often"},
	} {
		_, err := New(ctx, "sun", opts)
		assert.Error(t, err, "%v", opts)
	}

	c, err := New(ctx, "sun", nil)
	require.NoError(t, err)
	d := c.(*Device)
	assert.Equal(t, DefaultInterval, d.interval)
	assert.Equal(t, 0, d.cycles)
	require.Len(t, d.Sensors(), 3)
}

func TestRun(t *testing.T) {
	clk := clock.NewMockClock(at(12, 0))
	c, err := New(plugin.NewContext(nil, clk, nil), "sun", component.Options{
		"latitude": 51.4779, "longitude": 0.0, "cycles": 1,
	})
	require.NoError(t, err)
	d := c.(*Device)

	rcv := testutil.NewRecordingReceiver("console")
	for _, s := range d.Sensors() {
		s.Subscribe(rcv)
	}
	require.NoError(t, d.Run(context.Background()))

	updates := rcv.Updates()
	require.Len(t, updates, 3)
	assert.Equal(t, float64(PhaseDay), testutil.FilterUpdates(updates, SensorPhase)[0].Value.Float())
	assert.InDelta(t, 890, testutil.FilterUpdates(updates, SensorDayLength)[0].Value.Float(), 20)

	remaining := testutil.FilterUpdates(updates, SensorRemaining)[0].Value.Float()
	assert.Greater(t, remaining, 400.0)
	assert.Less(t, remaining, 500.0)
}

func TestRegistered(t *testing.T) {
	info := plugin.Get("Daylight")
	require.NotNil(t, info)
	assert.Equal(t, plugin.KindDevice, info.Kind)
}
