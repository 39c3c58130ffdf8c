// Package daylight provides the Daylight device, which derives sun
// position sensors for a location from the current clock time.
package daylight

import (
	"context"
	"fmt"
	"time"

	"sensorhub/pkg/component"
	"sensorhub/pkg/plugin"

	"github.com/nathan-osman/go-sunrise"
	"go.uber.org/zap"
)

// Sensor names.
const (
	SensorPhase     = "SunPhase"
	SensorDayLength = "DayLength"
	SensorRemaining = "DaylightRemaining"
)

// Defaults for the device options. The coordinates are in the Austin, TX
// area.
const (
	DefaultLatitude  = 32.85486
	DefaultLongitude = -97.50515
	DefaultInterval  = time.Minute
)

func init() {
	plugin.Register(plugin.FactoryInfo{
		Name:        "Daylight",
		Description: "Sun phase, day length and remaining daylight for a location",
		Kind:        plugin.KindDevice,
		Priority:    plugin.PriorityDefault,
		Factory:     New,
	})
}

// Phase is the simplified sun state. Its numeric value is the SunPhase
// reading.
type Phase int

const (
	PhaseNight Phase = iota
	PhaseMorning
	PhaseDay
	PhaseSunset
	PhaseDusk
)

func (p Phase) String() string {
	switch p {
	case PhaseMorning:
		return "morning"
	case PhaseDay:
		return "day"
	case PhaseSunset:
		return "sunset"
	case PhaseDusk:
		return "dusk"
	default:
		return "night"
	}
}

// SunTimes are the sun events of one day.
type SunTimes struct {
	Dawn        time.Time
	Sunrise     time.Time
	SunriseEnd  time.Time
	SunsetStart time.Time
	Sunset      time.Time
	Dusk        time.Time
}

// Calculator computes sun events for a fixed location.
type Calculator struct {
	latitude  float64
	longitude float64
}

// NewCalculator creates a calculator for the given coordinates.
func NewCalculator(latitude, longitude float64) *Calculator {
	return &Calculator{latitude: latitude, longitude: longitude}
}

// SunTimes returns the sun events of the UTC day containing t. On polar
// days without sunrise or sunset every field is zero.
func (c *Calculator) SunTimes(t time.Time) SunTimes {
	t = t.UTC()
	rise, set := sunrise.SunriseSunset(c.latitude, c.longitude, t.Year(), t.Month(), t.Day())
	if rise.IsZero() || set.IsZero() {
		return SunTimes{}
	}

	// civil twilight and golden hour are approximated by fixed offsets
	return SunTimes{
		Dawn:        rise.Add(-30 * time.Minute),
		Sunrise:     rise,
		SunriseEnd:  rise.Add(30 * time.Minute),
		SunsetStart: set.Add(-60 * time.Minute),
		Sunset:      set,
		Dusk:        set.Add(30 * time.Minute),
	}
}

// around returns the sun events of the day t belongs to. Shortly after UTC
// midnight that can still be the previous UTC day, west of Greenwich.
func (c *Calculator) around(t time.Time) SunTimes {
	st := c.SunTimes(t)
	if st.Sunrise.IsZero() || !t.Before(st.Dawn) {
		return st
	}
	if prev := c.SunTimes(t.Add(-24 * time.Hour)); !prev.Sunrise.IsZero() && t.Before(prev.Dusk) {
		return prev
	}
	return st
}

// Phase returns the sun phase at t.
func (c *Calculator) Phase(t time.Time) Phase {
	st := c.around(t)
	if st.Sunrise.IsZero() {
		return PhaseNight
	}
	switch {
	case t.Before(st.Dawn):
		return PhaseNight
	case t.Before(st.SunriseEnd):
		return PhaseMorning
	case t.Before(st.SunsetStart):
		return PhaseDay
	case t.Before(st.Sunset):
		return PhaseSunset
	case t.Before(st.Dusk):
		return PhaseDusk
	default:
		return PhaseNight
	}
}

// Device publishes the sun state of its location once per interval.
type Device struct {
	*component.BaseDevice

	calc     *Calculator
	cycles   int
	interval time.Duration
}

// New builds a Daylight device. Options: "latitude", "longitude",
// "cycles" (default 0, run until cancelled) and "interval" (default 1m).
func New(ctx *plugin.Context, name string, opts component.Options) (component.Component, error) {
	lat, err := opts.Float("latitude", DefaultLatitude)
	if err != nil {
		return nil, err
	}
	lon, err := opts.Float("longitude", DefaultLongitude)
	if err != nil {
		return nil, err
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("coordinates out of range: %v, %v", lat, lon)
	}
	cycles, err := opts.Int("cycles", 0)
	if err != nil {
		return nil, err
	}
	if cycles < 0 {
		return nil, fmt.Errorf("cycles must be >= 0, got %d", cycles)
	}
	interval, err := opts.Duration("interval", DefaultInterval)
	if err != nil {
		return nil, err
	}

	logger := ctx.ComponentLogger(plugin.KindDevice, name)
	return &Device{
		BaseDevice: component.NewBaseDevice(name, logger, ctx.Clock,
			component.NewSensor(SensorPhase, "sun phase", "phase", logger),
			component.NewSensor(SensorDayLength, "day length", "min", logger),
			component.NewSensor(SensorRemaining, "daylight remaining", "min", logger),
		),
		calc:     NewCalculator(lat, lon),
		cycles:   cycles,
		interval: interval,
	}, nil
}

// Run implements component.Device.
func (d *Device) Run(ctx context.Context) error {
	d.Logger().Info("Daylight running",
		zap.Float64("latitude", d.calc.latitude),
		zap.Float64("longitude", d.calc.longitude))
	return d.Loop(ctx, d.interval, d.cycles, d.measure)
}

func (d *Device) measure(now time.Time) {
	st := d.calc.around(now)
	phase := d.calc.Phase(now)

	var length, remaining float64
	if !st.Sunrise.IsZero() {
		length = st.Sunset.Sub(st.Sunrise).Minutes()
		if now.After(st.Sunrise) && now.Before(st.Sunset) {
			remaining = st.Sunset.Sub(now).Minutes()
		}
	}

	d.Sensor(SensorPhase).Set(component.Scalar(float64(phase)), now)
	d.Sensor(SensorDayLength).Set(component.Scalar(length), now)
	d.Sensor(SensorRemaining).Set(component.Scalar(remaining), now)
	d.Logger().Debug("Sun state", zap.Stringer("phase", phase), zap.Float64("remaining_min", remaining))
}
