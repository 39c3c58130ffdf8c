// Package dev4b provides the Dev4b demonstration board: an ADXL345
// accelerometer and a BMP180 pressure/temperature sensor producing
// synthetic readings.
package dev4b

import (
	"context"
	"fmt"
	"math"
	"time"

	"sensorhub/pkg/component"
	"sensorhub/pkg/plugin"

	"go.uber.org/zap"
)

// Sensor names of the board.
const (
	SensorAccel       = "ADXL345"
	SensorPressure    = "BMP180P"
	SensorTemperature = "BMP180T"
)

// Defaults for the cycles and interval options.
const (
	DefaultCycles   = 100
	DefaultInterval = 100 * time.Millisecond
)

const standardGravity = 9.80665

func init() {
	plugin.Register(plugin.FactoryInfo{
		Name:        "Dev4b",
		Description: "Demo board with ADXL345 accelerometer and BMP180 barometer",
		Kind:        plugin.KindDevice,
		Priority:    plugin.PriorityDefault,
		Factory:     New,
	})
}

// Device is the Dev4b board.
type Device struct {
	*component.BaseDevice

	cycles   int
	interval time.Duration
	cycle    int
}

// New builds a Dev4b. Options: "cycles" (0 runs until cancelled) and
// "interval".
func New(ctx *plugin.Context, name string, opts component.Options) (component.Component, error) {
	cycles, err := opts.Int("cycles", DefaultCycles)
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
			component.NewSensor(SensorAccel, "acceleration", "m/s²", logger),
			component.NewSensor(SensorPressure, "pressure", "hPa", logger),
			component.NewSensor(SensorTemperature, "temperature", "°C", logger),
		),
		cycles:   cycles,
		interval: interval,
	}, nil
}

// Run implements component.Device.
func (d *Device) Run(ctx context.Context) error {
	d.Logger().Info("Dev4b running",
		zap.Int("cycles", d.cycles),
		zap.Duration("interval", d.interval))
	return d.Loop(ctx, d.interval, d.cycles, d.measure)
}

// measure stores the readings of the current cycle. The board gently
// tilts and the air warms and cools around room conditions.
func (d *Device) measure(now time.Time) {
	phase := float64(d.cycle) / 10
	d.cycle++

	ax := 0.5 * math.Sin(phase)
	ay := 0.5 * math.Cos(phase)
	az := math.Sqrt(standardGravity*standardGravity - ax*ax - ay*ay)
	d.Sensor(SensorAccel).Set(component.Vector(ax, ay, az), now)
	d.Sensor(SensorPressure).Set(component.Scalar(1013.25+0.8*math.Sin(phase/3)), now)
	d.Sensor(SensorTemperature).Set(component.Scalar(21.5+0.4*math.Cos(phase/5)), now)
}
