package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"sensorhub/pkg/component"
	"sensorhub/pkg/plugin"
)

// ErrInitFailed is returned by scripted devices built with "fail_init".
var ErrInitFailed = errors.New("scripted device initialization failed")

// ScriptedDevice is a Device whose sensors count upward: on cycle n every
// sensor holds the scalar n (starting at 1).
type ScriptedDevice struct {
	*component.BaseDevice

	cycles   int
	interval time.Duration
	initErr  error
	runs     atomic.Int32
	done     chan struct{}
}

// NewScriptedDevice creates a device with one sensor per name. Each sensor
// measures "count" in "1".
func NewScriptedDevice(ctx *plugin.Context, name string, cycles int, interval time.Duration, sensors ...string) *ScriptedDevice {
	if ctx == nil {
		ctx = plugin.NewContext(nil, nil, nil)
	}
	owned := make([]*component.Sensor, len(sensors))
	for i, s := range sensors {
		owned[i] = component.NewSensor(s, "count", "1", ctx.Logger)
	}
	return &ScriptedDevice{
		BaseDevice: component.NewBaseDevice(name, ctx.Logger, ctx.Clock, owned...),
		cycles:     cycles,
		interval:   interval,
		done:       make(chan struct{}),
	}
}

// Initialize implements component.Device.
func (d *ScriptedDevice) Initialize(ctx context.Context) error {
	return d.initErr
}

// Run implements component.Device.
func (d *ScriptedDevice) Run(ctx context.Context) error {
	defer func() {
		if d.runs.Add(1) == 1 {
			close(d.done)
		}
	}()
	n := 0
	return d.Loop(ctx, d.interval, d.cycles, func(now time.Time) {
		n++
		for _, s := range d.Sensors() {
			s.Set(component.Scalar(float64(n)), now)
		}
	})
}

// Done is closed when the first Run returns.
func (d *ScriptedDevice) Done() <-chan struct{} { return d.done }

// ScriptedDeviceFactory builds ScriptedDevices. Options: "sensors" (list,
// default ["S1"]), "cycles" (default 1), "interval" (default 10ms) and
// "fail_init" (bool).
func ScriptedDeviceFactory(ctx *plugin.Context, name string, opts component.Options) (component.Component, error) {
	sensors, err := opts.Strings("sensors")
	if err != nil {
		return nil, err
	}
	if len(sensors) == 0 {
		sensors = []string{"S1"}
	}
	cycles, err := opts.Int("cycles", 1)
	if err != nil {
		return nil, err
	}
	interval, err := opts.Duration("interval", 10*time.Millisecond)
	if err != nil {
		return nil, err
	}
	failInit, err := opts.Bool("fail_init", false)
	if err != nil {
		return nil, err
	}
	if cycles < 0 {
		return nil, fmt.Errorf("cycles must be >= 0, got %d", cycles)
	}

	d := NewScriptedDevice(ctx, name, cycles, interval, sensors...)
	if failInit {
		d.initErr = ErrInitFailed
	}
	return d, nil
}
