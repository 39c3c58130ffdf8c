package component

import (
	"context"
	"errors"
	"sync"
	"time"

	"sensorhub/pkg/clock"

	"go.uber.org/zap"
)

// BaseDevice implements the bookkeeping every Device shares: the name, the
// fixed sensor list, the paced run loop and Close. Concrete devices embed it
// and supply Run (usually a call to Loop with their own step function).
type BaseDevice struct {
	name    string
	sensors []*Sensor
	logger  *zap.Logger
	clock   clock.Clock

	closeOnce sync.Once
}

// NewBaseDevice creates the shared device state. The sensor list is fixed
// for the lifetime of the device.
func NewBaseDevice(name string, logger *zap.Logger, clk clock.Clock, sensors ...*Sensor) *BaseDevice {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}
	owned := make([]*Sensor, len(sensors))
	copy(owned, sensors)
	return &BaseDevice{
		name:    name,
		sensors: owned,
		logger:  logger.With(zap.String("device", name)),
		clock:   clk,
	}
}

// Name returns the device name.
func (d *BaseDevice) Name() string { return d.name }

// Sensors returns the device's sensors in construction order.
func (d *BaseDevice) Sensors() []*Sensor {
	out := make([]*Sensor, len(d.sensors))
	copy(out, d.sensors)
	return out
}

// Sensor returns the owned sensor called name, or nil.
func (d *BaseDevice) Sensor(name string) *Sensor {
	for _, s := range d.sensors {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// Logger returns the device-scoped logger.
func (d *BaseDevice) Logger() *zap.Logger { return d.logger }

// Clock returns the clock used for pacing and timestamps.
func (d *BaseDevice) Clock() clock.Clock { return d.clock }

// Initialize does nothing. Devices with hardware to prepare override it.
func (d *BaseDevice) Initialize(ctx context.Context) error {
	return nil
}

// NotifyAll notifies the subscribers of every owned sensor and joins the
// failures.
func (d *BaseDevice) NotifyAll() error {
	var errs []error
	for _, s := range d.sensors {
		if err := s.NotifyAll(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Loop runs cycles measurement cycles, or runs until ctx is cancelled when
// cycles is 0. Each cycle calls step with the current clock time, notifies
// every sensor and then sleeps for interval. Notification failures are
// logged and the loop carries on. Cancellation is not an error.
func (d *BaseDevice) Loop(ctx context.Context, interval time.Duration, cycles int, step func(now time.Time)) error {
	for i := 0; cycles == 0 || i < cycles; i++ {
		if ctx.Err() != nil {
			return nil
		}

		if step != nil {
			step(d.clock.Now())
		}
		if err := d.NotifyAll(); err != nil {
			d.logger.Warn("Cycle completed with receiver failures",
				zap.Int("cycle", i),
				zap.Error(err))
		}

		if cycles != 0 && i == cycles-1 {
			break
		}
		if err := clock.Sleep(ctx, d.clock, interval); err != nil {
			return nil
		}
	}
	d.logger.Debug("Device loop finished", zap.Int("cycles", cycles))
	return nil
}

// Close unsubscribes every receiver from every sensor. It is safe to call
// more than once.
func (d *BaseDevice) Close() error {
	d.closeOnce.Do(func() {
		for _, s := range d.sensors {
			s.UnsubscribeAll()
		}
		d.logger.Debug("Device closed")
	})
	return nil
}
