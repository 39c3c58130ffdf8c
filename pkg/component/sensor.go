package component

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// NotifyHook observes every delivery attempt made by NotifyAll. err is nil
// when the receiver's Update succeeded.
type NotifyHook func(s *Sensor, r Receiver, err error)

// Sensor is an observable measurement source. It is created by its owning
// Device's constructor and lives as long as that Device.
type Sensor struct {
	name     string
	quantity string
	unit     string
	logger   *zap.Logger

	observers *ObserverSet

	readingMu sync.RWMutex
	reading   Reading

	hookMu sync.RWMutex
	hook   NotifyHook
}

// NewSensor creates a sensor measuring quantity in unit. A nil logger
// disables failure logging.
func NewSensor(name, quantity, unit string, logger *zap.Logger) *Sensor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sensor{
		name:      name,
		quantity:  quantity,
		unit:      unit,
		logger:    logger.With(zap.String("sensor", name)),
		observers: NewObserverSet(),
	}
}

// Name returns the sensor name.
func (s *Sensor) Name() string { return s.name }

// Quantity returns the physical quantity name, e.g. "temperature".
func (s *Sensor) Quantity() string { return s.quantity }

// Unit returns the physical unit, e.g. "°C".
func (s *Sensor) Unit() string { return s.unit }

// Set stores a new measurement.
func (s *Sensor) Set(v Value, ts time.Time) {
	s.readingMu.Lock()
	s.reading = Reading{Value: v, Timestamp: ts}
	s.readingMu.Unlock()
}

// Reading returns the current measurement snapshot.
func (s *Sensor) Reading() Reading {
	s.readingMu.RLock()
	defer s.readingMu.RUnlock()
	return s.reading
}

// Value returns the current measurement value.
func (s *Sensor) Value() Value {
	return s.Reading().Value
}

// Timestamp returns when the current value was measured.
func (s *Sensor) Timestamp() time.Time {
	return s.Reading().Timestamp
}

// SetNotifyHook installs h, replacing any previous hook.
func (s *Sensor) SetNotifyHook(h NotifyHook) {
	s.hookMu.Lock()
	s.hook = h
	s.hookMu.Unlock()
}

// Subscribe adds r to the subscriber set. Subscribing twice is a no-op.
func (s *Sensor) Subscribe(r Receiver) {
	if s.observers.Add(r) {
		s.logger.Debug("Receiver subscribed", zap.String("receiver", r.Name()))
	}
}

// Unsubscribe removes r. Unknown receivers are ignored.
func (s *Sensor) Unsubscribe(r Receiver) {
	if s.observers.Remove(r) {
		s.logger.Debug("Receiver unsubscribed", zap.String("receiver", r.Name()))
	}
}

// UnsubscribeAll empties the subscriber set. Once it returns, no receiver
// is invoked by this sensor until it is subscribed again.
func (s *Sensor) UnsubscribeAll() {
	if n := s.observers.Clear(); n > 0 {
		s.logger.Debug("All receivers unsubscribed", zap.Int("count", n))
	}
}

// IsSubscribed reports whether r is currently subscribed.
func (s *Sensor) IsSubscribed(r Receiver) bool {
	return s.observers.Contains(r)
}

// Subscribers returns the number of subscribed receivers.
func (s *Sensor) Subscribers() int {
	return s.observers.Len()
}

// NotifyAll calls Update on every subscriber, synchronously, in
// unspecified order. A failing or panicking receiver does not stop the
// pass: its error is logged and the remaining receivers are still updated.
// The returned error joins every receiver failure of the pass.
func (s *Sensor) NotifyAll() error {
	s.hookMu.RLock()
	hook := s.hook
	s.hookMu.RUnlock()

	var errs []error
	s.observers.Each(func(r Receiver) {
		err := s.deliver(r)
		if err != nil {
			s.logger.Warn("Receiver update failed",
				zap.String("receiver", r.Name()),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("receiver %s: %w", r.Name(), err))
		}
		if hook != nil {
			hook(s, r, err)
		}
	})
	return errors.Join(errs...)
}

func (s *Sensor) deliver(r Receiver) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in update: %v", rec)
		}
	}()
	return r.Update(s)
}
