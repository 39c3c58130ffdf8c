package testutil

import (
	"errors"
	"sync"
	"time"

	"sensorhub/pkg/component"
	"sensorhub/pkg/plugin"
)

// Update records one notification for testing/verification
type Update struct {
	Timestamp time.Time
	Sensor    string
	Quantity  string
	Unit      string
	Value     component.Value
}

// FilterUpdates filters updates by sensor name
func FilterUpdates(updates []Update, sensor string) []Update {
	var filtered []Update
	for _, u := range updates {
		if u.Sensor == sensor {
			filtered = append(filtered, u)
		}
	}
	return filtered
}

// RecordingReceiver is a Receiver that records every update. FailWith and
// PanicOnUpdate inject failures; the update is recorded either way.
type RecordingReceiver struct {
	name string

	mu      sync.Mutex
	updates []Update
	closes  int
	err     error
	panics  bool
}

// NewRecordingReceiver creates a receiver called name.
func NewRecordingReceiver(name string) *RecordingReceiver {
	return &RecordingReceiver{name: name}
}

// Name implements component.Receiver.
func (r *RecordingReceiver) Name() string { return r.name }

// FailWith makes subsequent updates return err.
func (r *RecordingReceiver) FailWith(err error) *RecordingReceiver {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	return r
}

// PanicOnUpdate makes subsequent updates panic.
func (r *RecordingReceiver) PanicOnUpdate() *RecordingReceiver {
	r.mu.Lock()
	r.panics = true
	r.mu.Unlock()
	return r
}

// Update implements component.Receiver.
func (r *RecordingReceiver) Update(s *component.Sensor) error {
	reading := s.Reading()
	r.mu.Lock()
	r.updates = append(r.updates, Update{
		Timestamp: reading.Timestamp,
		Sensor:    s.Name(),
		Quantity:  s.Quantity(),
		Unit:      s.Unit(),
		Value:     reading.Value,
	})
	err, panics := r.err, r.panics
	r.mu.Unlock()

	if panics {
		panic("recording receiver " + r.name + " panicked")
	}
	return err
}

// Close implements component.Receiver.
func (r *RecordingReceiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	return nil
}

// Updates returns a copy of the recorded updates.
func (r *RecordingReceiver) Updates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Update, len(r.updates))
	copy(out, r.updates)
	return out
}

// UpdateCount returns the number of recorded updates.
func (r *RecordingReceiver) UpdateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

// Closes returns how many times Close was called.
func (r *RecordingReceiver) Closes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}

// ErrInjected is the error returned by receivers built with the "fail"
// option.
var ErrInjected = errors.New("injected receiver failure")

// RecordingReceiverFactory builds RecordingReceivers and keeps every
// instance it built, by name. Options: "fail" (bool) and "panic" (bool).
type RecordingReceiverFactory struct {
	mu    sync.Mutex
	built map[string]*RecordingReceiver
}

// NewRecordingReceiverFactory creates an empty factory.
func NewRecordingReceiverFactory() *RecordingReceiverFactory {
	return &RecordingReceiverFactory{built: make(map[string]*RecordingReceiver)}
}

// Factory returns the plugin.Factory to register.
func (f *RecordingReceiverFactory) Factory() plugin.Factory {
	return func(ctx *plugin.Context, name string, opts component.Options) (component.Component, error) {
		r := NewRecordingReceiver(name)
		if fail, err := opts.Bool("fail", false); err != nil {
			return nil, err
		} else if fail {
			r.FailWith(ErrInjected)
		}
		if p, err := opts.Bool("panic", false); err != nil {
			return nil, err
		} else if p {
			r.PanicOnUpdate()
		}

		f.mu.Lock()
		f.built[name] = r
		f.mu.Unlock()
		return r, nil
	}
}

// Get returns the receiver built under name, or nil.
func (f *RecordingReceiverFactory) Get(name string) *RecordingReceiver {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built[name]
}
