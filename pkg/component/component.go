// Package component defines the capability interfaces shared by the hub and
// by plugin implementations: named Components, Devices that own Sensors,
// and Receivers that observe them.
//
// A Sensor keeps its subscribers in an ObserverSet. NotifyAll is serialized
// with Subscribe/Unsubscribe on the same Sensor, but different Sensors (and
// so different Devices) notify concurrently. A Receiver subscribed to more
// than one Sensor must therefore tolerate concurrent Update calls.
package component

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Component is a named entity. The name is assigned at construction and
// never changes.
type Component interface {
	Name() string
}

// Receiver reacts to Sensor notifications.
type Receiver interface {
	Component

	// Update is called synchronously on the notifying Device's goroutine.
	// It must not block indefinitely and must not subscribe to or
	// unsubscribe from the Sensor it is called for.
	Update(s *Sensor) error

	// Close releases the receiver's resources. The hub calls it exactly
	// once, after every Sensor has been unsubscribed.
	Close() error
}

// Device owns one or more Sensors and a production loop.
type Device interface {
	Component

	// Sensors returns the device's sensors in a fixed order.
	Sensors() []*Sensor

	// Initialize prepares the hardware or data source. A failure is fatal
	// to the device.
	Initialize(ctx context.Context) error

	// Run executes measurement cycles until the cycle budget is spent or
	// ctx is cancelled.
	Run(ctx context.Context) error

	// Close unsubscribes every receiver from every sensor.
	Close() error
}

// Options is the opaque, type-specific option payload passed verbatim from
// the configuration to a plugin constructor.
type Options map[string]any

// String returns the string option key, or def when absent.
func (o Options) String(key, def string) string {
	v, ok := o[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Float returns the numeric option key, or def when absent.
func (o Options) Float(key string, def float64) (float64, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("option %s: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("option %s: expected number, got %T", key, v)
	}
}

// Int returns the integer option key, or def when absent.
func (o Options) Int(key string, def int) (int, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("option %s: %v is not an integer", key, n)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("option %s: %w", key, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("option %s: expected integer, got %T", key, v)
	}
}

// Bool returns the boolean option key, or def when absent.
func (o Options) Bool(key string, def bool) (bool, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("option %s: %w", key, err)
		}
		return parsed, nil
	default:
		return false, fmt.Errorf("option %s: expected boolean, got %T", key, v)
	}
}

// Duration returns the duration option key, or def when absent. Strings are
// parsed with time.ParseDuration ("250ms"); bare numbers are milliseconds.
func (o Options) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	if s, ok := v.(string); ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("option %s: %w", key, err)
		}
		return d, nil
	}
	ms, err := o.Float(key, 0)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}

// Strings returns a list-of-strings option, or nil when absent.
func (o Options) Strings(key string) ([]string, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("option %s: expected strings, got %T", key, item)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		return []string{list}, nil
	default:
		return nil, fmt.Errorf("option %s: expected list, got %T", key, v)
	}
}
