// Package router subscribes receivers to device sensors according to a
// routing table.
package router

import (
	"errors"
	"fmt"

	"sensorhub/pkg/component"

	"go.uber.org/zap"
)

var (
	// ErrRouteUnresolved means a route names an unknown device, sensor or
	// receiver.
	ErrRouteUnresolved = errors.New("route unresolved")

	// ErrAmbiguousRoute means a name the routes depend on is not unique.
	ErrAmbiguousRoute = errors.New("ambiguous route")
)

// Route connects one sensor of one device to one receiver.
type Route struct {
	Device   string
	Sensor   string
	Receiver string
}

func (r Route) String() string {
	return fmt.Sprintf("%s/%s -> %s", r.Device, r.Sensor, r.Receiver)
}

type sensorKey struct {
	device string
	sensor string
}

// Router resolves routes against built components.
type Router struct {
	logger *zap.Logger
}

// New creates a router.
func New(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{logger: logger.Named("router")}
}

// Resolve subscribes the receiver of every route to its sensor and returns
// the number of subscriptions made. Resolution is all or nothing: when any
// route fails to resolve, every subscription of the batch is withdrawn and
// the joined failures are returned.
func (r *Router) Resolve(routes []Route, devices []component.Device, receivers []component.Receiver) (int, error) {
	sensors, err := indexSensors(devices)
	if err != nil {
		return 0, err
	}
	targets, err := indexReceivers(receivers)
	if err != nil {
		return 0, err
	}

	type binding struct {
		sensor   *component.Sensor
		receiver component.Receiver
	}
	var (
		bindings []binding
		errs     []error
	)
	for _, route := range routes {
		s, ok := sensors[sensorKey{route.Device, route.Sensor}]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s: %s", ErrRouteUnresolved, route, missingSensor(route, devices)))
		}
		rcv, okReceiver := targets[route.Receiver]
		if !okReceiver {
			errs = append(errs, fmt.Errorf("%w: %s: unknown receiver %q", ErrRouteUnresolved, route, route.Receiver))
		}
		if ok && okReceiver {
			bindings = append(bindings, binding{s, rcv})
		}
	}
	if len(errs) > 0 {
		r.logger.Error("Routes unresolved", zap.Int("failed", len(errs)), zap.Int("routes", len(routes)))
		return 0, errors.Join(errs...)
	}

	subscribed := 0
	for _, b := range bindings {
		if b.sensor.IsSubscribed(b.receiver) {
			continue
		}
		b.sensor.Subscribe(b.receiver)
		subscribed++
	}
	r.logger.Info("Routes resolved",
		zap.Int("routes", len(routes)),
		zap.Int("subscriptions", subscribed))
	return subscribed, nil
}

func indexSensors(devices []component.Device) (map[sensorKey]*component.Sensor, error) {
	index := make(map[sensorKey]*component.Sensor)
	seen := make(map[string]bool, len(devices))
	var errs []error
	for _, d := range devices {
		if seen[d.Name()] {
			errs = append(errs, fmt.Errorf("%w: duplicate device %q", ErrAmbiguousRoute, d.Name()))
			continue
		}
		seen[d.Name()] = true
		for _, s := range d.Sensors() {
			key := sensorKey{d.Name(), s.Name()}
			if _, dup := index[key]; dup {
				errs = append(errs, fmt.Errorf("%w: device %q has two sensors named %q", ErrAmbiguousRoute, d.Name(), s.Name()))
				continue
			}
			index[key] = s
		}
	}
	return index, errors.Join(errs...)
}

func indexReceivers(receivers []component.Receiver) (map[string]component.Receiver, error) {
	index := make(map[string]component.Receiver, len(receivers))
	var errs []error
	for _, rcv := range receivers {
		if _, dup := index[rcv.Name()]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate receiver %q", ErrAmbiguousRoute, rcv.Name()))
			continue
		}
		index[rcv.Name()] = rcv
	}
	return index, errors.Join(errs...)
}

func missingSensor(route Route, devices []component.Device) string {
	for _, d := range devices {
		if d.Name() == route.Device {
			return fmt.Sprintf("device %q has no sensor %q", route.Device, route.Sensor)
		}
	}
	return fmt.Sprintf("unknown device %q", route.Device)
}
