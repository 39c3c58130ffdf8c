// Package hub runs a configured set of devices and receivers: it builds
// them, wires the routes, drives every device loop concurrently and tears
// everything down in order.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sensorhub/internal/config"
	"sensorhub/internal/metrics"
	"sensorhub/internal/router"
	"sensorhub/pkg/clock"
	"sensorhub/pkg/component"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrDeviceInitialization means a device failed to initialize. The
	// device is closed and left out; the others run.
	ErrDeviceInitialization = errors.New("device initialization failed")

	// ErrShutdownTimeout means device loops were still running when the
	// shutdown timeout expired.
	ErrShutdownTimeout = errors.New("shutdown timed out")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("hub already started")
)

// DefaultRunDuration is how long Run lets devices work when Options leave
// it unset.
const DefaultRunDuration = 10 * time.Second

// Builder creates the components a configuration declares.
type Builder interface {
	CreateDevices(cfg *config.Config) ([]component.Device, error)
	CreateReceivers(cfg *config.Config) ([]component.Receiver, error)
	CreateRoutes(cfg *config.Config) ([]router.Route, error)
}

// Options tune a Hub.
type Options struct {
	// RunDuration bounds Run. Zero means DefaultRunDuration, a negative
	// value runs until the context is cancelled or every device finishes.
	RunDuration time.Duration

	Clock   clock.Clock
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Hub owns the devices and receivers built from one configuration.
type Hub struct {
	cfg     *config.Config
	builder Builder
	router  *router.Router
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger
	window  time.Duration

	mu        sync.RWMutex
	started   bool
	devices   []component.Device
	receivers []component.Receiver
	routes    []router.Route
	failures  []error

	cancel    context.CancelFunc
	group     errgroup.Group
	loopsDone chan struct{}
	loopsErr  error

	shutdownOnce sync.Once
	shutdownErr  error
	closeOnce    sync.Once
}

// New creates a hub for cfg. Nothing is built until Start.
func New(cfg *config.Config, b Builder, opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewRealClock()
	}
	switch {
	case opts.RunDuration == 0:
		opts.RunDuration = DefaultRunDuration
	case opts.RunDuration < 0:
		opts.RunDuration = 0
	}
	return &Hub{
		cfg:       cfg,
		builder:   b,
		router:    router.New(opts.Logger),
		clock:     opts.Clock,
		metrics:   opts.Metrics,
		logger:    opts.Logger.Named("hub"),
		window:    opts.RunDuration,
		loopsDone: make(chan struct{}),
	}
}

// Run starts the hub and blocks until ctx is cancelled, the run window
// elapses or every device loop has finished. The caller then calls
// Shutdown.
func (h *Hub) Run(ctx context.Context) error {
	if err := h.Start(ctx); err != nil {
		return err
	}
	h.Wait(ctx)
	return nil
}

// Start builds the components, resolves the routes, initializes every
// device and launches one goroutine per initialized device. A build or
// routing failure closes everything built so far and leaves the hub
// unstarted; a device that fails to initialize is closed and skipped.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return ErrAlreadyStarted
	}

	devices, err := h.builder.CreateDevices(h.cfg)
	if err != nil {
		return fmt.Errorf("failed to create devices: %w", err)
	}
	receivers, err := h.builder.CreateReceivers(h.cfg)
	if err != nil {
		closeDevices(devices, h.logger)
		return fmt.Errorf("failed to create receivers: %w", err)
	}
	abort := func() {
		closeDevices(devices, h.logger)
		closeReceivers(receivers, h.logger)
	}

	routes, err := h.builder.CreateRoutes(h.cfg)
	if err != nil {
		abort()
		return fmt.Errorf("failed to create routes: %w", err)
	}
	if _, err := h.router.Resolve(routes, devices, receivers); err != nil {
		abort()
		return err
	}

	ready := make([]component.Device, 0, len(devices))
	skipped := make(map[string]bool)
	var failures []error
	for _, d := range devices {
		if err := d.Initialize(ctx); err != nil {
			err = fmt.Errorf("%w: %s: %w", ErrDeviceInitialization, d.Name(), err)
			h.logger.Error("Device skipped", zap.String("device", d.Name()), zap.Error(err))
			closeDevices([]component.Device{d}, h.logger)
			skipped[d.Name()] = true
			failures = append(failures, err)
			continue
		}
		ready = append(ready, d)
	}
	devices = ready
	if len(skipped) > 0 {
		live := make([]router.Route, 0, len(routes))
		for _, r := range routes {
			if !skipped[r.Device] {
				live = append(live, r)
			}
		}
		routes = live
	}

	if h.metrics != nil {
		h.metrics.InstrumentDevices(devices)
	}

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.devices, h.receivers, h.routes = devices, receivers, routes
	h.failures = failures
	h.started = true

	for _, d := range devices {
		d := d
		h.group.Go(func() error { return h.runDevice(runCtx, d) })
	}
	go func() {
		h.loopsErr = h.group.Wait()
		close(h.loopsDone)
	}()

	h.logger.Info("Hub started",
		zap.Int("devices", len(devices)),
		zap.Int("receivers", len(receivers)),
		zap.Int("routes", len(routes)))
	return nil
}

func (h *Hub) runDevice(ctx context.Context, d component.Device) (err error) {
	logger := h.logger.With(zap.String("device", d.Name()))
	if h.metrics != nil {
		h.metrics.DeviceStarted()
		defer h.metrics.DeviceStopped()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("device %s panicked: %v", d.Name(), r)
		}
		if err != nil {
			logger.Error("Device loop failed", zap.Error(err))
			return
		}
		logger.Info("Device loop finished")
	}()

	logger.Info("Device loop started")
	if err := d.Run(ctx); err != nil {
		return fmt.Errorf("device %s: %w", d.Name(), err)
	}
	return nil
}

// Wait blocks until ctx is cancelled, the run window elapses or every
// device loop has finished.
func (h *Hub) Wait(ctx context.Context) {
	var window <-chan time.Time
	if h.window > 0 {
		window = h.clock.After(h.window)
	}
	select {
	case <-ctx.Done():
		h.logger.Info("Hub interrupted")
	case <-window:
		h.logger.Info("Run window elapsed", zap.Duration("window", h.window))
	case <-h.loopsDone:
		h.logger.Info("All device loops finished")
	}
}

// Shutdown stops the device loops, unsubscribes every sensor, waits up to
// timeout for the loops to return and closes every receiver exactly once.
// Calling it again returns the first result.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.shutdownOnce.Do(func() {
		h.shutdownErr = h.shutdown(timeout)
	})
	return h.shutdownErr
}

func (h *Hub) shutdown(timeout time.Duration) error {
	h.mu.RLock()
	started := h.started
	devices, receivers := h.devices, h.receivers
	h.mu.RUnlock()
	if !started {
		return nil
	}

	h.logger.Info("Shutting down", zap.Duration("timeout", timeout))
	h.cancel()

	var errs []error
	closed := make(chan error, 1)
	go func() { closed <- closeDevices(devices, h.logger) }()

	// a receiver stuck in Update holds its sensor, so closing devices
	// shares the deadline with the loops
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	closing, running := (<-chan error)(closed), (<-chan struct{})(h.loopsDone)
	for closing != nil || running != nil {
		select {
		case err := <-closing:
			if err != nil {
				errs = append(errs, err)
			}
			closing = nil
		case <-running:
			if h.loopsErr != nil {
				errs = append(errs, h.loopsErr)
			}
			running = nil
		case <-timer.C:
			h.logger.Warn("Devices still running after timeout",
				zap.Bool("closing", closing != nil),
				zap.Bool("looping", running != nil))
			errs = append(errs, fmt.Errorf("%w after %s", ErrShutdownTimeout, timeout))
			closing, running = nil, nil
		}
	}

	h.closeOnce.Do(func() {
		if err := closeReceivers(receivers, h.logger); err != nil {
			errs = append(errs, err)
		}
	})

	h.logger.Info("Shutdown complete")
	return errors.Join(errs...)
}

// Devices returns the running devices.
func (h *Hub) Devices() []component.Device {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]component.Device(nil), h.devices...)
}

// Receivers returns the running receivers.
func (h *Hub) Receivers() []component.Receiver {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]component.Receiver(nil), h.receivers...)
}

// Failures returns the initialization errors of the devices Start skipped.
func (h *Hub) Failures() []error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]error(nil), h.failures...)
}

// Routes returns the resolved routes of the running devices.
func (h *Hub) Routes() []router.Route {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]router.Route(nil), h.routes...)
}

func closeDevices(devices []component.Device, logger *zap.Logger) error {
	var errs []error
	for _, d := range devices {
		if err := d.Close(); err != nil {
			logger.Warn("Device close failed", zap.String("device", d.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("device %s: %w", d.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func closeReceivers(receivers []component.Receiver, logger *zap.Logger) error {
	var errs []error
	for _, r := range receivers {
		if err := r.Close(); err != nil {
			logger.Warn("Receiver close failed", zap.String("receiver", r.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("receiver %s: %w", r.Name(), err))
		}
	}
	return errors.Join(errs...)
}
