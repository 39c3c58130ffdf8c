// Package factory builds the devices, receivers and routes a configuration
// declares.
package factory

import (
	"errors"
	"fmt"

	"sensorhub/internal/config"
	"sensorhub/internal/loader"
	"sensorhub/internal/locator"
	"sensorhub/internal/router"
	"sensorhub/internal/trust"
	"sensorhub/pkg/component"
	"sensorhub/pkg/plugin"

	"go.uber.org/zap"
)

var (
	// ErrMalformedRoute means a route is not exactly three non-empty names.
	ErrMalformedRoute = errors.New("malformed route")

	// ErrDuplicateName means two devices or two receivers share a name.
	ErrDuplicateName = errors.New("duplicate component name")
)

// ComponentLoader constructs components by type name.
type ComponentLoader interface {
	LoadDevice(typeName, name string, opts component.Options) (component.Device, error)
	LoadReceiver(typeName, name string, opts component.Options) (component.Receiver, error)
}

// Sources configures where and how plugin artifacts are found.
type Sources struct {
	Trust      trust.Config
	AllowLoose bool
	PluginDirs []string
	Extensions []string
}

// NewLoader wires a locator, a verifier and a loader for src. The verifier
// is returned so callers can observe or query verdicts.
func NewLoader(src Sources, registry *plugin.Registry, pctx *plugin.Context, logger *zap.Logger) (*loader.Loader, *trust.Verifier) {
	verifier := trust.NewVerifier(src.Trust, logger)
	l := loader.New(
		locator.New(src.PluginDirs, logger),
		verifier,
		registry,
		pctx,
		loader.Config{AllowLoose: src.AllowLoose, Extensions: src.Extensions},
		logger,
	)
	return l, verifier
}

// batchLoader is a ComponentLoader that memoizes admission decisions until
// Reset.
type batchLoader interface {
	Reset()
}

// Factory turns configuration declarations into components.
type Factory struct {
	loader ComponentLoader
	logger *zap.Logger
}

// New creates a factory backed by l.
func New(l ComponentLoader, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{loader: l, logger: logger.Named("factory")}
}

// CreateDevices builds every declared device in configuration order. The
// first failure aborts creation and closes the devices already built.
func (f *Factory) CreateDevices(cfg *config.Config) ([]component.Device, error) {
	if err := uniqueNames("device", cfg.Devices); err != nil {
		return nil, err
	}
	f.beginBatch()
	devices := make([]component.Device, 0, len(cfg.Devices))
	for _, spec := range cfg.Devices {
		d, err := f.loader.LoadDevice(spec.Type, spec.Name, spec.Options)
		if err != nil {
			f.closeAll(toClosers(devices))
			return nil, fmt.Errorf("device %q: %w", spec.Name, err)
		}
		devices = append(devices, d)
	}
	f.logger.Info("Devices created", zap.Int("count", len(devices)))
	return devices, nil
}

// CreateReceivers builds every declared receiver in configuration order,
// with the same failure handling as CreateDevices.
func (f *Factory) CreateReceivers(cfg *config.Config) ([]component.Receiver, error) {
	if err := uniqueNames("receiver", cfg.Receivers); err != nil {
		return nil, err
	}
	f.beginBatch()
	receivers := make([]component.Receiver, 0, len(cfg.Receivers))
	for _, spec := range cfg.Receivers {
		r, err := f.loader.LoadReceiver(spec.Type, spec.Name, spec.Options)
		if err != nil {
			f.closeAll(toClosers(receivers))
			return nil, fmt.Errorf("receiver %q: %w", spec.Name, err)
		}
		receivers = append(receivers, r)
	}
	f.logger.Info("Receivers created", zap.Int("count", len(receivers)))
	return receivers, nil
}

// CreateRoutes converts the route triples of cfg. It does not check that
// the names exist.
func (f *Factory) CreateRoutes(cfg *config.Config) ([]router.Route, error) {
	return CreateRoutes(cfg)
}

// CreateRoutes converts the route triples of cfg.
func CreateRoutes(cfg *config.Config) ([]router.Route, error) {
	routes := make([]router.Route, 0, len(cfg.Routes))
	var errs []error
	for i, triple := range cfg.Routes {
		if len(triple) != 3 || triple[0] == "" || triple[1] == "" || triple[2] == "" {
			errs = append(errs, fmt.Errorf("%w: routes[%d] = %q, want [device, sensor, receiver]", ErrMalformedRoute, i, triple))
			continue
		}
		routes = append(routes, router.Route{Device: triple[0], Sensor: triple[1], Receiver: triple[2]})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return routes, nil
}

// beginBatch makes every archive of the coming batch be read and verified
// afresh, and then at most once.
func (f *Factory) beginBatch() {
	if b, ok := f.loader.(batchLoader); ok {
		b.Reset()
	}
}

func (f *Factory) closeAll(closers []interface{ Close() error }) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			f.logger.Warn("Close after failed creation", zap.Error(err))
		}
	}
}

func toClosers[T interface{ Close() error }](items []T) []interface{ Close() error } {
	out := make([]interface{ Close() error }, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out
}

func uniqueNames(category string, specs []config.ComponentSpec) error {
	seen := make(map[string]bool, len(specs))
	var errs []error
	for _, s := range specs {
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("%w: %s %q", ErrDuplicateName, category, s.Name))
		}
		seen[s.Name] = true
	}
	return errors.Join(errs...)
}
