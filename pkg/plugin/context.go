package plugin

import (
	"sensorhub/pkg/canvas"
	"sensorhub/pkg/clock"

	"go.uber.org/zap"
)

// Context provides the environment a Factory builds a component in. It
// replaces process-wide singletons: anything a component needs from the
// host is injected here.
type Context struct {
	// Logger is a structured logger for the component to use.
	// Factories should use logger.Named(name) for namespacing.
	Logger *zap.Logger

	// Clock paces device loops and timestamps readings.
	Clock clock.Clock

	// Surfaces creates drawing surfaces for plotting receivers.
	Surfaces canvas.Factory
}

// NewContext creates a plugin context. Nil arguments are replaced with a
// no-op logger, the real clock and a headless recorder factory.
func NewContext(logger *zap.Logger, clk clock.Clock, surfaces canvas.Factory) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}
	if surfaces == nil {
		surfaces = canvas.NewRecorderFactory(DefaultSurfaceWidth, DefaultSurfaceHeight)
	}
	return &Context{
		Logger:   logger,
		Clock:    clk,
		Surfaces: surfaces,
	}
}

// Default headless surface size.
const (
	DefaultSurfaceWidth  = 640
	DefaultSurfaceHeight = 480
)

// ComponentLogger returns the logger a component called name should use.
func (c *Context) ComponentLogger(kind Kind, name string) *zap.Logger {
	return c.Logger.Named(kind.String()).With(zap.String("component", name))
}
