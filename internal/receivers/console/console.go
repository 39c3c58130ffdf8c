// Package console provides ConsoleOutput, a receiver that prints every
// reading as a text line.
package console

import (
	"fmt"
	"io"
	"os"
	"sync"

	"sensorhub/internal/receivers/format"
	"sensorhub/pkg/component"
	"sensorhub/pkg/plugin"
)

func init() {
	plugin.Register(plugin.FactoryInfo{
		Name:        "ConsoleOutput",
		Description: "Prints readings to standard output",
		Kind:        plugin.KindReceiver,
		Priority:    plugin.PriorityDefault,
		Factory:     New,
	})
}

// Receiver writes one line per update.
type Receiver struct {
	name string

	mu sync.Mutex
	w  io.Writer
}

// New builds a ConsoleOutput. The "stream" option selects "stdout"
// (default) or "stderr".
func New(ctx *plugin.Context, name string, opts component.Options) (component.Component, error) {
	switch stream := opts.String("stream", "stdout"); stream {
	case "stdout":
		return NewWithWriter(name, os.Stdout), nil
	case "stderr":
		return NewWithWriter(name, os.Stderr), nil
	default:
		return nil, fmt.Errorf("unknown stream %q", stream)
	}
}

// NewWithWriter creates a receiver writing to w.
func NewWithWriter(name string, w io.Writer) *Receiver {
	return &Receiver{name: name, w: w}
}

// Name implements component.Receiver.
func (r *Receiver) Name() string { return r.name }

// Update implements component.Receiver.
func (r *Receiver) Update(s *component.Sensor) error {
	line := format.Line(s)
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := fmt.Fprintln(r.w, line)
	return err
}

// Close implements component.Receiver. The stream stays open.
func (r *Receiver) Close() error { return nil }
