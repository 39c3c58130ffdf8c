// Package logfile provides LogOutput, a receiver that appends every
// reading to a text file.
package logfile

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"sensorhub/internal/receivers/format"
	"sensorhub/pkg/component"
	"sensorhub/pkg/plugin"

	"go.uber.org/zap"
)

func init() {
	plugin.Register(plugin.FactoryInfo{
		Name:        "LogOutput",
		Description: "Appends readings to a log file",
		Kind:        plugin.KindReceiver,
		Priority:    plugin.PriorityDefault,
		Factory:     New,
	})
}

// ErrNoFile is returned when the "file" option is missing.
var ErrNoFile = errors.New(`LogOutput requires the "file" option`)

// Receiver appends one line per update to its file. The file is opened
// when the receiver is built and stays open until Close; updates after
// Close are ignored.
type Receiver struct {
	name   string
	path   string
	logger *zap.Logger

	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

// New builds a LogOutput appending to the "file" option. Missing parent
// directories are created.
func New(ctx *plugin.Context, name string, opts component.Options) (component.Component, error) {
	path := opts.String("file", "")
	if path == "" {
		return nil, ErrNoFile
	}
	return Open(name, path, ctx.ComponentLogger(plugin.KindReceiver, name))
}

// Open creates a receiver appending to path.
func Open(name, path string, logger *zap.Logger) (*Receiver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger.Info("Log file opened", zap.String("path", path))
	return &Receiver{name: name, path: path, logger: logger, file: f, w: bufio.NewWriter(f)}, nil
}

// Name implements component.Receiver.
func (r *Receiver) Name() string { return r.name }

// Path returns the log file path.
func (r *Receiver) Path() string { return r.path }

// Update implements component.Receiver. Lines are buffered and flushed on
// every update so the file can be tailed.
func (r *Receiver) Update(s *component.Sensor) error {
	line := format.Line(s)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	if _, err := r.w.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to write %s: %w", r.path, err)
	}
	if err := r.w.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", r.path, err)
	}
	return nil
}

// Close flushes and closes the file. It is safe to call more than once.
func (r *Receiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	flushErr := r.w.Flush()
	closeErr := r.file.Close()
	r.file, r.w = nil, nil
	r.logger.Info("Log file closed", zap.String("path", r.path))
	return errors.Join(flushErr, closeErr)
}
