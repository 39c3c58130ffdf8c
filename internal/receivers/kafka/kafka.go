// Package kafka provides KafkaOutput, a receiver that writes every reading
// to a Kafka topic, keyed by sensor name.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sensorhub/internal/receivers/format"
	"sensorhub/pkg/component"
	"sensorhub/pkg/plugin"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

func init() {
	plugin.Register(plugin.FactoryInfo{
		Name:        "KafkaOutput",
		Description: "Writes readings to a Kafka topic",
		Kind:        plugin.KindReceiver,
		Priority:    plugin.PriorityDefault,
		Factory:     New,
	})
}

// Defaults for the receiver options.
const (
	DefaultBroker  = "localhost:9092"
	DefaultTopic   = "sensorhub.readings"
	DefaultTimeout = 10 * time.Second
)

// Writer is the part of *kafka.Writer the receiver uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds the KafkaOutput options.
type Config struct {
	Brokers []string
	Topic   string
	Timeout time.Duration
}

func parseConfig(opts component.Options) (Config, error) {
	cfg := Config{Topic: opts.String("topic", DefaultTopic)}

	var errs []error
	brokers, err := opts.Strings("brokers")
	if err != nil {
		errs = append(errs, err)
	}
	if len(brokers) == 0 {
		brokers = []string{DefaultBroker}
	}
	cfg.Brokers = brokers
	if cfg.Timeout, err = opts.Duration("timeout", DefaultTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.Topic == "" {
		errs = append(errs, errors.New("topic must not be empty"))
	}
	return cfg, errors.Join(errs...)
}

// Receiver writes readings through a Kafka writer.
type Receiver struct {
	name    string
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	writer Writer
}

// New builds a KafkaOutput. Options: "brokers" (list), "topic" and
// "timeout". The writer connects lazily on the first update.
func New(ctx *plugin.Context, name string, opts component.Options) (component.Component, error) {
	cfg, err := parseConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := ctx.ComponentLogger(plugin.KindReceiver, name)

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: cfg.Timeout,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	}
	logger.Info("Kafka writer configured",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic))
	return NewWithWriter(name, cfg.Timeout, w, logger), nil
}

// NewWithWriter creates a receiver writing through w.
func NewWithWriter(name string, timeout time.Duration, w Writer, logger *zap.Logger) *Receiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Receiver{name: name, timeout: timeout, writer: w, logger: logger}
}

// Name implements component.Receiver.
func (r *Receiver) Name() string { return r.name }

// Update implements component.Receiver. Readings of one sensor share a
// key, so they land on one partition in order.
func (r *Receiver) Update(s *component.Sensor) error {
	r.mu.Lock()
	w := r.writer
	r.mu.Unlock()
	if w == nil {
		return nil
	}

	msg := format.NewMessage(r.name, s)
	payload, err := msg.JSON()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	err = w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Sensor),
		Value: payload,
		Time:  msg.Timestamp,
		Headers: []kafka.Header{
			{Key: "id", Value: []byte(msg.ID)},
			{Key: "quantity", Value: []byte(msg.Quantity)},
			{Key: "unit", Value: []byte(msg.Unit)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", msg.Sensor, err)
	}
	return nil
}

// Close implements component.Receiver. Pending writes are flushed.
func (r *Receiver) Close() error {
	r.mu.Lock()
	w := r.writer
	r.writer = nil
	r.mu.Unlock()

	if w == nil {
		return nil
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}
