// Package mqtt provides MqttOutput, a receiver that publishes every reading
// as a JSON message to an MQTT broker.
package mqtt

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"sensorhub/internal/receivers/format"
	"sensorhub/pkg/component"
	"sensorhub/pkg/plugin"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

func init() {
	plugin.Register(plugin.FactoryInfo{
		Name:        "MqttOutput",
		Description: "Publishes readings to an MQTT broker",
		Kind:        plugin.KindReceiver,
		Priority:    plugin.PriorityDefault,
		Factory:     New,
	})
}

// Defaults for the receiver options.
const (
	DefaultBroker  = "tcp://localhost:1883"
	DefaultTopic   = "sensorhub/{sensor}"
	DefaultTimeout = 5 * time.Second

	disconnectQuiesce = 250 // ms
)

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("mqtt operation timed out")

// Client is the part of mqtt.Client the receiver uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Config holds the MqttOutput options.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Topic may contain {sensor}, {quantity} and {receiver} placeholders.
	Topic    string
	QoS      byte
	Retained bool
	Timeout  time.Duration
}

func parseConfig(name string, opts component.Options) (Config, error) {
	cfg := Config{
		Broker:   opts.String("broker", DefaultBroker),
		ClientID: opts.String("client_id", "sensorhub-"+name),
		Username: opts.String("username", ""),
		Password: opts.String("password", ""),
		Topic:    opts.String("topic", DefaultTopic),
	}

	var errs []error
	qos, err := opts.Int("qos", 0)
	if err != nil {
		errs = append(errs, err)
	} else if qos < 0 || qos > 2 {
		errs = append(errs, fmt.Errorf("qos must be 0, 1 or 2, got %d", qos))
	}
	cfg.QoS = byte(qos)

	if cfg.Retained, err = opts.Bool("retained", false); err != nil {
		errs = append(errs, err)
	}
	if cfg.Timeout, err = opts.Duration("timeout", DefaultTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.Topic == "" {
		errs = append(errs, errors.New("topic must not be empty"))
	}
	return cfg, errors.Join(errs...)
}

// topic expands the placeholders of the topic template.
func (c Config) topic(receiver string, s *component.Sensor) string {
	return strings.NewReplacer(
		"{sensor}", s.Name(),
		"{quantity}", s.Quantity(),
		"{receiver}", receiver,
	).Replace(c.Topic)
}

// Receiver publishes readings through a connected client.
type Receiver struct {
	name   string
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	client Client
}

// New builds a MqttOutput and connects it. Options: "broker", "client_id",
// "username", "password", "topic", "qos", "retained" and "timeout".
func New(ctx *plugin.Context, name string, opts component.Options) (component.Component, error) {
	cfg, err := parseConfig(name, opts)
	if err != nil {
		return nil, err
	}
	logger := ctx.ComponentLogger(plugin.KindReceiver, name)

	clientOpts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.Timeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("MQTT connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info("MQTT connected", zap.String("broker", cfg.Broker))
		})
	if cfg.Username != "" {
		clientOpts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(clientOpts)
	if err := wait(client.Connect(), cfg.Timeout); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Broker, err)
	}
	return NewWithClient(name, cfg, client, logger), nil
}

// NewWithClient creates a receiver publishing through an already connected
// client.
func NewWithClient(name string, cfg Config, client Client, logger *zap.Logger) *Receiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Receiver{name: name, cfg: cfg, client: client, logger: logger}
}

// Name implements component.Receiver.
func (r *Receiver) Name() string { return r.name }

// Update implements component.Receiver. It blocks until the broker
// acknowledges the message or the timeout passes.
func (r *Receiver) Update(s *component.Sensor) error {
	r.mu.Lock()
	client := r.client
	r.mu.Unlock()
	if client == nil {
		return nil
	}

	payload, err := format.NewMessage(r.name, s).JSON()
	if err != nil {
		return err
	}
	topic := r.cfg.topic(r.name, s)
	if err := wait(client.Publish(topic, r.cfg.QoS, r.cfg.Retained, payload), r.cfg.Timeout); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Close implements component.Receiver.
func (r *Receiver) Close() error {
	r.mu.Lock()
	client := r.client
	r.client = nil
	r.mu.Unlock()

	if client != nil {
		client.Disconnect(disconnectQuiesce)
		r.logger.Info("MQTT disconnected")
	}
	return nil
}

func wait(token mqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return ErrTimeout
	}
	return token.Error()
}
