// Package websocket provides WebSocketOutput, a receiver that streams
// readings as JSON messages over a WebSocket connection.
package websocket

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"sensorhub/internal/receivers/format"
	"sensorhub/pkg/component"
	"sensorhub/pkg/plugin"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func init() {
	plugin.Register(plugin.FactoryInfo{
		Name:        "WebSocketOutput",
		Description: "Streams readings over a WebSocket",
		Kind:        plugin.KindReceiver,
		Priority:    plugin.PriorityDefault,
		Factory:     New,
	})
}

// Message types of the stream protocol.
const (
	TypeAuthRequired = "auth_required"
	TypeAuth         = "auth"
	TypeAuthOK       = "auth_ok"
	TypeAuthInvalid  = "auth_invalid"
	TypeReading      = "reading"
)

// DefaultTimeout bounds the handshake and every write.
const DefaultTimeout = 5 * time.Second

var (
	// ErrNoURL is returned when the "url" option is missing.
	ErrNoURL = errors.New(`WebSocketOutput requires the "url" option`)

	// ErrAuthFailed is returned when the server rejects the token.
	ErrAuthFailed = errors.New("authentication failed: invalid token")
)

// Envelope is one message of the stream protocol.
type Envelope struct {
	Type        string          `json:"type"`
	AccessToken string          `json:"access_token,omitempty"`
	Reading     *format.Message `json:"reading,omitempty"`
}

// Receiver writes one Envelope per reading. A failed write drops the
// connection; the next update dials again.
type Receiver struct {
	name    string
	url     string
	token   string
	timeout time.Duration
	dialer  *websocket.Dialer
	logger  *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// New builds a WebSocketOutput and connects it. Options: "url" (required),
// "token" (enables the auth handshake) and "timeout".
func New(ctx *plugin.Context, name string, opts component.Options) (component.Component, error) {
	url := opts.String("url", "")
	if url == "" {
		return nil, ErrNoURL
	}
	timeout, err := opts.Duration("timeout", DefaultTimeout)
	if err != nil {
		return nil, err
	}
	return Dial(name, url, opts.String("token", ""), timeout, ctx.ComponentLogger(plugin.KindReceiver, name))
}

// Dial creates a receiver connected to url.
func Dial(name, url, token string, timeout time.Duration, logger *zap.Logger) (*Receiver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r := &Receiver{
		name:    name,
		url:     url,
		token:   token,
		timeout: timeout,
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
		logger:  logger,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.connectLocked(); err != nil {
		return nil, err
	}
	return r, nil
}

// connectLocked dials and authenticates. Callers hold r.mu.
func (r *Receiver) connectLocked() error {
	conn, _, err := r.dialer.Dial(r.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	if r.token != "" {
		if err := r.authenticate(conn); err != nil {
			conn.Close()
			return err
		}
	}
	r.conn = conn
	r.logger.Info("WebSocket connected", zap.String("url", r.url))
	return nil
}

func (r *Receiver) authenticate(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(r.timeout))
	defer conn.SetReadDeadline(time.Time{})

	var msg Envelope
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("failed to read %s: %w", TypeAuthRequired, err)
	}
	if msg.Type != TypeAuthRequired {
		return fmt.Errorf("expected %s, got %s", TypeAuthRequired, msg.Type)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(r.timeout))
	if err := conn.WriteJSON(Envelope{Type: TypeAuth, AccessToken: r.token}); err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}

	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}
	switch msg.Type {
	case TypeAuthOK:
		return nil
	case TypeAuthInvalid:
		return ErrAuthFailed
	default:
		return fmt.Errorf("expected %s, got %s", TypeAuthOK, msg.Type)
	}
}

// Name implements component.Receiver.
func (r *Receiver) Name() string { return r.name }

// Update implements component.Receiver.
func (r *Receiver) Update(s *component.Sensor) error {
	msg := format.NewMessage(r.name, s)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if r.conn == nil {
		if err := r.connectLocked(); err != nil {
			return err
		}
	}

	_ = r.conn.SetWriteDeadline(time.Now().Add(r.timeout))
	if err := r.conn.WriteJSON(Envelope{Type: TypeReading, Reading: &msg}); err != nil {
		r.conn.Close()
		r.conn = nil
		r.logger.Warn("WebSocket write failed, will reconnect", zap.Error(err))
		return fmt.Errorf("failed to send reading of %s: %w", msg.Sensor, err)
	}
	return nil
}

// Close implements component.Receiver. A close frame is sent before the
// connection is dropped.
func (r *Receiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.conn == nil {
		return nil
	}

	deadline := time.Now().Add(r.timeout)
	_ = r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	err := r.conn.Close()
	r.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close WebSocket: %w", err)
	}
	return nil
}
