package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"sensorhub/internal/receivers/format"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamPath is the endpoint the mock server accepts connections on.
const StreamPath = "/api/readings"

// StreamMessage is a message of the reading stream protocol.
type StreamMessage struct {
	Type        string          `json:"type"`
	AccessToken string          `json:"access_token,omitempty"`
	Reading     *format.Message `json:"reading,omitempty"`
}

// MockWebSocketServer is a reading sink for WebSocketOutput tests. With a
// non-empty token it runs the auth_required/auth/auth_ok handshake before
// accepting readings.
type MockWebSocketServer struct {
	server *httptest.Server
	token  string

	connsMu sync.Mutex
	conns   []*websocket.Conn
	accepts int
	rejects int

	mu       sync.Mutex
	readings []format.Message
}

// NewMockWebSocketServer starts a server that is closed with the test.
func NewMockWebSocketServer(t testing.TB, token string) *MockWebSocketServer {
	t.Helper()
	s := &MockWebSocketServer{token: token}
	mux := http.NewServeMux()
	mux.HandleFunc(StreamPath, s.handleWebSocket)
	s.server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// URL returns the ws:// address of the stream endpoint.
func (s *MockWebSocketServer) URL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + StreamPath
}

// Close drops every connection and stops the server.
func (s *MockWebSocketServer) Close() {
	s.DropConnections()
	s.server.Close()
}

// DropConnections closes the server side of every open connection.
func (s *MockWebSocketServer) DropConnections() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

// Accepted returns how many connections completed the handshake.
func (s *MockWebSocketServer) Accepted() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return s.accepts
}

// Rejected returns how many connections presented a wrong token.
func (s *MockWebSocketServer) Rejected() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return s.rejects
}

// Readings returns a copy of the readings received so far.
func (s *MockWebSocketServer) Readings() []format.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]format.Message, len(s.readings))
	copy(out, s.readings)
	return out
}

// FilterReadings filters readings by sensor name
func FilterReadings(readings []format.Message, sensor string) []format.Message {
	var filtered []format.Message
	for _, r := range readings {
		if r.Sensor == sensor {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// WaitForReadings waits until at least n readings arrived.
func (s *MockWebSocketServer) WaitForReadings(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		got := len(s.readings)
		s.mu.Unlock()
		if got >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func (s *MockWebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if s.token != "" && !s.authenticate(conn) {
		return
	}

	s.connsMu.Lock()
	s.conns = append(s.conns, conn)
	s.accepts++
	s.connsMu.Unlock()

	for {
		var msg StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type != "reading" || msg.Reading == nil {
			continue
		}
		s.mu.Lock()
		s.readings = append(s.readings, *msg.Reading)
		s.mu.Unlock()
	}
}

func (s *MockWebSocketServer) authenticate(conn *websocket.Conn) bool {
	if err := conn.WriteJSON(StreamMessage{Type: "auth_required"}); err != nil {
		return false
	}
	var msg StreamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return false
	}
	if msg.Type != "auth" || msg.AccessToken != s.token {
		s.connsMu.Lock()
		s.rejects++
		s.connsMu.Unlock()
		_ = conn.WriteJSON(StreamMessage{Type: "auth_invalid"})
		return false
	}
	return conn.WriteJSON(StreamMessage{Type: "auth_ok"}) == nil
}
