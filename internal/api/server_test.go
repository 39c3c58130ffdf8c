package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sensorhub/internal/metrics"
	"sensorhub/internal/router"
	"sensorhub/pkg/component"
	"sensorhub/pkg/testutil"

	"go.uber.org/zap"
)

type fakeSource struct {
	devices   []component.Device
	receivers []component.Receiver
	routes    []router.Route
}

func (f *fakeSource) Devices() []component.Device     { return f.devices }
func (f *fakeSource) Receivers() []component.Receiver { return f.receivers }
func (f *fakeSource) Routes() []router.Route          { return f.routes }

func newTestSource() *fakeSource {
	device := testutil.NewScriptedDevice(nil, "Dev", 1, 0, "S1", "S2")
	receiver := testutil.NewRecordingReceiver("Rec")
	device.Sensor("S1").Subscribe(receiver)
	device.Sensor("S1").Set(component.Scalar(7), time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	return &fakeSource{
		devices:   []component.Device{device},
		receivers: []component.Receiver{receiver},
		routes:    []router.Route{{Device: "Dev", Sensor: "S1", Receiver: "Rec"}},
	}
}

func get(t *testing.T, server *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	return w
}

func TestHandleDevices(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	server := NewServer(newTestSource(), nil, logger, 8080)

	w := get(t, server, "/api/devices")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", ct)
	}

	var response []struct {
		Name    string `json:"name"`
		Sensors []struct {
			Name        string     `json:"name"`
			Quantity    string     `json:"quantity"`
			Value       *float64   `json:"value"`
			Timestamp   *time.Time `json:"timestamp"`
			Subscribers int        `json:"subscribers"`
		} `json:"sensors"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if len(response) != 1 || response[0].Name != "Dev" {
		t.Fatalf("Expected one device Dev, got %+v", response)
	}
	sensors := response[0].Sensors
	if len(sensors) != 2 {
		t.Fatalf("Expected 2 sensors, got %d", len(sensors))
	}
	if sensors[0].Value == nil || *sensors[0].Value != 7 {
		t.Errorf("Expected S1 value 7, got %v", sensors[0].Value)
	}
	if sensors[0].Subscribers != 1 {
		t.Errorf("Expected S1 to have 1 subscriber, got %d", sensors[0].Subscribers)
	}
	if sensors[0].Quantity != "count" {
		t.Errorf("Expected quantity count, got %s", sensors[0].Quantity)
	}
	if sensors[1].Value != nil || sensors[1].Timestamp != nil {
		t.Errorf("Expected S2 without a reading, got %v at %v", sensors[1].Value, sensors[1].Timestamp)
	}
}

func TestHandleReceiversAndRoutes(t *testing.T) {
	server := NewServer(newTestSource(), nil, nil, 8080)

	var receivers []ReceiverResponse
	if err := json.NewDecoder(get(t, server, "/api/receivers").Body).Decode(&receivers); err != nil {
		t.Fatalf("Failed to decode receivers: %v", err)
	}
	if len(receivers) != 1 || receivers[0].Name != "Rec" {
		t.Fatalf("Expected receiver Rec, got %+v", receivers)
	}
	if receivers[0].Type != "testutil.RecordingReceiver" {
		t.Errorf("Expected type testutil.RecordingReceiver, got %s", receivers[0].Type)
	}

	var routes []RouteResponse
	if err := json.NewDecoder(get(t, server, "/api/routes").Body).Decode(&routes); err != nil {
		t.Fatalf("Failed to decode routes: %v", err)
	}
	want := RouteResponse{Device: "Dev", Sensor: "S1", Receiver: "Rec"}
	if len(routes) != 1 || routes[0] != want {
		t.Errorf("Expected %+v, got %+v", want, routes)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server := NewServer(newTestSource(), nil, nil, 8080)

	for _, path := range []string{"/api/devices", "/api/receivers", "/api/routes", "/health"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected status 405, got %d", path, w.Code)
		}
	}
}

func TestHandleHealth(t *testing.T) {
	server := NewServer(newTestSource(), nil, nil, 8080)

	w := get(t, server, "/health")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%v'", response["status"])
	}
	if response["devices"] != 1.0 {
		t.Errorf("Expected 1 device, got %v", response["devices"])
	}
}

func TestSitemapAndMetrics(t *testing.T) {
	m := metrics.New()
	m.DeviceStarted()
	server := NewServer(newTestSource(), m.Handler(), nil, 8080)

	w := get(t, server, "/")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "/api/devices") {
		t.Errorf("Expected sitemap to list /api/devices, got %s", w.Body.String())
	}

	if w := get(t, server, "/nope"); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown path, got %d", w.Code)
	}

	w = get(t, server, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "sensorhub_devices_running 1") {
		t.Errorf("Expected devices gauge in metrics output")
	}

	bare := NewServer(newTestSource(), nil, nil, 8080)
	if w := get(t, bare, "/metrics"); w.Code != http.StatusNotFound {
		t.Errorf("Expected /metrics to be absent without a handler, got %d", w.Code)
	}
}
