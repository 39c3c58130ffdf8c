package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"sensorhub/internal/router"
	"sensorhub/pkg/component"

	"go.uber.org/zap"
)

// Source is the running system the API reports on.
type Source interface {
	Devices() []component.Device
	Receivers() []component.Receiver
	Routes() []router.Route
}

// Server provides HTTP API endpoints for a running hub
type Server struct {
	source Source
	logger *zap.Logger
	mux    *http.ServeMux
	server *http.Server
}

// NewServer creates a new API server. metrics may be nil, in which case
// /metrics is not served.
func NewServer(source Source, metrics http.Handler, logger *zap.Logger, port int) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		source: source,
		logger: logger.Named("api"),
		mux:    http.NewServeMux(),
	}

	s.mux.HandleFunc("/", s.handleSitemap)
	s.mux.HandleFunc("/api/devices", s.handleDevices)
	s.mux.HandleFunc("/api/receivers", s.handleReceivers)
	s.mux.HandleFunc("/api/routes", s.handleRoutes)
	s.mux.HandleFunc("/health", s.handleHealth)
	if metrics != nil {
		s.mux.Handle("/metrics", metrics)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler { return s.mux }

// SensorResponse describes one sensor and its latest reading
type SensorResponse struct {
	Name        string          `json:"name"`
	Quantity    string          `json:"quantity"`
	Unit        string          `json:"unit"`
	Value       component.Value `json:"value"`
	Timestamp   *time.Time      `json:"timestamp,omitempty"`
	Subscribers int             `json:"subscribers"`
}

// DeviceResponse describes one device
type DeviceResponse struct {
	Name    string           `json:"name"`
	Sensors []SensorResponse `json:"sensors"`
}

// ReceiverResponse describes one receiver
type ReceiverResponse struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// RouteResponse describes one resolved route
type RouteResponse struct {
	Device   string `json:"device"`
	Sensor   string `json:"sensor"`
	Receiver string `json:"receiver"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	devices := s.source.Devices()
	response := make([]DeviceResponse, 0, len(devices))
	for _, d := range devices {
		dr := DeviceResponse{Name: d.Name(), Sensors: []SensorResponse{}}
		for _, sensor := range d.Sensors() {
			reading := sensor.Reading()
			sr := SensorResponse{
				Name:        sensor.Name(),
				Quantity:    sensor.Quantity(),
				Unit:        sensor.Unit(),
				Value:       reading.Value,
				Subscribers: sensor.Subscribers(),
			}
			if !reading.Timestamp.IsZero() {
				ts := reading.Timestamp
				sr.Timestamp = &ts
			}
			dr.Sensors = append(dr.Sensors, sr)
		}
		response = append(response, dr)
	}
	s.writeJSON(w, r, response)
}

func (s *Server) handleReceivers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	receivers := s.source.Receivers()
	response := make([]ReceiverResponse, 0, len(receivers))
	for _, rc := range receivers {
		response = append(response, ReceiverResponse{
			Name: rc.Name(),
			Type: strings.TrimPrefix(fmt.Sprintf("%T", rc), "*"),
		})
	}
	s.writeJSON(w, r, response)
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	routes := s.source.Routes()
	response := make([]RouteResponse, 0, len(routes))
	for _, rt := range routes {
		response = append(response, RouteResponse{Device: rt.Device, Sensor: rt.Sensor, Receiver: rt.Receiver})
	}
	s.writeJSON(w, r, response)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)

	s.logger.Debug("Request served",
		zap.String("path", r.URL.Path),
		zap.String("remote_addr", r.RemoteAddr))
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"devices": len(s.source.Devices()),
	})
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

// Endpoints lists the documented endpoints.
var Endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap - lists all available API endpoints"},
	{Path: "/api/devices", Method: "GET", Description: "Devices, their sensors and latest readings"},
	{Path: "/api/receivers", Method: "GET", Description: "Receivers and their types"},
	{Path: "/api/routes", Method: "GET", Description: "Resolved sensor to receiver routes"},
	{Path: "/metrics", Method: "GET", Description: "Prometheus metrics"},
	{Path: "/health", Method: "GET", Description: "Health check endpoint - returns {\"status\": \"ok\"}"},
}

// handleSitemap returns a list of all available API endpoints
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	// Only handle requests to the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return 404 status code (for automation compatibility) but with helpful body
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)

	fmt.Fprintf(w, "Sensor Hub API\n")
	fmt.Fprintf(w, "==============\n\n")
	fmt.Fprintf(w, "Available endpoints:\n\n")
	for _, ep := range Endpoints {
		fmt.Fprintf(w, "  %-10s %-20s %s\n", ep.Method, ep.Path, ep.Description)
	}
	fmt.Fprintf(w, "\nExamples:\n\n")
	fmt.Fprintf(w, "  Latest readings:\n")
	fmt.Fprintf(w, "    curl http://localhost:8080/api/devices | jq\n\n")
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
