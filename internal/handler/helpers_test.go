package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"labdevice-service/internal/config"
	"labdevice-service/internal/driver"
	"labdevice-service/internal/middleware"
	"labdevice-service/internal/model"
	"labdevice-service/internal/protocol"
	"labdevice-service/internal/repository"
	"labdevice-service/internal/service"
	"labdevice-service/internal/testutil"
	"labdevice-service/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	scopePort = "/dev/ttyUSB0"
	darkPort  = "/dev/ttyUSB1"
)

type stubScanner struct {
	found []*model.DiscoveredController
}

func (s *stubScanner) Scan(ctx context.Context) ([]*model.DiscoveredController, error) {
	return s.found, nil
}

func (s *stubScanner) GetScannerType() string { return "serial" }
func (s *stubScanner) IsAvailable() bool      { return true }

type stubDatabase struct {
	err error
}

func (d *stubDatabase) HealthCheck(ctx context.Context) error { return d.err }
func (d *stubDatabase) GetStats() map[string]interface{} {
	return map[string]interface{}{"open_connections": 1}
}

func controllerConfig(name, port string) config.ControllerConfig {
	return config.ControllerConfig{
		Name:  name,
		Brand: string(model.BrandPrior),
		Model: driver.ModelProScanIII,
		Transport: config.TransportConfig{
			Type:     "serial",
			Port:     port,
			BaudRate: 9600,
		},
		Timeout:           20 * time.Millisecond,
		MoveTimeoutFactor: 10,
		DescriptionReads:  2,
	}
}

type testServer struct {
	engine      *gin.Engine
	bus         *EventBus
	controllers *service.ControllerService
	operations  *service.OperationService
	repo        repository.OperationRepository
	websocket   *WebSocketHandler
	logger      *zap.Logger
}

type serverOption func(*serverOptions)

type serverOptions struct {
	db          DatabaseChecker
	controllers []config.ControllerConfig
}

func withDatabase(db DatabaseChecker) serverOption {
	return func(o *serverOptions) { o.db = db }
}

func withControllers(cc ...config.ControllerConfig) serverOption {
	return func(o *serverOptions) { o.controllers = cc }
}

// newTestServer wires handlers to services driving simulated controllers
// keyed by port. Ports without a simulator stay silent.
func newTestServer(t *testing.T, sims map[string]*testutil.ProScanSim, opts ...serverOption) *testServer {
	t.Helper()

	options := &serverOptions{
		controllers: []config.ControllerConfig{controllerConfig("scope", scopePort)},
	}
	for _, opt := range opts {
		opt(options)
	}

	cfg := &config.Config{
		App: config.AppConfig{Name: "labdevice-service", Version: "test"},
		Device: config.DeviceConfig{
			MaxRetryAttempts: 1,
			RetryDelay:       time.Millisecond,
		},
		Controllers: options.controllers,
	}

	logger := zaptest.NewLogger(t)
	s := &testServer{
		bus:    NewEventBus(logger),
		repo:   repository.NewMemoryOperationRepository(logger),
		logger: logger,
	}

	registry := driver.NewRegistry(logger)
	driver.RegisterDefaultDrivers(registry, logger)

	s.operations = service.NewOperationService(s.repo, s.bus, logger)
	s.controllers = service.NewControllerService(registry, s.operations, s.bus, cfg, logger)
	s.controllers.SetTransportOpener(func(tc *protocol.TransportConfig, _ *zap.Logger) (protocol.Transport, error) {
		respond := func(string) []testutil.Reply { return nil }
		if sim, ok := sims[tc.Port]; ok {
			respond = sim.Responder()
		}
		return protocol.NewMeteredTransport(testutil.NewFakePort(respond)), nil
	})
	_ = s.controllers.Start(context.Background())
	t.Cleanup(func() { _ = s.controllers.Shutdown(context.Background()) })

	discoveryService := service.NewDiscoveryServiceWithScanners(s.operations, s.bus, cfg, logger, &stubScanner{
		found: []*model.DiscoveredController{{Port: scopePort, Identified: true, InUse: true}},
	})
	s.websocket = NewWebSocketHandler(s.controllers, s.bus, nil, logger)

	health := NewHealthHandler(options.db, s.controllers, cfg, logger)
	controllers := NewControllerHandler(s.controllers, logger)
	devices := NewDeviceHandler(s.controllers, logger)
	operations := NewOperationHandler(s.operations, logger)
	discovery := NewDiscoveryHandler(discoveryService, logger)

	engine := gin.New()
	engine.ContextWithFallback = true
	engine.Use(middleware.RequestIDMiddleware())

	engine.GET("/health", health.HealthCheck)
	engine.GET("/ready", health.ReadinessCheck)
	engine.GET("/live", health.LivenessCheck)

	api := engine.Group("/api/v1")
	api.GET("/controllers", controllers.ListControllers)
	api.GET("/controllers/:controller", controllers.GetController)
	api.POST("/controllers/:controller/connect", controllers.ConnectController)
	api.POST("/controllers/:controller/disconnect", controllers.DisconnectController)
	api.GET("/controllers/:controller/stats", controllers.GetTransportStats)
	api.GET("/controllers/:controller/devices/:device", devices.GetDevice)
	api.POST("/controllers/:controller/devices/:device/move-by", devices.MoveBy)
	api.POST("/controllers/:controller/devices/:device/move-to", devices.MoveTo)
	api.POST("/controllers/:controller/devices/:device/enable", devices.EnableStage)
	api.GET("/controllers/:controller/devices/:device/position", devices.GetFilterPosition)
	api.PUT("/controllers/:controller/devices/:device/position", devices.SetFilterPosition)
	api.GET("/operations", operations.ListOperations)
	api.GET("/operations/:id", operations.GetOperation)
	api.POST("/discovery/scan", discovery.ScanControllers)
	api.GET("/discovery/results", discovery.GetLastResults)

	engine.GET("/ws/events", s.websocket.HandleEventConnection)
	engine.GET("/ws/controllers/:controller", s.websocket.HandleControllerConnection)

	s.engine = engine
	return s
}

func (s *testServer) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

type envelope[T any] struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Data      T               `json:"data"`
	Error     *utils.APIError `json:"error"`
	RequestID string          `json:"request_id"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) envelope[T] {
	t.Helper()

	var env envelope[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

// startBus runs the bus until the test ends
func startBus(t *testing.T, bus *EventBus) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		bus.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func statusOf(t *testing.T, w *httptest.ResponseRecorder) int {
	t.Helper()
	if w.Code >= http.StatusBadRequest {
		t.Logf("response body: %s", w.Body.String())
	}
	return w.Code
}
