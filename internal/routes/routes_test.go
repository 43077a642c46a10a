package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"labdevice-service/internal/config"
	"labdevice-service/internal/driver"
	"labdevice-service/internal/handler"
	"labdevice-service/internal/metrics"
	"labdevice-service/internal/middleware"
	"labdevice-service/internal/repository"
	"labdevice-service/internal/service"
)

func newEngine(t *testing.T, optional bool) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zaptest.NewLogger(t)
	cfg := &config.Config{
		App:      config.AppConfig{Name: "labdevice-service", Version: "test", Environment: "test"},
		Security: config.SecurityConfig{AllowedOrigins: []string{"*"}},
	}

	registry := driver.NewRegistry(logger)
	driver.RegisterDefaultDrivers(registry, logger)
	operations := service.NewOperationService(repository.NewMemoryOperationRepository(logger), nil, logger)
	controllers := service.NewControllerService(registry, operations, nil, cfg, logger)
	discovery := service.NewDiscoveryService(registry, controllers, operations, nil, cfg, logger)

	var ws *handler.WebSocketHandler
	var m *metrics.Metrics
	if optional {
		ws = handler.NewWebSocketHandler(controllers, handler.NewEventBus(logger), nil, logger)
		m = metrics.New(controllers)
	}

	return NewRouter(cfg, logger, nil, controllers, operations, discovery, ws, m).SetupRouter()
}

func serve(engine *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestRoutes(t *testing.T) {
	engine := newEngine(t, true)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/live", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusOK},
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/api/v1/controllers", http.StatusOK},
		{http.MethodGet, "/api/v1/controllers/scope", http.StatusNotFound},
		{http.MethodGet, "/api/v1/operations", http.StatusOK},
		{http.MethodGet, "/api/v1/discovery/results", http.StatusOK},
		{http.MethodGet, "/ws/stats", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/docs", http.StatusMovedPermanently},
		{http.MethodGet, "/nowhere", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := serve(engine, tt.method, tt.path)
			assert.Equal(t, tt.want, w.Code)
			assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
		})
	}

	w := serve(engine, http.MethodGet, "/docs")
	assert.Equal(t, "/swagger/index.html", w.Header().Get("Location"))
}

func TestOptionalRoutesNeedHandlers(t *testing.T) {
	engine := newEngine(t, false)

	w := serve(engine, http.MethodGet, "/ws/stats")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(engine, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(engine, http.MethodGet, "/api/v1/controllers")
	require.Equal(t, http.StatusOK, w.Code)
}
