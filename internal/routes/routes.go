// internal/routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"labdevice-service/internal/config"
	"labdevice-service/internal/handler"
	"labdevice-service/internal/metrics"
	"labdevice-service/internal/middleware"
	"labdevice-service/internal/service"
	"labdevice-service/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config            *config.Config
	logger            *zap.Logger
	db                handler.DatabaseChecker
	controllerService *service.ControllerService
	operationService  *service.OperationService
	discoveryService  *service.DiscoveryService
	wsHandler         *handler.WebSocketHandler
	metrics           *metrics.Metrics
}

// NewRouter creates a new router instance. db is nil when the journal is
// kept in memory.
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	db handler.DatabaseChecker,
	controllerService *service.ControllerService,
	operationService *service.OperationService,
	discoveryService *service.DiscoveryService,
	wsHandler *handler.WebSocketHandler,
	metrics *metrics.Metrics,
) *Router {
	return &Router{
		config:            config,
		logger:            logger,
		db:                db,
		controllerService: controllerService,
		operationService:  operationService,
		discoveryService:  discoveryService,
		wsHandler:         wsHandler,
		metrics:           metrics,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else if r.config.IsDebugEnabled() {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	// handlers pass *gin.Context as context.Context; let it carry the
	// request's cancellation
	router.ContextWithFallback = true

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(r.logger))

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Security))
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.db, r.controllerService, r.config, r.logger)
	controllerHandler := handler.NewControllerHandler(r.controllerService, r.logger)
	deviceHandler := handler.NewDeviceHandler(r.controllerService, r.logger)
	operationHandler := handler.NewOperationHandler(r.operationService, r.logger)
	discoveryHandler := handler.NewDiscoveryHandler(r.discoveryService, r.logger)

	r.addHealthRoutes(router, healthHandler)

	apiV1 := router.Group("/api/v1")
	r.addControllerRoutes(apiV1, controllerHandler, deviceHandler)
	r.addOperationRoutes(apiV1, operationHandler)
	r.addDiscoveryRoutes(apiV1, discoveryHandler)

	if r.wsHandler != nil {
		r.addWebSocketRoutes(router, r.wsHandler)
	}
	if r.metrics != nil {
		r.addMetricsRoutes(router)
	}

	r.addDocumentationRoutes(router)

	r.logger.Info("All routes configured successfully")
}

// addHealthRoutes sets up health check routes
func (r *Router) addHealthRoutes(router *gin.Engine, handler *handler.HealthHandler) {
	health := router.Group("")
	{
		health.GET("/health", handler.HealthCheck)
		health.GET("/ready", handler.ReadinessCheck)
		health.GET("/live", handler.LivenessCheck)
	}
}

// addControllerRoutes sets up controller and device routes
func (r *Router) addControllerRoutes(api *gin.RouterGroup, controllerHandler *handler.ControllerHandler, deviceHandler *handler.DeviceHandler) {
	controllers := api.Group("/controllers")
	{
		controllers.GET("", controllerHandler.ListControllers)

		controller := controllers.Group("/:controller")
		{
			controller.GET("", controllerHandler.GetController)
			controller.POST("/connect", controllerHandler.ConnectController)
			controller.POST("/disconnect", controllerHandler.DisconnectController)
			controller.GET("/stats", controllerHandler.GetTransportStats)

			device := controller.Group("/devices/:device")
			{
				device.GET("", deviceHandler.GetDevice)
				device.POST("/move-by", deviceHandler.MoveBy)
				device.POST("/move-to", deviceHandler.MoveTo)
				device.POST("/enable", deviceHandler.EnableStage)
				device.GET("/position", deviceHandler.GetFilterPosition)
				device.PUT("/position", deviceHandler.SetFilterPosition)
			}
		}
	}
}

// addOperationRoutes sets up operation journal routes
func (r *Router) addOperationRoutes(api *gin.RouterGroup, handler *handler.OperationHandler) {
	operations := api.Group("/operations")
	{
		operations.GET("", handler.ListOperations)
		operations.GET("/:id", handler.GetOperation)
	}
}

// addDiscoveryRoutes sets up controller discovery routes
func (r *Router) addDiscoveryRoutes(api *gin.RouterGroup, handler *handler.DiscoveryHandler) {
	discovery := api.Group("/discovery")
	{
		discovery.POST("/scan", handler.ScanControllers)
		discovery.GET("/results", handler.GetLastResults)
	}
}

// addWebSocketRoutes sets up WebSocket routes
func (r *Router) addWebSocketRoutes(router *gin.Engine, handler *handler.WebSocketHandler) {
	ws := router.Group("/ws")
	{
		ws.GET("/events", handler.HandleEventConnection)
		ws.GET("/controllers/:controller", handler.HandleControllerConnection)
		ws.GET("/stats", handler.GetConnectionStats)
	}
}

// addMetricsRoutes exposes Prometheus metrics
func (r *Router) addMetricsRoutes(router *gin.Engine) {
	router.GET("/metrics", gin.WrapH(r.metrics.Handler()))
}

// addDocumentationRoutes sets up documentation routes
func (r *Router) addDocumentationRoutes(router *gin.Engine) {
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	router.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
}
