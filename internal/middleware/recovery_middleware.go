// internal/middleware/recovery_middleware.go
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"labdevice-service/internal/utils"
)

// RecoveryMiddleware turns a handler panic into a 500 envelope and logs it
// with the request id and the controller or device the request addressed
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		reqLogger := utils.LoggerWithRequestID(logger, utils.GetRequestID(c))
		fields := append(routeFields(c),
			zap.Any("panic", recovered),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Stack("stacktrace"),
		)
		reqLogger.Error("Panic recovered", fields...)

		utils.ErrorResponse(c, http.StatusInternalServerError, "Internal server error", nil)
	})
}
