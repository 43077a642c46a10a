// internal/middleware/logging_middleware.go
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"labdevice-service/internal/utils"
)

// LoggingMiddleware logs one entry per request. Requests routed to a
// controller or device carry its label, and handler errors attached with
// c.Error are logged alongside.
func LoggingMiddleware(logger *utils.ServiceLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		duration := time.Since(startTime)

		fields := routeFields(c)
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
		}

		logger.LogAPIRequest(
			c.Request.Method,
			c.Request.URL.Path,
			c.Request.UserAgent(),
			c.ClientIP(),
			utils.GetRequestID(c),
			c.Writer.Status(),
			duration,
			fields...,
		)
	}
}

// routeFields names the matched route and the controller, device and
// operation it addresses
func routeFields(c *gin.Context) []zap.Field {
	var fields []zap.Field
	if route := c.FullPath(); route != "" {
		fields = append(fields, zap.String("route", route))
	}
	for _, param := range []struct{ name, key string }{
		{"controller", "controller"},
		{"device", "device"},
		{"id", "operation_id"},
	} {
		if v := c.Param(param.name); v != "" {
			fields = append(fields, zap.String(param.key, v))
		}
	}
	return fields
}
