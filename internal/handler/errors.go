// internal/handler/errors.go
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"labdevice-service/internal/discovery"
	"labdevice-service/internal/driver/prior"
	"labdevice-service/internal/repository"
	"labdevice-service/internal/service"
	"labdevice-service/internal/utils"
	pkgdriver "labdevice-service/pkg/driver"
)

// statusForError maps service and driver errors to HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, pkgdriver.ErrInvalidAddress),
		errors.Is(err, pkgdriver.ErrInvalidArgument),
		errors.Is(err, service.ErrUnsupportedOperation),
		errors.Is(err, discovery.ErrUnknownScanner):
		return http.StatusBadRequest

	case errors.Is(err, service.ErrControllerNotFound),
		errors.Is(err, service.ErrDeviceNotFound),
		errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, pkgdriver.ErrNotReady),
		errors.Is(err, service.ErrControllerOffline),
		errors.Is(err, service.ErrConnectInProgress),
		errors.Is(err, service.ErrScanInProgress),
		errors.Is(err, discovery.ErrScannerUnavailable):
		return http.StatusConflict

	case errors.Is(err, prior.ErrNoReply):
		return http.StatusGatewayTimeout

	case errors.Is(err, prior.ErrProtocolViolation),
		errors.Is(err, prior.ErrHandshakeMismatch),
		errors.Is(err, prior.ErrDescriptionTruncated),
		errors.Is(err, prior.ErrLimitNotReached):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, logger *utils.ServiceLogger, message string, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		utils.LogError(logger.Logger, message, err)
	}
	utils.ErrorResponse(c, status, message, err)
}
