// internal/driver/registry_init.go
package driver

import (
	"go.uber.org/zap"

	"labdevice-service/internal/driver/prior"
	"labdevice-service/internal/model"
	"labdevice-service/internal/protocol"
	"labdevice-service/pkg/driver"
)

// ModelProScanIII is the configuration name of the Prior ProScanIII
const ModelProScanIII = "PROSCAN_III"

// RegisterDefaultDrivers registers all default controller drivers
func RegisterDefaultDrivers(registry *Registry, logger *zap.Logger) {
	registerPriorDrivers(registry, logger)
}

// registerPriorDrivers registers Prior Scientific controller drivers
func registerPriorDrivers(registry *Registry, logger *zap.Logger) {
	registry.Register(model.BrandPrior, ModelProScanIII, newProScanIII)

	// Prior controllers without a dedicated driver speak the ProScan protocol
	registry.Register(model.BrandPrior, "*", newProScanIII)

	logger.Info("Prior controller drivers registered", zap.Int("models", 2))
}

func newProScanIII(transport protocol.Transport, options ControllerOptions, logger *zap.Logger) (driver.Controller, error) {
	return prior.NewProScanIII(transport, prior.ConnectionConfig{
		Port:              options.Port,
		Timeout:           options.Timeout,
		MoveTimeoutFactor: options.MoveTimeoutFactor,
		DescriptionReads:  options.DescriptionReads,
	}, logger)
}
