// internal/driver/registry.go
package driver

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"labdevice-service/internal/model"
	"labdevice-service/internal/protocol"
	"labdevice-service/pkg/driver"
)

// ControllerOptions are the protocol settings passed to a controller factory
type ControllerOptions struct {
	Name              string
	Port              string
	Timeout           time.Duration
	MoveTimeoutFactor int
	DescriptionReads  int
}

// ControllerFactory identifies a controller on an open transport. The
// factory owns transport from then on, including on failure.
type ControllerFactory func(transport protocol.Transport, options ControllerOptions, logger *zap.Logger) (driver.Controller, error)

// Registry manages controller driver registration and creation
type Registry struct {
	drivers map[DriverKey]ControllerFactory
	mu      sync.RWMutex
	logger  *zap.Logger
}

// DriverKey uniquely identifies a driver
type DriverKey struct {
	Brand model.ControllerBrand `json:"brand"`
	Model string                `json:"model"`
}

// NewRegistry creates a new driver registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		drivers: make(map[DriverKey]ControllerFactory),
		logger:  logger,
	}
}

// Register registers a controller factory. Model "*" matches any model of
// the brand.
func (r *Registry) Register(brand model.ControllerBrand, controllerModel string, factory ControllerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.drivers[DriverKey{Brand: brand, Model: controllerModel}] = factory
	r.logger.Info("Driver registered",
		zap.String("brand", string(brand)),
		zap.String("model", controllerModel),
	)
}

// lookup finds the factory for brand and model: exact match first, then
// any model of the brand, then the generic driver
func (r *Registry) lookup(brand model.ControllerBrand, controllerModel string) (ControllerFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := DriverKey{Brand: brand, Model: controllerModel}
	if factory, exists := r.drivers[key]; exists {
		return factory, true
	}

	key.Model = "*"
	if factory, exists := r.drivers[key]; exists {
		return factory, true
	}

	key.Brand = model.BrandGeneric
	factory, exists := r.drivers[key]
	return factory, exists
}

// CreateController identifies a controller on transport. If no driver
// matches, transport is closed.
func (r *Registry) CreateController(brand model.ControllerBrand, controllerModel string, transport protocol.Transport, options ControllerOptions) (driver.Controller, error) {
	factory, ok := r.lookup(brand, controllerModel)
	if !ok {
		transport.Close()
		return nil, fmt.Errorf("no driver found for brand=%s, model=%s", brand, controllerModel)
	}

	return factory(transport, options, r.logger.With(zap.String("controller", options.Name)))
}

// ListDrivers returns all registered drivers
func (r *Registry) ListDrivers() []DriverKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]DriverKey, 0, len(r.drivers))
	for key := range r.drivers {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Brand != keys[j].Brand {
			return keys[i].Brand < keys[j].Brand
		}
		return keys[i].Model < keys[j].Model
	})
	return keys
}

// IsSupported checks if a controller is supported
func (r *Registry) IsSupported(brand model.ControllerBrand, controllerModel string) bool {
	_, ok := r.lookup(brand, controllerModel)
	return ok
}
