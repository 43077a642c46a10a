// internal/service/controller_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"labdevice-service/internal/config"
	"labdevice-service/internal/driver"
	"labdevice-service/internal/driver/prior"
	"labdevice-service/internal/model"
	"labdevice-service/internal/protocol"
	"labdevice-service/internal/utils"
	"labdevice-service/pkg/devicetypes"
	pkgdriver "labdevice-service/pkg/driver"
)

// TransportOpener opens the transport of a configured controller
type TransportOpener func(cfg *protocol.TransportConfig, logger *zap.Logger) (protocol.Transport, error)

func openTransport(cfg *protocol.TransportConfig, logger *zap.Logger) (protocol.Transport, error) {
	return protocol.CreateTransport(cfg, logger)
}

// micronScaler is implemented by stages that know their microstep size
type micronScaler interface {
	MicrostepsPerMicron() (int, error)
}

type managedController struct {
	config     config.ControllerConfig
	info       model.Controller
	controller pkgdriver.Controller
	transport  protocol.Transport
}

// ControllerService owns the configured controllers and their devices
type ControllerService struct {
	registry   *driver.Registry
	operations *OperationService
	events     EventPublisher
	config     *config.Config
	logger     *utils.ServiceLogger
	open       TransportOpener

	mu          sync.RWMutex
	controllers map[string]*managedController
}

// NewControllerService creates a new controller service. Controllers are
// registered offline; Start connects them.
func NewControllerService(
	registry *driver.Registry,
	operations *OperationService,
	events EventPublisher,
	cfg *config.Config,
	logger *zap.Logger,
) *ControllerService {
	if events == nil {
		events = discardPublisher{}
	}

	cs := &ControllerService{
		registry:    registry,
		operations:  operations,
		events:      events,
		config:      cfg,
		logger:      utils.NewServiceLogger(logger, "controller-service"),
		open:        openTransport,
		controllers: make(map[string]*managedController),
	}

	for _, cc := range cfg.Controllers {
		cs.controllers[cc.Name] = &managedController{
			config: cc,
			info: model.Controller{
				Name:           cc.Name,
				Brand:          model.ControllerBrand(cc.Brand),
				Model:          cc.Model,
				ConnectionType: model.ConnectionType(strings.ToUpper(cc.Transport.Type)),
				Address:        cc.Transport.Address(),
				Status:         model.ControllerStatusOffline,
				Devices:        []model.DeviceSummary{},
			},
		}
	}
	return cs
}

// SetTransportOpener replaces how controller transports are opened
func (cs *ControllerService) SetTransportOpener(open TransportOpener) {
	cs.open = open
}

// Start connects every configured controller. Controllers that fail stay
// registered in ERROR state and the joined errors are returned.
func (cs *ControllerService) Start(ctx context.Context) error {
	var errs []error
	for _, name := range cs.names() {
		if err := cs.Connect(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Connect opens the transport and identifies the controller, retrying
// transient failures. A controller that answers the handshake wrongly is
// not retried.
func (cs *ControllerService) Connect(ctx context.Context, name string) error {
	mc, err := cs.lookup(name)
	if err != nil {
		return err
	}

	cs.mu.Lock()
	if mc.controller != nil {
		cs.mu.Unlock()
		return nil
	}
	if mc.info.Status == model.ControllerStatusConnecting {
		cs.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConnectInProgress, name)
	}
	mc.info.Status = model.ControllerStatusConnecting
	cs.mu.Unlock()

	deviceLogger := utils.NewDeviceLogger(cs.logger.Logger, name, "", "controller")

	var (
		controller pkgdriver.Controller
		transport  protocol.Transport
	)
	_, err = cs.operations.Execute(ctx, name, "", model.OperationTypeConnect,
		model.JSONObject{"address": mc.info.Address},
		func() (model.JSONObject, error) {
			retryErr := utils.Retry(ctx, cs.retryPolicy(), func(attempt int) error {
				var attemptErr error
				controller, transport, attemptErr = cs.connectOnce(mc.config)
				if attemptErr != nil {
					deviceLogger.Warn("Connect attempt failed", zap.Int("attempt", attempt), zap.Error(attemptErr))
				}
				if errors.Is(attemptErr, prior.ErrHandshakeMismatch) {
					return utils.NonRetryable(attemptErr)
				}
				return attemptErr
			})
			if retryErr != nil {
				return nil, retryErr
			}
			return model.JSONObject{"devices": len(controller.Devices())}, nil
		},
	)
	deviceLogger.LogConnection("connect", err)

	cs.mu.Lock()
	if err != nil {
		msg := err.Error()
		mc.info.Status = model.ControllerStatusError
		mc.info.LastError = &msg
		info := mc.info
		cs.mu.Unlock()

		cs.publishController(model.EventControllerError, info)
		return fmt.Errorf("failed to connect controller %s: %w", name, err)
	}

	now := time.Now()
	mc.controller = controller
	mc.transport = transport
	mc.info.Status = model.ControllerStatusOnline
	mc.info.ConnectedAt = &now
	mc.info.LastError = nil
	mc.info.Devices = model.SummarizeDevices(controller.Devices())
	info := mc.info
	cs.mu.Unlock()

	cs.publishController(model.EventControllerConnected, info)
	return nil
}

func (cs *ControllerService) connectOnce(cc config.ControllerConfig) (pkgdriver.Controller, protocol.Transport, error) {
	transport, err := cs.open(&protocol.TransportConfig{
		Type:     model.ConnectionType(strings.ToUpper(cc.Transport.Type)),
		Port:     cc.Transport.Port,
		BaudRate: cc.Transport.BaudRate,
		Host:     cc.Transport.Host,
		TCPPort:  cc.Transport.TCPPort,
		Timeout:  cc.Timeout,
	}, cs.logger.Logger)
	if err != nil {
		return nil, nil, err
	}

	controller, err := cs.registry.CreateController(model.ControllerBrand(cc.Brand), cc.Model, transport, driver.ControllerOptions{
		Name:              cc.Name,
		Port:              cc.Transport.Address(),
		Timeout:           cc.Timeout,
		MoveTimeoutFactor: cc.MoveTimeoutFactor,
		DescriptionReads:  cc.DescriptionReads,
	})
	if err != nil {
		return nil, nil, err
	}
	return controller, transport, nil
}

func (cs *ControllerService) retryPolicy() utils.RetryPolicy {
	policy := utils.DefaultRetryPolicy()
	if cs.config.Device.MaxRetryAttempts > 0 {
		policy.MaxAttempts = cs.config.Device.MaxRetryAttempts
	}
	if cs.config.Device.RetryDelay > 0 {
		policy.InitialDelay = cs.config.Device.RetryDelay
	}
	if cs.config.Device.MaxRetryDelay > 0 {
		policy.MaxDelay = cs.config.Device.MaxRetryDelay
	}
	return policy
}

// Disconnect shuts the controller's devices down and releases its port
func (cs *ControllerService) Disconnect(ctx context.Context, name string) error {
	mc, err := cs.lookup(name)
	if err != nil {
		return err
	}

	cs.mu.Lock()
	controller := mc.controller
	mc.controller = nil
	mc.transport = nil
	mc.info.Status = model.ControllerStatusOffline
	mc.info.ConnectedAt = nil
	mc.info.Devices = []model.DeviceSummary{}
	info := mc.info
	cs.mu.Unlock()

	if controller == nil {
		return nil
	}

	_, err = cs.operations.Execute(ctx, name, "", model.OperationTypeDisconnect, nil,
		func() (model.JSONObject, error) {
			return nil, controller.Shutdown()
		},
	)
	utils.NewDeviceLogger(cs.logger.Logger, name, "", "controller").LogConnection("disconnect", err)

	cs.publishController(model.EventControllerDisconnected, info)
	if err != nil {
		return fmt.Errorf("failed to disconnect controller %s: %w", name, err)
	}
	return nil
}

// Shutdown disconnects every controller
func (cs *ControllerService) Shutdown(ctx context.Context) error {
	var errs []error
	for _, name := range cs.names() {
		if err := cs.Disconnect(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ListControllers returns every configured controller, sorted by name
func (cs *ControllerService) ListControllers() []model.Controller {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	controllers := make([]model.Controller, 0, len(cs.controllers))
	for _, mc := range cs.controllers {
		controllers = append(controllers, mc.info)
	}
	sort.Slice(controllers, func(i, j int) bool {
		return controllers[i].Name < controllers[j].Name
	})
	return controllers
}

// GetController returns the runtime view of one controller
func (cs *ControllerService) GetController(name string) (*model.Controller, error) {
	mc, err := cs.lookup(name)
	if err != nil {
		return nil, err
	}

	cs.mu.RLock()
	defer cs.mu.RUnlock()
	info := mc.info
	return &info, nil
}

// TransportStats returns the traffic counters of a connected controller
func (cs *ControllerService) TransportStats(name string) (*protocol.TransportStats, error) {
	mc, err := cs.lookup(name)
	if err != nil {
		return nil, err
	}

	cs.mu.RLock()
	defer cs.mu.RUnlock()

	metered, ok := mc.transport.(*protocol.MeteredTransport)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrControllerOffline, name)
	}
	stats := metered.Stats()
	return &stats, nil
}

// GetDevice returns a device of an online controller
func (cs *ControllerService) GetDevice(controllerName, label string) (pkgdriver.Device, error) {
	mc, err := cs.lookup(controllerName)
	if err != nil {
		return nil, err
	}

	cs.mu.RLock()
	controller := mc.controller
	cs.mu.RUnlock()

	if controller == nil {
		return nil, fmt.Errorf("%w: %s", ErrControllerOffline, controllerName)
	}

	device, ok := controller.Devices()[label]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrDeviceNotFound, label, controllerName)
	}
	return device, nil
}

// DeviceInfo reads the current state of a device
func (cs *ControllerService) DeviceInfo(ctx context.Context, controllerName, label string) (*model.DeviceState, error) {
	device, err := cs.GetDevice(controllerName, label)
	if err != nil {
		return nil, err
	}

	state := &model.DeviceState{
		Controller: controllerName,
		Label:      label,
		Kind:       device.Kind(),
	}

	switch d := device.(type) {
	case pkgdriver.Stage:
		position, err := d.Position()
		if err != nil {
			return nil, fmt.Errorf("failed to read stage position: %w", err)
		}
		state.Position = position

		limits, err := d.Limits()
		ready := err == nil
		state.Ready = &ready
		if ready {
			state.Limits = limits
		} else if !errors.Is(err, pkgdriver.ErrNotReady) {
			return nil, fmt.Errorf("failed to read stage limits: %w", err)
		}

		if scaler, ok := device.(micronScaler); ok {
			perMicron, err := scaler.MicrostepsPerMicron()
			if err != nil {
				return nil, fmt.Errorf("failed to read stage resolution: %w", err)
			}
			state.PositionMicrons = toMicrons(position, perMicron)
		}

	case pkgdriver.FilterWheel:
		position, err := d.Position()
		if err != nil {
			return nil, fmt.Errorf("failed to read filter position: %w", err)
		}
		positions := d.Positions()
		state.FilterPosition = &position
		state.FilterPositions = &positions
	}

	state.ReadAt = time.Now()
	return state, nil
}

// toMicrons converts microstep positions exactly
func toMicrons(position map[string]float64, perMicron int) map[string]decimal.Decimal {
	if perMicron <= 0 {
		return nil
	}
	divisor := decimal.NewFromInt(int64(perMicron))
	microns := make(map[string]decimal.Decimal, len(position))
	for axis, steps := range position {
		microns[axis] = decimal.NewFromFloat(steps).Div(divisor)
	}
	return microns
}

// MoveStage moves a stage relative to its position or to an absolute
// position
func (cs *ControllerService) MoveStage(ctx context.Context, controllerName, label string, req *MoveRequest, absolute bool) (*model.DeviceOperation, error) {
	stage, err := cs.stage(controllerName, label)
	if err != nil {
		return nil, err
	}

	opType := model.OperationTypeMoveBy
	move := stage.MoveBy
	if absolute {
		opType = model.OperationTypeMoveTo
		move = stage.MoveTo
	}

	data := model.JSONObject{}
	for axis, value := range req.Axes {
		data[axis] = value
	}

	return cs.operations.Execute(ctx, controllerName, label, opType, data,
		func() (model.JSONObject, error) {
			if err := move(req.Axes); err != nil {
				return nil, err
			}
			return positionResult(stage)
		},
	)
}

// EnableStage calibrates the stage by driving it to its limit switches
func (cs *ControllerService) EnableStage(ctx context.Context, controllerName, label string) (*model.DeviceOperation, error) {
	stage, err := cs.stage(controllerName, label)
	if err != nil {
		return nil, err
	}

	return cs.operations.Execute(ctx, controllerName, label, model.OperationTypeEnableStage, nil,
		func() (model.JSONObject, error) {
			if err := stage.Enable(); err != nil {
				return nil, err
			}
			limits, err := stage.Limits()
			if err != nil {
				return nil, err
			}
			result := model.JSONObject{}
			for axis, l := range limits {
				result[axis] = model.JSONObject{"lower": l.Lower, "upper": l.Upper}
			}
			return result, nil
		},
	)
}

// SetFilter moves a filter wheel to a position
func (cs *ControllerService) SetFilter(ctx context.Context, controllerName, label string, position int) (*model.DeviceOperation, error) {
	wheel, err := cs.filterWheel(controllerName, label)
	if err != nil {
		return nil, err
	}

	return cs.operations.Execute(ctx, controllerName, label, model.OperationTypeSetFilter,
		model.JSONObject{"position": position},
		func() (model.JSONObject, error) {
			if err := wheel.SetPosition(position); err != nil {
				return nil, err
			}
			return model.JSONObject{"position": position}, nil
		},
	)
}

// GetFilter reads the current filter wheel position
func (cs *ControllerService) GetFilter(controllerName, label string) (position, positions int, err error) {
	wheel, err := cs.filterWheel(controllerName, label)
	if err != nil {
		return 0, 0, err
	}
	position, err = wheel.Position()
	if err != nil {
		return 0, 0, err
	}
	return position, wheel.Positions(), nil
}

func positionResult(stage pkgdriver.Stage) (model.JSONObject, error) {
	position, err := stage.Position()
	if err != nil {
		return nil, err
	}
	result := model.JSONObject{}
	for axis, value := range position {
		result[axis] = value
	}
	return result, nil
}

// capableDevice returns the device when its kind has capability c
func (cs *ControllerService) capableDevice(controllerName, label string, c devicetypes.Capability) (pkgdriver.Device, error) {
	device, err := cs.GetDevice(controllerName, label)
	if err != nil {
		return nil, err
	}
	if !devicetypes.Supports(device.Kind(), c) {
		return nil, fmt.Errorf("%w: %s is a %s", ErrUnsupportedOperation, label, device.Kind())
	}
	return device, nil
}

func (cs *ControllerService) stage(controllerName, label string) (pkgdriver.Stage, error) {
	device, err := cs.capableDevice(controllerName, label, devicetypes.CapabilityMoveBy)
	if err != nil {
		return nil, err
	}
	stage, ok := device.(pkgdriver.Stage)
	if !ok {
		return nil, fmt.Errorf("%w: %s is a %s", ErrUnsupportedOperation, label, device.Kind())
	}
	return stage, nil
}

func (cs *ControllerService) filterWheel(controllerName, label string) (pkgdriver.FilterWheel, error) {
	device, err := cs.capableDevice(controllerName, label, devicetypes.CapabilitySetPosition)
	if err != nil {
		return nil, err
	}
	wheel, ok := device.(pkgdriver.FilterWheel)
	if !ok {
		return nil, fmt.Errorf("%w: %s is a %s", ErrUnsupportedOperation, label, device.Kind())
	}
	return wheel, nil
}

func (cs *ControllerService) lookup(name string) (*managedController, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	mc, ok := cs.controllers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrControllerNotFound, name)
	}
	return mc, nil
}

func (cs *ControllerService) names() []string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	names := make([]string, 0, len(cs.controllers))
	for name := range cs.controllers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ActivePorts returns the addresses of connected controllers
func (cs *ControllerService) ActivePorts() []string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	ports := []string{}
	for _, mc := range cs.controllers {
		if mc.controller != nil {
			ports = append(ports, mc.info.Address)
		}
	}
	sort.Strings(ports)
	return ports
}

func (cs *ControllerService) publishController(eventType model.EventType, info model.Controller) {
	cs.events.Publish(model.NewDeviceEvent(eventType, info.Name, "",
		model.ToJSONObject(model.ControllerEventData{
			Name:           info.Name,
			ConnectionType: info.ConnectionType,
			Address:        info.Address,
			Devices:        info.Devices,
			Error:          info.LastError,
		}),
	))
}
