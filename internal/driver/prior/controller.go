// internal/driver/prior/controller.go
package prior

import (
	"errors"
	"fmt"
	"maps"
	"sort"

	"go.uber.org/zap"

	"labdevice-service/internal/protocol"
	"labdevice-service/pkg/driver"
)

// Device labels
const (
	LabelStage = "stage"
)

// FilterLabel returns the label of the filter wheel on connector number
func FilterLabel(number int) string {
	return fmt.Sprintf("filter %d", number)
}

// ProScanIII is a Prior ProScanIII controller. Its devices are found once,
// when it is created:
//
//	filter 1   filter wheel on the "FILTER 1" connector
//	filter 2   filter wheel on the "FILTER 2" connector
//	filter 3   filter wheel on the "A AXIS" connector
//	stage      XY stage
type ProScanIII struct {
	conn    *Connection
	devices map[string]driver.Device
	logger  *zap.Logger
}

// NewProScanIII identifies the controller on transport and probes for its
// devices. It owns transport from then on and closes it if anything fails.
func NewProScanIII(transport protocol.Transport, config ConnectionConfig, logger *zap.Logger) (*ProScanIII, error) {
	conn, err := NewConnection(transport, config, logger)
	if err != nil {
		transport.Close()
		return nil, err
	}

	p := &ProScanIII{
		conn:    conn,
		devices: make(map[string]driver.Device),
		logger:  logger.With(zap.String("controller", "ProScanIII"), zap.String("port", conn.Port())),
	}

	if err := p.probe(); err != nil {
		conn.Close()
		return nil, err
	}

	p.logger.Info("ProScanIII ready", zap.Strings("devices", p.Labels()))
	return p, nil
}

func (p *ProScanIII) probe() error {
	inventory, err := p.conn.Inventory()
	if err != nil {
		return err
	}

	for number := 1; number <= maxFilterWheels; number++ {
		if _, ok := inventory[FilterLabel(number)]; !ok {
			continue
		}
		wheel, err := NewFilterWheel(p.conn, number, p.logger)
		if err != nil {
			return err
		}
		p.devices[FilterLabel(number)] = wheel
	}

	if _, ok := inventory[LabelStage]; ok {
		stage, err := NewStage(p.conn, p.logger)
		if err != nil {
			return err
		}
		p.devices[LabelStage] = stage
	}
	return nil
}

// Inventory lists the connected devices by label. Only description
// queries are sent, so no device setting changes.
func (c *Connection) Inventory() (map[string]driver.DeviceKind, error) {
	inventory := make(map[string]driver.DeviceKind)
	for number := 1; number <= maxFilterWheels; number++ {
		present, err := c.HasFilterWheel(number)
		if err != nil {
			return nil, fmt.Errorf("failed to probe filter wheel %d: %w", number, err)
		}
		if present {
			inventory[FilterLabel(number)] = driver.DeviceKindFilterWheel
		}
	}

	present, err := c.HasStage()
	if err != nil {
		return nil, fmt.Errorf("failed to probe stage: %w", err)
	}
	if present {
		inventory[LabelStage] = driver.DeviceKindStage
	}
	return inventory, nil
}

// Devices returns the devices keyed by label
func (p *ProScanIII) Devices() map[string]driver.Device {
	return maps.Clone(p.devices)
}

// Labels returns the device labels in order
func (p *ProScanIII) Labels() []string {
	labels := make([]string, 0, len(p.devices))
	for label := range p.devices {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Connection returns the shared protocol engine
func (p *ProScanIII) Connection() *Connection {
	return p.conn
}

// Shutdown shuts down every device and closes the serial line
func (p *ProScanIII) Shutdown() error {
	var errs []error
	for label, device := range p.devices {
		if err := device.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down %s: %w", label, err))
		}
	}
	if err := p.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

var _ driver.Controller = (*ProScanIII)(nil)
