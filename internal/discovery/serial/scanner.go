// internal/discovery/serial/scanner.go
package serial

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"labdevice-service/internal/driver"
	"labdevice-service/internal/driver/prior"
	"labdevice-service/internal/model"
	"labdevice-service/internal/protocol"
	"labdevice-service/pkg/devicetypes"
)

// Config for the serial scanner
type Config struct {
	BaudRates    []int         `json:"baud_rates"`
	ProbeTimeout time.Duration `json:"probe_timeout"`
	USBOnly      bool          `json:"usb_only"`

	// Probe sends the identification handshake to each port. When false
	// candidate ports are only listed.
	Probe bool `json:"probe"`
}

// OpenFunc opens a transport on a serial port
type OpenFunc func(port string, baudRate int, timeout time.Duration) (protocol.Transport, error)

// Scanner lists serial ports and identifies the controllers behind them
type Scanner struct {
	logger    *zap.Logger
	config    *Config
	registry  *driver.Registry
	listPorts func() ([]*enumerator.PortDetails, error)
	open      OpenFunc
	inUse     func() []string
}

// NewScanner creates a new serial scanner
func NewScanner(logger *zap.Logger, config *Config, registry *driver.Registry) *Scanner {
	if config == nil {
		config = &Config{
			BaudRates:    []int{9600},
			ProbeTimeout: prior.DefaultTimeout,
			Probe:        true,
		}
	}

	s := &Scanner{
		logger:    logger.With(zap.String("scanner", "serial")),
		config:    config,
		registry:  registry,
		listPorts: enumerator.GetDetailedPortsList,
	}
	s.open = s.openSerial
	return s
}

// SetPortLister replaces the OS port enumeration
func (s *Scanner) SetPortLister(list func() ([]*enumerator.PortDetails, error)) {
	s.listPorts = list
}

// SetOpener replaces how probe transports are opened
func (s *Scanner) SetOpener(open OpenFunc) {
	s.open = open
}

// SetInUse names ports owned by running controllers. They are listed but
// never probed.
func (s *Scanner) SetInUse(inUse func() []string) {
	s.inUse = inUse
}

// GetScannerType returns scanner type
func (s *Scanner) GetScannerType() string {
	return "serial"
}

// IsAvailable checks if serial scanning is available
func (s *Scanner) IsAvailable() bool {
	return true
}

// Scan enumerates serial ports and probes each one in turn. Probing a
// port sends the ? command and the FILTER and STAGE description queries,
// so ports in use by a running controller must not be scanned.
func (s *Scanner) Scan(ctx context.Context) ([]*model.DiscoveredController, error) {
	s.logger.Info("Starting serial port scan")

	ports, err := s.listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}

	busy := map[string]bool{}
	if s.inUse != nil {
		for _, name := range s.inUse() {
			busy[name] = true
		}
	}

	discovered := []*model.DiscoveredController{}
	for _, port := range ports {
		if err := ctx.Err(); err != nil {
			return discovered, err
		}
		if s.config.USBOnly && !port.IsUSB {
			continue
		}

		candidate := &model.DiscoveredController{
			Port:         port.Name,
			IsUSB:        port.IsUSB,
			VendorID:     port.VID,
			ProductID:    port.PID,
			SerialNumber: port.SerialNumber,
			DiscoveredAt: time.Now(),
		}

		switch {
		case busy[port.Name]:
			candidate.InUse = true
		case s.config.Probe:
			s.probe(ctx, candidate)
		}
		discovered = append(discovered, candidate)
	}

	s.logger.Info("Serial scan completed", zap.Int("ports", len(discovered)))
	return discovered, nil
}

// probe tries each baud rate until the port answers the handshake
func (s *Scanner) probe(ctx context.Context, candidate *model.DiscoveredController) {
	for _, baud := range s.config.BaudRates {
		if ctx.Err() != nil {
			return
		}

		devices, err := s.identify(candidate.Port, baud)
		if err != nil {
			s.logger.Debug("Probe failed",
				zap.String("port", candidate.Port),
				zap.Int("baud_rate", baud),
				zap.Error(err),
			)
			continue
		}

		candidate.Identified = true
		candidate.BaudRate = baud
		candidate.Brand = model.BrandPrior
		candidate.Model = driver.ModelProScanIII
		candidate.Devices = devices
		s.logger.Info("Controller identified",
			zap.String("port", candidate.Port),
			zap.Int("baud_rate", baud),
			zap.Int("devices", len(devices)),
		)
		return
	}
}

// identify runs the handshake and the description queries on port. No
// device adapter is built, so encoder and servo settings stay as the
// scan found them.
func (s *Scanner) identify(port string, baud int) ([]model.DeviceSummary, error) {
	if !s.registry.IsSupported(model.BrandPrior, driver.ModelProScanIII) {
		return nil, fmt.Errorf("no driver registered for %s %s", model.BrandPrior, driver.ModelProScanIII)
	}

	transport, err := s.open(port, baud, s.config.ProbeTimeout)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := transport.Close(); err != nil {
			s.logger.Warn("Failed to release probed port", zap.String("port", port), zap.Error(err))
		}
	}()

	conn, err := prior.NewConnection(transport, prior.ConnectionConfig{
		Port:    port,
		Timeout: s.config.ProbeTimeout,
	}, s.logger)
	if err != nil {
		return nil, err
	}

	inventory, err := conn.Inventory()
	if err != nil {
		return nil, err
	}

	devices := make([]model.DeviceSummary, 0, len(inventory))
	for label, kind := range inventory {
		devices = append(devices, model.DeviceSummary{
			Label:        label,
			Kind:         kind,
			Capabilities: devicetypes.CapabilitiesOf(kind),
		})
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Label < devices[j].Label
	})
	return devices, nil
}

func (s *Scanner) openSerial(port string, baudRate int, timeout time.Duration) (protocol.Transport, error) {
	return protocol.CreateTransport(&protocol.TransportConfig{
		Type:     model.ConnectionTypeSerial,
		Port:     port,
		BaudRate: baudRate,
		Timeout:  timeout,
	}, s.logger)
}
