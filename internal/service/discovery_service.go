// internal/service/discovery_service.go
package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"labdevice-service/internal/config"
	"labdevice-service/internal/discovery"
	"labdevice-service/internal/discovery/serial"
	"labdevice-service/internal/driver"
	"labdevice-service/internal/model"
	"labdevice-service/internal/utils"
)

// DiscoveryService scans the host for controllers
type DiscoveryService struct {
	scannerManager *discovery.ScannerManager
	operations     *OperationService
	events         EventPublisher
	config         *config.Config
	logger         *utils.ServiceLogger

	mu       sync.Mutex
	scanning bool
	last     []*model.DiscoveredController
}

// NewDiscoveryService creates a new discovery service with the serial
// scanner registered
func NewDiscoveryService(
	driverRegistry *driver.Registry,
	controllers *ControllerService,
	operations *OperationService,
	events EventPublisher,
	cfg *config.Config,
	logger *zap.Logger,
) *DiscoveryService {
	serialScanner := serial.NewScanner(logger, &serial.Config{
		BaudRates:    cfg.Device.Discovery.BaudRates,
		ProbeTimeout: cfg.Device.Discovery.ProbeTimeout,
		USBOnly:      cfg.Device.Discovery.USBOnly,
		Probe:        cfg.Device.Discovery.Probe,
	}, driverRegistry)
	if controllers != nil {
		serialScanner.SetInUse(controllers.ActivePorts)
	}

	return NewDiscoveryServiceWithScanners(operations, events, cfg, logger, serialScanner)
}

// NewDiscoveryServiceWithScanners creates a discovery service over the
// given scanners
func NewDiscoveryServiceWithScanners(
	operations *OperationService,
	events EventPublisher,
	cfg *config.Config,
	logger *zap.Logger,
	scanners ...discovery.ControllerScanner,
) *DiscoveryService {
	if events == nil {
		events = discardPublisher{}
	}

	scannerManager := discovery.NewScannerManager(logger)
	for _, scanner := range scanners {
		scannerManager.RegisterScanner(scanner)
	}

	ds := &DiscoveryService{
		scannerManager: scannerManager,
		operations:     operations,
		events:         events,
		config:         cfg,
		logger:         utils.NewServiceLogger(logger, "discovery-service"),
	}

	ds.logger.Info("Discovery scanners initialized",
		zap.Strings("available_scanners", scannerManager.GetAvailableScanners()),
	)
	return ds
}

// ScanControllers runs a scan. Only one scan runs at a time.
func (ds *DiscoveryService) ScanControllers(ctx context.Context, req *ScanRequest) ([]*model.DiscoveredController, error) {
	scanType := req.ScanType
	if scanType == "" {
		scanType = "all"
	}

	ds.mu.Lock()
	if ds.scanning {
		ds.mu.Unlock()
		return nil, ErrScanInProgress
	}
	ds.scanning = true
	ds.mu.Unlock()

	defer func() {
		ds.mu.Lock()
		ds.scanning = false
		ds.mu.Unlock()
	}()

	ds.logger.Info("Starting controller scan", zap.String("type", scanType))

	var found []*model.DiscoveredController
	_, err := ds.operations.Execute(ctx, "", "", model.OperationTypeDiscoveryProbe,
		model.JSONObject{"scan_type": scanType},
		func() (model.JSONObject, error) {
			var scanErr error
			if scanType == "all" {
				found, scanErr = ds.scannerManager.ScanAll(ctx)
			} else {
				found, scanErr = ds.scannerManager.ScanByType(ctx, scanType)
			}
			if scanErr != nil {
				return nil, scanErr
			}
			return model.JSONObject{"ports": len(found), "identified": countIdentified(found)}, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	ds.mu.Lock()
	ds.last = found
	ds.mu.Unlock()

	ds.events.Publish(model.NewDeviceEvent(model.EventDiscoveryCompleted, "", "", model.JSONObject{
		"scan_type":  scanType,
		"ports":      len(found),
		"identified": countIdentified(found),
	}))

	ds.logger.Info("Controller scan completed",
		zap.Int("ports", len(found)),
		zap.Int("identified", countIdentified(found)),
	)
	return found, nil
}

// LastResults returns the results of the most recent scan
func (ds *DiscoveryService) LastResults() []*model.DiscoveredController {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.last
}

// AvailableScanners lists the scanner types that can run on this host
func (ds *DiscoveryService) AvailableScanners() []string {
	return ds.scannerManager.GetAvailableScanners()
}

func countIdentified(found []*model.DiscoveredController) int {
	n := 0
	for _, c := range found {
		if c.Identified {
			n++
		}
	}
	return n
}
