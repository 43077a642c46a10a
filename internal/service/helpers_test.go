package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"labdevice-service/internal/config"
	"labdevice-service/internal/driver"
	"labdevice-service/internal/model"
	"labdevice-service/internal/protocol"
	"labdevice-service/internal/repository"
	"labdevice-service/internal/testutil"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*model.DeviceEvent
}

func (p *recordingPublisher) Publish(event *model.DeviceEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []model.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]model.EventType, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.EventType)
	}
	return types
}

func testControllerConfig(name, port string) config.ControllerConfig {
	return config.ControllerConfig{
		Name:  name,
		Brand: string(model.BrandPrior),
		Model: driver.ModelProScanIII,
		Transport: config.TransportConfig{
			Type:     "serial",
			Port:     port,
			BaudRate: 9600,
		},
		Timeout:           20 * time.Millisecond,
		MoveTimeoutFactor: 10,
		DescriptionReads:  2,
	}
}

func testServiceConfig(controllers ...config.ControllerConfig) *config.Config {
	return &config.Config{
		Device: config.DeviceConfig{
			OperationTimeout: time.Second,
			MaxRetryAttempts: 2,
			RetryDelay:       time.Millisecond,
			MaxRetryDelay:    2 * time.Millisecond,
		},
		Controllers: controllers,
	}
}

type fixture struct {
	controllers *ControllerService
	operations  *OperationService
	repo        repository.OperationRepository
	events      *recordingPublisher
	logger      *zap.Logger

	mu    sync.Mutex
	ports map[string]*testutil.FakePort
	opens map[string]int
	fail  map[string]int // port -> number of opens that fail first
}

// newFixture wires the services to simulated controllers keyed by port
func newFixture(t *testing.T, sims map[string]*testutil.ProScanSim, controllers ...config.ControllerConfig) *fixture {
	t.Helper()

	logger := zaptest.NewLogger(t)
	f := &fixture{
		repo:   repository.NewMemoryOperationRepository(logger),
		events: &recordingPublisher{},
		logger: logger,
		ports:  map[string]*testutil.FakePort{},
		opens:  map[string]int{},
		fail:   map[string]int{},
	}

	registry := driver.NewRegistry(logger)
	driver.RegisterDefaultDrivers(registry, logger)

	f.operations = NewOperationService(f.repo, f.events, logger)
	f.controllers = NewControllerService(registry, f.operations, f.events, testServiceConfig(controllers...), logger)
	f.controllers.SetTransportOpener(func(cfg *protocol.TransportConfig, _ *zap.Logger) (protocol.Transport, error) {
		f.mu.Lock()
		defer f.mu.Unlock()

		f.opens[cfg.Port]++
		if f.fail[cfg.Port] > 0 {
			f.fail[cfg.Port]--
			return nil, errors.New("port busy")
		}

		respond := func(string) []testutil.Reply { return nil }
		if sim, ok := sims[cfg.Port]; ok {
			respond = sim.Responder()
		}
		port := testutil.NewFakePort(respond)
		f.ports[cfg.Port] = port
		return protocol.NewMeteredTransport(port), nil
	})
	return f
}

func (f *fixture) port(name string) *testutil.FakePort {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ports[name]
}

func (f *fixture) openCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens[name]
}
