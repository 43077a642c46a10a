package serial

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap/zaptest"

	"labdevice-service/internal/driver"
	"labdevice-service/internal/model"
	"labdevice-service/internal/protocol"
	"labdevice-service/internal/testutil"
	"labdevice-service/pkg/devicetypes"
	pkgdriver "labdevice-service/pkg/driver"
)

func newTestScanner(t *testing.T, config *Config, ports []*enumerator.PortDetails, open OpenFunc) *Scanner {
	t.Helper()

	logger := zaptest.NewLogger(t)
	registry := driver.NewRegistry(logger)
	driver.RegisterDefaultDrivers(registry, logger)

	s := NewScanner(logger, config, registry)
	s.SetPortLister(func() ([]*enumerator.PortDetails, error) { return ports, nil })
	s.SetOpener(open)
	return s
}

func TestScanIdentifiesProScan(t *testing.T) {
	ports := []*enumerator.PortDetails{
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001", SerialNumber: "A1"},
		{Name: "/dev/ttyS0"},
	}
	sim := testutil.NewProScanSim(true, 1)

	var opened []string
	var fakes []*testutil.FakePort
	open := func(port string, baud int, timeout time.Duration) (protocol.Transport, error) {
		opened = append(opened, port)
		if port != "/dev/ttyUSB0" || baud != 19200 {
			fake := testutil.NewFakePort(func(string) []testutil.Reply { return nil })
			fakes = append(fakes, fake)
			return fake, nil
		}
		fake := testutil.NewFakePort(sim.Responder())
		fakes = append(fakes, fake)
		return fake, nil
	}

	s := newTestScanner(t, &Config{
		BaudRates:    []int{9600, 19200},
		ProbeTimeout: 20 * time.Millisecond,
		Probe:        true,
	}, ports, open)

	found, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 2)

	usb := found[0]
	assert.True(t, usb.Identified)
	assert.Equal(t, 19200, usb.BaudRate)
	assert.Equal(t, model.BrandPrior, usb.Brand)
	assert.Equal(t, driver.ModelProScanIII, usb.Model)
	assert.Equal(t, "0403", usb.VendorID)
	assert.Equal(t, []model.DeviceSummary{
		{Label: "filter 1", Kind: pkgdriver.DeviceKindFilterWheel, Capabilities: devicetypes.CapabilitiesOf(pkgdriver.DeviceKindFilterWheel)},
		{Label: "stage", Kind: pkgdriver.DeviceKindStage, Capabilities: devicetypes.CapabilitiesOf(pkgdriver.DeviceKindStage)},
	}, usb.Devices)

	assert.False(t, found[1].Identified)
	assert.Equal(t, []string{"/dev/ttyUSB0", "/dev/ttyUSB0", "/dev/ttyS0", "/dev/ttyS0"}, opened)

	for _, fake := range fakes {
		assert.True(t, fake.Closed(), "every probed port is released")
	}
}

func TestScanUSBOnlyWithoutProbe(t *testing.T) {
	ports := []*enumerator.PortDetails{
		{Name: "/dev/ttyUSB0", IsUSB: true},
		{Name: "/dev/ttyS0"},
	}
	open := func(string, int, time.Duration) (protocol.Transport, error) {
		t.Fatal("ports must not be opened when probing is off")
		return nil, nil
	}

	s := newTestScanner(t, &Config{USBOnly: true}, ports, open)

	found, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "/dev/ttyUSB0", found[0].Port)
	assert.False(t, found[0].Identified)
}

func TestScanOpenFailureIsNotFatal(t *testing.T) {
	ports := []*enumerator.PortDetails{{Name: "/dev/ttyUSB0", IsUSB: true}}
	open := func(string, int, time.Duration) (protocol.Transport, error) {
		return nil, errors.New("permission denied")
	}

	s := newTestScanner(t, &Config{BaudRates: []int{9600}, ProbeTimeout: 10 * time.Millisecond, Probe: true}, ports, open)

	found, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.False(t, found[0].Identified)
}

func TestScanListError(t *testing.T) {
	s := newTestScanner(t, nil, nil, nil)
	s.SetPortLister(func() ([]*enumerator.PortDetails, error) {
		return nil, errors.New("no sysfs")
	})

	_, err := s.Scan(context.Background())
	assert.Error(t, err)
}

func TestScanCancelled(t *testing.T) {
	ports := []*enumerator.PortDetails{{Name: "/dev/ttyUSB0"}}
	s := newTestScanner(t, &Config{}, ports, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanSkipsPortsInUse(t *testing.T) {
	ports := []*enumerator.PortDetails{{Name: "/dev/ttyUSB0", IsUSB: true}}
	open := func(string, int, time.Duration) (protocol.Transport, error) {
		t.Fatal("a port in use must not be probed")
		return nil, nil
	}

	s := newTestScanner(t, &Config{BaudRates: []int{9600}, Probe: true}, ports, open)
	s.SetInUse(func() []string { return []string{"/dev/ttyUSB0"} })

	found, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, found[0].InUse)
	assert.False(t, found[0].Identified)
}

func TestScanLeavesDeviceSettingsAlone(t *testing.T) {
	ports := []*enumerator.PortDetails{{Name: "/dev/ttyUSB0", IsUSB: true}}
	sim := testutil.NewProScanSim(true, 2)

	var fake *testutil.FakePort
	open := func(string, int, time.Duration) (protocol.Transport, error) {
		fake = testutil.NewFakePort(sim.Responder())
		return fake, nil
	}

	s := newTestScanner(t, &Config{
		BaudRates:    []int{9600},
		ProbeTimeout: 20 * time.Millisecond,
		Probe:        true,
	}, ports, open)

	found, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.True(t, found[0].Identified)
	assert.Len(t, found[0].Devices, 2)

	require.NotNil(t, fake)
	assert.Equal(t, []string{"?", "FILTER 1", "FILTER 2", "FILTER 3", "STAGE"}, fake.Writes())
	for _, cmd := range fake.Writes() {
		assert.NotContains(t, cmd, "ENCODER")
		assert.NotContains(t, cmd, "SERVO")
	}
	assert.True(t, fake.Closed())
}

func TestScanHandshakeMismatchReleasesPort(t *testing.T) {
	ports := []*enumerator.PortDetails{{Name: "/dev/ttyUSB0", IsUSB: true}}

	var fake *testutil.FakePort
	open := func(string, int, time.Duration) (protocol.Transport, error) {
		fake = testutil.NewFakePort(testutil.Static(map[string]string{"?": "OK\r"}))
		return fake, nil
	}

	s := newTestScanner(t, &Config{BaudRates: []int{9600}, ProbeTimeout: 10 * time.Millisecond, Probe: true}, ports, open)

	found, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.False(t, found[0].Identified)
	assert.Empty(t, found[0].Devices)
	assert.True(t, fake.Closed())
}
