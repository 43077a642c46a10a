package service

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labdevice-service/internal/driver/prior"
	"labdevice-service/internal/model"
	"labdevice-service/internal/repository"
	"labdevice-service/internal/testutil"
	"labdevice-service/pkg/devicetypes"
	pkgdriver "labdevice-service/pkg/driver"
)

const scopePort = "/dev/ttyUSB0"

func newScope(t *testing.T, sim *testutil.ProScanSim) *fixture {
	t.Helper()

	f := newFixture(t, map[string]*testutil.ProScanSim{scopePort: sim}, testControllerConfig("scope", scopePort))
	require.NoError(t, f.controllers.Start(context.Background()))
	return f
}

func TestStartConnectsControllers(t *testing.T) {
	f := newScope(t, testutil.NewProScanSim(true, 1, 2))

	controllers := f.controllers.ListControllers()
	require.Len(t, controllers, 1)

	scope := controllers[0]
	assert.Equal(t, model.ControllerStatusOnline, scope.Status)
	assert.Equal(t, model.ConnectionTypeSerial, scope.ConnectionType)
	assert.Equal(t, scopePort, scope.Address)
	assert.NotNil(t, scope.ConnectedAt)
	assert.Equal(t, []model.DeviceSummary{
		{Label: "filter 1", Kind: pkgdriver.DeviceKindFilterWheel, Capabilities: devicetypes.CapabilitiesOf(pkgdriver.DeviceKindFilterWheel)},
		{Label: "filter 2", Kind: pkgdriver.DeviceKindFilterWheel, Capabilities: devicetypes.CapabilitiesOf(pkgdriver.DeviceKindFilterWheel)},
		{Label: "stage", Kind: pkgdriver.DeviceKindStage, Capabilities: devicetypes.CapabilitiesOf(pkgdriver.DeviceKindStage)},
	}, scope.Devices)

	assert.Contains(t, f.events.types(), model.EventControllerConnected)

	connectType := model.OperationTypeConnect
	ops, total, err := f.repo.List(context.Background(), &repository.OperationFilter{OperationType: &connectType})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, model.OperationStatusSuccess, ops[0].Status)

	stats, err := f.controllers.TransportStats("scope")
	require.NoError(t, err)
	assert.Greater(t, stats.WriteCount, int64(0))
	assert.Equal(t, []string{scopePort}, f.controllers.ActivePorts())
}

func TestConnectRetriesTransientFailures(t *testing.T) {
	f := newFixture(t, map[string]*testutil.ProScanSim{scopePort: testutil.NewProScanSim(true)}, testControllerConfig("scope", scopePort))
	f.fail[scopePort] = 1

	require.NoError(t, f.controllers.Connect(context.Background(), "scope"))
	assert.Equal(t, 2, f.openCount(scopePort))
}

func TestConnectHandshakeMismatchIsNotRetried(t *testing.T) {
	f := newFixture(t, nil, testControllerConfig("scope", scopePort))

	err := f.controllers.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, prior.ErrHandshakeMismatch)
	assert.Equal(t, 1, f.openCount(scopePort))
	assert.True(t, f.port(scopePort).Closed())

	scope, err := f.controllers.GetController("scope")
	require.NoError(t, err)
	assert.Equal(t, model.ControllerStatusError, scope.Status)
	require.NotNil(t, scope.LastError)
	assert.Contains(t, f.events.types(), model.EventControllerError)

	_, err = f.controllers.GetDevice("scope", "stage")
	assert.ErrorIs(t, err, ErrControllerOffline)
}

func TestUnknownControllerAndDevice(t *testing.T) {
	f := newScope(t, testutil.NewProScanSim(true))

	_, err := f.controllers.GetController("nope")
	assert.ErrorIs(t, err, ErrControllerNotFound)

	_, err = f.controllers.GetDevice("scope", "filter 3")
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	_, err = f.controllers.SetFilter(context.Background(), "scope", "stage", 2)
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
}

func TestMoveStageJournalsOperation(t *testing.T) {
	sim := testutil.NewProScanSim(true)
	f := newScope(t, sim)
	ctx := context.Background()

	op, err := f.controllers.MoveStage(ctx, "scope", prior.LabelStage, &MoveRequest{Axes: map[string]float64{"x": 100, "y": 50}}, false)
	require.NoError(t, err)
	assert.Equal(t, model.OperationTypeMoveBy, op.OperationType)
	assert.Equal(t, model.OperationStatusSuccess, op.Status)
	assert.Equal(t, 100.0, op.Result["x"])

	x, y := sim.Position()
	assert.Equal(t, 100, x)
	assert.Equal(t, 50, y)

	op, err = f.controllers.MoveStage(ctx, "scope", prior.LabelStage, &MoveRequest{Axes: map[string]float64{"x": 2000}}, true)
	require.NoError(t, err)
	assert.Equal(t, model.OperationTypeMoveTo, op.OperationType)
	x, _ = sim.Position()
	assert.Equal(t, 2000, x)

	stored, err := f.operations.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OperationStatusSuccess, stored.Status)

	types := f.events.types()
	assert.Contains(t, types, model.EventOperationStarted)
	assert.Contains(t, types, model.EventOperationCompleted)
}

func TestMoveStageInvalidAxesFails(t *testing.T) {
	f := newScope(t, testutil.NewProScanSim(true))

	op, err := f.controllers.MoveStage(context.Background(), "scope", prior.LabelStage,
		&MoveRequest{Axes: map[string]float64{"z": 1}}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgdriver.ErrInvalidArgument)
	assert.Equal(t, model.OperationStatusFailed, op.Status)
	require.NotNil(t, op.ErrorMessage)
	assert.Contains(t, f.events.types(), model.EventOperationFailed)
}

func TestDeviceInfo(t *testing.T) {
	sim := testutil.NewProScanSim(true, 1)
	sim.SetPosition(250, 75)
	f := newScope(t, sim)
	ctx := context.Background()

	state, err := f.controllers.DeviceInfo(ctx, "scope", prior.LabelStage)
	require.NoError(t, err)
	assert.Equal(t, pkgdriver.DeviceKindStage, state.Kind)
	assert.Equal(t, map[string]float64{"x": 250, "y": 75}, state.Position)
	require.NotNil(t, state.Ready)
	assert.False(t, *state.Ready)
	assert.True(t, state.PositionMicrons["x"].Equal(decimal.NewFromInt(10)))
	assert.True(t, state.PositionMicrons["y"].Equal(decimal.NewFromInt(3)))

	state, err = f.controllers.DeviceInfo(ctx, "scope", prior.FilterLabel(1))
	require.NoError(t, err)
	require.NotNil(t, state.FilterPosition)
	assert.Equal(t, 1, *state.FilterPosition)
	assert.Equal(t, 6, *state.FilterPositions)
}

func TestEnableStageThenLimits(t *testing.T) {
	f := newScope(t, testutil.NewProScanSim(true))
	ctx := context.Background()

	op, err := f.controllers.EnableStage(ctx, "scope", prior.LabelStage)
	require.NoError(t, err)
	assert.Equal(t, model.OperationStatusSuccess, op.Status)

	state, err := f.controllers.DeviceInfo(ctx, "scope", prior.LabelStage)
	require.NoError(t, err)
	require.True(t, *state.Ready)
	assert.Equal(t, pkgdriver.AxisLimits{Lower: 0, Upper: 108 * 1000 * 25}, state.Limits["x"])
	assert.Equal(t, pkgdriver.AxisLimits{Lower: 0, Upper: 71 * 1000 * 25}, state.Limits["y"])
}

func TestSetAndGetFilter(t *testing.T) {
	f := newScope(t, testutil.NewProScanSim(false, 2))
	ctx := context.Background()

	op, err := f.controllers.SetFilter(ctx, "scope", prior.FilterLabel(2), 4)
	require.NoError(t, err)
	assert.Equal(t, model.OperationTypeSetFilter, op.OperationType)

	position, positions, err := f.controllers.GetFilter("scope", prior.FilterLabel(2))
	require.NoError(t, err)
	assert.Equal(t, 4, position)
	assert.Equal(t, 6, positions)

	_, err = f.controllers.SetFilter(ctx, "scope", prior.FilterLabel(2), 9)
	assert.ErrorIs(t, err, pkgdriver.ErrInvalidArgument)
}

func TestConcurrentDeviceCallsShareTheLine(t *testing.T) {
	f := newScope(t, testutil.NewProScanSim(true, 1))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := f.controllers.SetFilter(ctx, "scope", prior.FilterLabel(1), i%6+1)
			errs <- err
		}(i)
		go func() {
			defer wg.Done()
			_, err := f.controllers.MoveStage(ctx, "scope", prior.LabelStage, &MoveRequest{Axes: map[string]float64{"x": 10}}, false)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Zero(t, f.port(scopePort).Violations())
}

func TestDisconnectAndShutdown(t *testing.T) {
	f := newScope(t, testutil.NewProScanSim(true))
	ctx := context.Background()

	require.NoError(t, f.controllers.Disconnect(ctx, "scope"))
	assert.True(t, f.port(scopePort).Closed())

	scope, err := f.controllers.GetController("scope")
	require.NoError(t, err)
	assert.Equal(t, model.ControllerStatusOffline, scope.Status)
	assert.Empty(t, scope.Devices)
	assert.Contains(t, f.events.types(), model.EventControllerDisconnected)
	assert.Empty(t, f.controllers.ActivePorts())

	_, err = f.controllers.TransportStats("scope")
	assert.ErrorIs(t, err, ErrControllerOffline)

	// reconnect after disconnect opens the port again
	require.NoError(t, f.controllers.Connect(ctx, "scope"))
	assert.Equal(t, 2, f.openCount(scopePort))
	require.NoError(t, f.controllers.Shutdown(ctx))
	assert.True(t, f.port(scopePort).Closed())
}

func TestToMicrons(t *testing.T) {
	microns := toMicrons(map[string]float64{"x": 37, "y": -50}, 25)
	assert.Equal(t, "1.48", microns["x"].String())
	assert.Equal(t, "-2", microns["y"].String())
	assert.Nil(t, toMicrons(map[string]float64{"x": 1}, 0))
}
