package prior

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"labdevice-service/internal/testutil"
)

const testTimeout = 20 * time.Millisecond

func testConfig() ConnectionConfig {
	return ConnectionConfig{
		Port:              "/dev/fake",
		Timeout:           testTimeout,
		MoveTimeoutFactor: 10,
		DescriptionReads:  2,
	}
}

// identified answers the handshake and then defers to respond
func identified(respond testutil.Responder) testutil.Responder {
	return testutil.Chain(testutil.Static(map[string]string{"?": testutil.ProScanIdentity}), respond)
}

// newTestConnection returns a connection that has completed the handshake,
// with the handshake write forgotten
func newTestConnection(t *testing.T, respond testutil.Responder) (*Connection, *testutil.FakePort) {
	t.Helper()

	port := testutil.NewFakePort(identified(respond))
	conn, err := NewConnection(port, testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	port.ClearWrites()
	return conn, port
}

func newSimConnection(t *testing.T, sim *testutil.ProScanSim) (*Connection, *testutil.FakePort) {
	t.Helper()
	return newTestConnection(t, sim.Responder())
}
