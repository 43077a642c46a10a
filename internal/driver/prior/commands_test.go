package prior

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labdevice-service/internal/testutil"
	"labdevice-service/pkg/driver"
)

func TestIsLimitSwitchActive(t *testing.T) {
	tests := []struct {
		bitmap string
		axis   string
		sign   int
		want   bool
	}{
		{"01", AxisX, +1, true},
		{"01", AxisX, -1, false},
		{"02", AxisX, -1, true},
		{"04", AxisY, +1, true},
		{"08", AxisY, -1, true},
		{"08", AxisX, -1, false},
		{"10", "Z", +1, true},
		{"20", "Z", -1, true},
		{"40", "4th", +1, true},
		{"80", "4th", -1, true},
		{"FF", AxisY, +1, true},
		{"00", AxisY, +1, false},
	}

	for _, tt := range tests {
		t.Run(tt.bitmap+" "+tt.axis, func(t *testing.T) {
			conn, port := newTestConnection(t, testutil.Static(map[string]string{"LMT": tt.bitmap + "\r"}))

			active, err := conn.IsLimitSwitchActive(tt.axis, tt.sign)
			require.NoError(t, err)
			assert.Equal(t, tt.want, active)
			assert.Equal(t, []string{"LMT"}, port.Writes())
		})
	}

	t.Run("invalid sign", func(t *testing.T) {
		conn, port := newTestConnection(t, nil)

		_, err := conn.IsLimitSwitchActive(AxisX, 0)
		require.ErrorIs(t, err, driver.ErrInvalidArgument)
		assert.Empty(t, port.Writes())
	})

	t.Run("unparsable bitmap", func(t *testing.T) {
		conn, _ := newTestConnection(t, testutil.Static(map[string]string{"LMT": "E,5\r"}))

		_, err := conn.IsLimitSwitchActive(AxisX, 1)
		require.ErrorIs(t, err, ErrProtocolViolation)
	})
}

func TestAbsolutePosition(t *testing.T) {
	conn, _ := newTestConnection(t, testutil.Static(map[string]string{
		"P":  "1200,-300,0\r",
		"PX": "1200\r",
		"PY": "oops\r",
	}))

	x, y, z, err := conn.AbsolutePosition()
	require.NoError(t, err)
	assert.Equal(t, []int{1200, -300, 0}, []int{x, y, z})

	px, err := conn.AbsoluteXPosition()
	require.NoError(t, err)
	assert.Equal(t, 1200, px)

	_, err = conn.AbsoluteYPosition()
	require.ErrorIs(t, err, ErrProtocolViolation)
}

func TestAbsolutePositionWrongFieldCount(t *testing.T) {
	conn, _ := newTestConnection(t, testutil.Static(map[string]string{"P": "1,2\r"}))

	_, _, _, err := conn.AbsolutePosition()
	require.ErrorIs(t, err, ErrProtocolViolation)
}

func TestStageMoveCommands(t *testing.T) {
	conn, port := newTestConnection(t, func(cmd string) []testutil.Reply {
		return []testutil.Reply{{Data: "R\r"}}
	})

	require.NoError(t, conn.GoRelative(10, -20))
	require.NoError(t, conn.Go(100, 200))
	require.NoError(t, conn.GoX(5))
	require.NoError(t, conn.GoY(-5))
	require.NoError(t, conn.SetFilterPosition(2, 3))

	assert.Equal(t, []string{"GR 10 -20 0", "G 100 200 0", "GX 5", "GY -5", "7 2 3"}, port.Writes())
}

func TestFilterWheelNumbers(t *testing.T) {
	conn, port := newTestConnection(t, nil)

	for _, number := range []int{-1, 0, 4, 10} {
		_, err := conn.HasFilterWheel(number)
		assert.ErrorIs(t, err, driver.ErrInvalidAddress)
		_, err = conn.FilterPositions(number)
		assert.ErrorIs(t, err, driver.ErrInvalidAddress)
		_, err = conn.FilterPosition(number)
		assert.ErrorIs(t, err, driver.ErrInvalidAddress)
		assert.ErrorIs(t, conn.SetFilterPosition(number, 1), driver.ErrInvalidAddress)
	}
	assert.Empty(t, port.Writes())
}

func TestEnableCommands(t *testing.T) {
	conn, port := newTestConnection(t, func(cmd string) []testutil.Reply {
		return []testutil.Reply{{Data: "0\r"}}
	})

	require.NoError(t, conn.EnableEncoder(AxisX, true))
	require.NoError(t, conn.EnableServo(AxisY, false))
	assert.ErrorIs(t, conn.EnableServo("Z", true), driver.ErrInvalidAddress)

	assert.Equal(t, []string{"ENCODER X 1", "SERVO Y 0"}, port.Writes())
}

func TestParseDescription(t *testing.T) {
	description, err := parseDescription([]byte(testutil.StageDescription))
	require.NoError(t, err)
	assert.Equal(t, "108 MM", description["SIZE_X"])
	assert.Equal(t, "25", description["MICROSTEPS/MICRON"])
	assert.NotContains(t, description, "END")

	_, err = parseDescription([]byte("STAGE = H117\rNOT A PAIR\rEND\r"))
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestAxisMicrosteps(t *testing.T) {
	description := map[string]string{
		"SIZE_X":            "89 MM",
		"SIZE_Y":            "60MM",
		"MICROSTEPS/MICRON": "25",
	}

	steps, err := axisMicrosteps(description, AxisX)
	require.NoError(t, err)
	assert.Equal(t, 89*1000*25, steps)

	_, err = axisMicrosteps(description, AxisY)
	assert.ErrorIs(t, err, ErrProtocolViolation)

	delete(description, "MICROSTEPS/MICRON")
	_, err = axisMicrosteps(description, AxisX)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}
