package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakePort(t *testing.T) {
	t.Run("reply after write", func(t *testing.T) {
		port := NewFakePort(Static(map[string]string{"PX": "42\r"}))

		_, err := port.Write([]byte("PX\r"))
		require.NoError(t, err)

		buf := make([]byte, 16)
		n, err := port.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "42\r", string(buf[:n]))
		assert.Equal(t, []string{"PX"}, port.Writes())
	})

	t.Run("read times out empty", func(t *testing.T) {
		port := NewFakePort(nil)
		require.NoError(t, port.SetReadTimeout(10*time.Millisecond))

		start := time.Now()
		n, err := port.Read(make([]byte, 4))
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	})

	t.Run("delayed reply", func(t *testing.T) {
		port := NewFakePort(func(string) []Reply {
			return []Reply{{Data: "R\r", Delay: 30 * time.Millisecond}}
		})
		require.NoError(t, port.SetReadTimeout(10*time.Millisecond))

		_, err := port.Write([]byte("GX 1\r"))
		require.NoError(t, err)

		n, err := port.Read(make([]byte, 4))
		require.NoError(t, err)
		assert.Zero(t, n, "reply must not arrive before its delay")

		require.NoError(t, port.SetReadTimeout(100*time.Millisecond))
		buf := make([]byte, 4)
		n, err = port.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "R\r", string(buf[:n]))
	})

	t.Run("interleaving is a violation", func(t *testing.T) {
		port := NewFakePort(Static(map[string]string{"PX": "1\r", "PY": "2\r"}))

		_, err := port.Write([]byte("PX\r"))
		require.NoError(t, err)
		_, err = port.Write([]byte("PY\r"))
		require.NoError(t, err)
		assert.Equal(t, 1, port.Violations())
	})

	t.Run("reset drops arrived input", func(t *testing.T) {
		port := NewFakePort(nil)
		require.NoError(t, port.SetReadTimeout(5*time.Millisecond))
		port.Inject("stale\r")

		require.NoError(t, port.ResetInputBuffer())
		n, err := port.Read(make([]byte, 8))
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, 1, port.Resets())
	})

	t.Run("closed port fails", func(t *testing.T) {
		port := NewFakePort(nil)
		require.NoError(t, port.Close())

		_, err := port.Write([]byte("?\r"))
		assert.ErrorIs(t, err, ErrPortClosed)
		_, err = port.Read(make([]byte, 1))
		assert.ErrorIs(t, err, ErrPortClosed)
	})
}

func TestProScanSimLimits(t *testing.T) {
	sim := NewProScanSim(true)
	respond := sim.Responder()

	assert.Equal(t, "R\r", respond("GR -99999999 0 0")[0].Data)
	assert.Equal(t, "0A\r", respond("LMT")[0].Data, "x and y at their lower ends")

	assert.Equal(t, "R\r", respond("G 1000 2000 0")[0].Data)
	assert.Equal(t, "1000,2000,0\r", respond("P")[0].Data)
	assert.Equal(t, "00\r", respond("LMT")[0].Data)
}

func TestChain(t *testing.T) {
	handshake := Static(map[string]string{"?": "PROSCAN INFORMATION\r"})
	position := Static(map[string]string{"PX": "7\r"})

	t.Run("first answer wins", func(t *testing.T) {
		respond := Chain(handshake, position, Static(map[string]string{"PX": "9\r"}))
		assert.Equal(t, []Reply{{Data: "7\r"}}, respond("PX"))
		assert.Nil(t, respond("PY"))
	})

	t.Run("nil responders are skipped", func(t *testing.T) {
		respond := Chain(handshake, nil, position)

		require.NotPanics(t, func() { respond("PX") })
		assert.Equal(t, []Reply{{Data: "7\r"}}, respond("PX"))
		assert.Equal(t, []Reply{{Data: "PROSCAN INFORMATION\r"}}, respond("?"))
	})

	t.Run("only nil", func(t *testing.T) {
		respond := Chain(handshake, nil)
		assert.Nil(t, respond("S"))
	})
}
