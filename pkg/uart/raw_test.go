package uart

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestRaw(port *fakePort) *RawHAL {
	h := NewRawHAL("test")
	h.Clock = &tickClock{step: 100}
	h.OpenPort = func(name string, baud int) (Port, error) {
		if baud != DFUBaud {
			return failOpener(name, baud)
		}
		return port.opener()(name, baud)
	}
	return h
}

func TestRawOpenClose(t *testing.T) {
	port := &fakePort{}
	h := newTestRaw(port)
	h.Bootloader = false
	require.NoError(t, h.Open())
	require.Equal(t, []string{"DTR=true", "RTS=true", "DTR=false"}, port.lines)

	port.lines = nil
	require.NoError(t, h.Close())
	require.Equal(t, []string{"DTR=true", "RTS=false"}, port.lines)
	require.True(t, port.closed)
}

func TestRawRead(t *testing.T) {
	port := &fakePort{}
	h := newTestRaw(port)
	require.NoError(t, h.Open())
	port.inject([]byte{1, 2, 3})

	buf := make([]byte, 2)
	n, _, err := h.Read(buf, time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2}, buf[:n])

	buf = make([]byte, 4)
	n, _, err = h.Read(buf, time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, []byte{3}, buf[:n])

	n, _, err = h.Read(buf, time.Millisecond)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRawWrite(t *testing.T) {
	port := &fakePort{}
	h := newTestRaw(port)
	require.NoError(t, h.Open())
	n, err := h.Write([]byte{0x7e, 1, 2})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []byte{0x7e, 1, 2}, port.tx)
}

func TestRawWriteStalled(t *testing.T) {
	testCases := []struct {
		name  string
		txCap int
		sent  []byte
	}{
		{name: "nothing accepted", txCap: 0},
		{name: "partially accepted", txCap: 2, sent: []byte{0x7e, 1}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			port := &fakePort{capped: true, txCap: tc.txCap}
			h := newTestRaw(port)
			require.NoError(t, h.Open())
			n, err := h.Write([]byte{0x7e, 1, 2})
			require.NoError(t, err)
			require.Equal(t, len(tc.sent), n)
			require.Equal(t, tc.sent, port.tx)
		})
	}
}
