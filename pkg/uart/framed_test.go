package uart

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/hubflash/pkg/sh2"
)

func newTestFramed(port *fakePort, bootloader bool) (*FramedHAL, *tickClock) {
	clock := &tickClock{step: 100}
	h := NewFramedHAL("test", bootloader)
	h.OpenPort, h.Clock = port.opener(), clock
	return h, clock
}

func TestFramedOpenClose(t *testing.T) {
	testCases := []struct {
		name       string
		bootloader bool
		lines      []string
		delay      time.Duration
	}{
		{
			name:       "bootloader",
			bootloader: true,
			lines:      []string{"DTR=true", "RTS=true", "DTR=false"},
			delay:      ResetDelay + DFUBootDelay,
		},
		{
			name:  "application",
			lines: []string{"DTR=true", "RTS=false", "DTR=false"},
			delay: ResetDelay + AppBootDelay,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			port := &fakePort{}
			h, clock := newTestFramed(port, tc.bootloader)
			require.NoError(t, h.Open())
			require.Equal(t, tc.lines, port.lines)
			require.True(t, time.Duration(clock.now)*time.Microsecond >= tc.delay)
			require.ErrorIs(t, h.Open(), sh2.Err)

			port.lines = nil
			require.NoError(t, h.Close())
			require.Equal(t, []string{"DTR=true", "RTS=false"}, port.lines)
			require.True(t, port.closed)
			require.NoError(t, h.Close())
		})
	}
}

func TestFramedOpenFailure(t *testing.T) {
	h := NewFramedHAL("missing", false)
	h.OpenPort, h.Clock = failOpener, &tickClock{step: 100}
	require.ErrorIs(t, h.Open(), sh2.ErrIO)
	_, err := h.Write([]byte{1})
	require.ErrorIs(t, err, sh2.Err)
}

func TestFramedReadWrite(t *testing.T) {
	port := &fakePort{}
	h, _ := newTestFramed(port, false)
	require.NoError(t, h.Open())
	port.inject(bsn(64), encodeFrame(ProtocolData, 1, 0x7e, 3))

	buf := make([]byte, 16)
	n, _, err := h.Read(buf, 0)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 0x7e, 3}, buf[:n])
	require.Equal(t, Stats{Frames: 1, BSNs: 1}, h.Stats())

	n, err = h.Write([]byte{9, 8})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	frame := encodeFrame(ProtocolData, 9, 8)
	require.Equal(t, frame, port.tx)
	require.Equal(t, len(frame), port.writes)

	n, err = h.Write([]byte{9, 8})
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, bsqFrame, port.tx[len(frame):])
}

func TestFramedReadDrops(t *testing.T) {
	port := &fakePort{}
	h, _ := newTestFramed(port, false)
	require.NoError(t, h.Open())
	port.inject(
		encodeFrame(ProtocolData, 1, 2, 3, 4),
		[]byte{Flag, ProtocolControl, 1, Flag},
		encodeFrame(5, 1),
		encodeFrame(ProtocolData, 7),
	)
	buf := make([]byte, 2)
	n, _, err := h.Read(buf, 0)
	require.NoError(t, err)
	require.Equal(t, []byte{7}, buf[:n])
	require.Equal(t, 3, h.Stats().Dropped)
}

func TestFramedReadTimeout(t *testing.T) {
	port := &fakePort{}
	h, clock := newTestFramed(port, false)
	require.NoError(t, h.Open())
	start := clock.now
	n, _, err := h.Read(make([]byte, 4), 5*time.Millisecond)
	require.NoError(t, err)
	require.Zero(t, n)
	require.True(t, clock.now-start >= 5000)
}

func TestFramedReadTimeoutOnBusyLine(t *testing.T) {
	testCases := []struct {
		name    string
		pattern []byte
		stats   func(t *testing.T, s Stats)
	}{
		{
			name:    "noise",
			pattern: []byte{0x55},
			stats: func(t *testing.T, s Stats) {
				require.Equal(t, Stats{}, s)
			},
		},
		{
			name:    "open frame",
			pattern: append([]byte{Flag, ProtocolData}, make([]byte, FrameSize)...),
			stats: func(t *testing.T, s Stats) {
				require.Zero(t, s.Frames)
			},
		},
		{
			name:    "bsn run",
			pattern: bsn(16),
			stats: func(t *testing.T, s Stats) {
				require.True(t, s.BSNs > 0)
				require.Zero(t, s.Frames)
			},
		},
		{
			name:    "oversized frames",
			pattern: encodeFrame(ProtocolData, make([]byte, 32)...),
			stats: func(t *testing.T, s Stats) {
				require.True(t, s.Dropped > 0)
				require.Zero(t, s.Frames)
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			port := &streamPort{pattern: tc.pattern}
			clock := &tickClock{step: 100}
			h := NewFramedHAL("test", false)
			h.OpenPort, h.Clock = port.opener(), clock
			require.NoError(t, h.Open())
			start := clock.now

			type result struct {
				n   int
				err error
			}
			done := make(chan result, 1)
			go func() {
				n, _, err := h.Read(make([]byte, 16), 5*time.Millisecond)
				done <- result{n: n, err: err}
			}()
			select {
			case r := <-done:
				require.NoError(t, r.err)
				require.Zero(t, r.n)
			case <-time.After(5 * time.Second):
				t.Fatal("Read didn't return")
			}
			require.True(t, clock.now-start >= 5000)
			require.True(t, port.pos >= MaxReadRun)
			tc.stats(t, h.Stats())
		})
	}
}

func TestFramedReadKeepsPartialFrame(t *testing.T) {
	port := &fakePort{}
	h, _ := newTestFramed(port, false)
	require.NoError(t, h.Open())
	frame := encodeFrame(ProtocolData, 1, 2, 3, 4)
	port.inject(frame[:3])

	buf := make([]byte, 8)
	n, _, err := h.Read(buf, 0)
	require.NoError(t, err)
	require.Zero(t, n)

	port.inject(frame[3:])
	n, _, err = h.Read(buf, 0)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, buf[:n])
}

func TestFramedReadTimestamp(t *testing.T) {
	port := &fakePort{}
	h, clock := newTestFramed(port, false)
	require.NoError(t, h.Open())
	port.inject(encodeFrame(ProtocolData, 1, 2, 3, 4, 5))
	before := clock.now
	n, ts, err := h.Read(make([]byte, 8), 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.True(t, ts > before && ts < clock.now)
}

func TestFramedWriteTooLarge(t *testing.T) {
	port := &fakePort{}
	h, _ := newTestFramed(port, false)
	require.NoError(t, h.Open())
	port.inject(bsn(0xffff))
	_, _, err := h.Read(make([]byte, 4), 0)
	require.NoError(t, err)

	n, err := h.Write(make([]byte, FrameSize-1))
	require.ErrorIs(t, err, sh2.ErrBadParam)
	require.Zero(t, n)
	require.Empty(t, port.tx)
}

func TestFramedFlowControlWithoutBSN(t *testing.T) {
	port := &fakePort{}
	h, clock := newTestFramed(port, true)
	require.NoError(t, h.Open())
	start := clock.now
	var times []uint32
	for clock.now-start < 100000 {
		bsqs := h.Stats().BSQs
		n, err := h.Write([]byte{1, 2, 3})
		require.NoError(t, err)
		require.Zero(t, n)
		if h.Stats().BSQs > bsqs {
			times = append(times, clock.now)
		}
	}
	require.NotEmpty(t, times)
	require.True(t, len(times) <= 10)
	require.Len(t, port.tx, 3*len(times))
	for i := 0; i < len(port.tx); i += 3 {
		require.Equal(t, bsqFrame, port.tx[i:i+3])
	}
	for i := 1; i < len(times); i++ {
		require.True(t, time.Duration(times[i]-times[i-1])*time.Microsecond > InterBSQDelay)
	}
}
