package shtp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/hubflash/pkg/sh2"
)

type testRx struct {
	data []byte
	ts   uint32
}

type testHAL struct {
	opened bool
	rx     []testRx
	tx     [][]byte
	busy   int
}

func (h *testHAL) Open() error {
	h.opened = true
	return nil
}

func (h *testHAL) Close() error {
	h.opened = false
	return nil
}

func (h *testHAL) Read(p []byte, _ time.Duration) (int, uint32, error) {
	if len(h.rx) == 0 {
		return 0, 0, nil
	}
	rx := h.rx[0]
	h.rx = h.rx[1:]
	return copy(p, rx.data), rx.ts, nil
}

func (h *testHAL) Write(p []byte) (int, error) {
	if h.busy > 0 {
		h.busy--
		return 0, nil
	}
	h.tx = append(h.tx, append([]byte(nil), p...))
	return len(p), nil
}

func (h *testHAL) TimeUs() uint32 {
	return 0
}

func (h *testHAL) inject(ts uint32, length uint16, channel, seq byte, data ...byte) {
	transfer := append([]byte{byte(length), byte(length >> 8), channel, seq}, data...)
	h.rx = append(h.rx, testRx{data: transfer, ts: ts})
}

type recorder struct {
	transfers []*Transfer
}

func (r *recorder) HandleTransfer(t *Transfer) {
	r.transfers = append(r.transfers, t)
}

func serviceAll(t *testing.T, tr *Transport, hal *testHAL) {
	for len(hal.rx) > 0 {
		require.NoError(t, tr.Service())
	}
}

func TestOpenClose(t *testing.T) {
	hal := &testHAL{}
	tr, err := Open(hal)
	require.NoError(t, err)
	require.True(t, hal.opened)
	require.NoError(t, tr.Close())
	require.False(t, hal.opened)
}

func TestSend(t *testing.T) {
	hal := &testHAL{}
	tr := New(hal)
	require.NoError(t, tr.Send(1, []byte{0xe3, 1}))
	require.NoError(t, tr.Send(1, []byte{0xe5}))
	require.NoError(t, tr.Send(2, []byte{0xf9, 0}))
	require.Equal(t, [][]byte{
		{6, 0, 1, 0, 0xe3, 1},
		{5, 0, 1, 1, 0xe5},
		{6, 0, 2, 0, 0xf9, 0},
	}, hal.tx)
	require.Equal(t, 3, tr.Stats().TxTransfers)
}

func TestSendFragments(t *testing.T) {
	hal := &testHAL{}
	tr := New(hal)
	payload := make([]byte, 200)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, tr.Send(3, payload))
	require.Len(t, hal.tx, 2)
	require.Equal(t, []byte{204, 0, 3, 0}, hal.tx[0][:HeaderLen])
	require.Equal(t, payload[:MaxTransferOut-HeaderLen], hal.tx[0][HeaderLen:])
	require.Equal(t, []byte{80, 0x80, 3, 1}, hal.tx[1][:HeaderLen])
	require.Equal(t, payload[MaxTransferOut-HeaderLen:], hal.tx[1][HeaderLen:])
}

func TestSendBadParam(t *testing.T) {
	tr := New(&testHAL{})
	require.ErrorIs(t, tr.Send(1, nil), sh2.ErrBadParam)
	require.ErrorIs(t, tr.Send(1, make([]byte, MaxPayload+1)), sh2.ErrBadParam)
}

func TestSendWhenBusy(t *testing.T) {
	hal := &testHAL{busy: 3}
	tr := New(hal)
	require.NoError(t, tr.Send(1, []byte{1}))
	require.NoError(t, tr.Send(1, []byte{2}))
	require.Equal(t, 2, tr.Pending())
	require.Empty(t, hal.tx)

	require.NoError(t, tr.Service())
	require.Equal(t, 2, tr.Pending())
	require.NoError(t, tr.Service())
	require.Zero(t, tr.Pending())
	require.Equal(t, [][]byte{{5, 0, 1, 0, 1}, {5, 0, 1, 1, 2}}, hal.tx)
	require.Equal(t, 3, tr.Stats().TxRetries)
}

func TestReceive(t *testing.T) {
	hal := &testHAL{}
	tr := New(hal)
	var ctl, other recorder
	tr.Listen(1, &ctl)
	tr.ListenAll(&other)

	hal.inject(100, 7, 1, 0, 0xe6, 0, 0)
	hal.inject(200, 5, 3, 0, 0xfb)
	hal.inject(300, 6, 1, 1, 0xe4, 1)
	serviceAll(t, tr, hal)

	require.Equal(t, []*Transfer{
		{Channel: 1, Seq: 0, Timestamp: 100, Payload: []byte{0xe6, 0, 0}},
		{Channel: 1, Seq: 1, Timestamp: 300, Payload: []byte{0xe4, 1}},
	}, ctl.transfers)
	require.Equal(t, []*Transfer{
		{Channel: 3, Seq: 0, Timestamp: 200, Payload: []byte{0xfb}},
	}, other.transfers)

	tr.Listen(1, nil)
	hal.inject(400, 5, 1, 2, 0xe8)
	serviceAll(t, tr, hal)
	require.Len(t, ctl.transfers, 2)
	require.Len(t, other.transfers, 2)
	require.Equal(t, 4, tr.Stats().RxTransfers)
}

func TestReceiveFragments(t *testing.T) {
	hal := &testHAL{}
	tr := New(hal)
	var r recorder
	tr.ListenAll(&r)

	hal.inject(10, 4+6, 2, 0, 1, 2, 3)
	hal.inject(20, (4+3)|continuation, 2, 1, 4, 5, 6)
	serviceAll(t, tr, hal)
	require.Equal(t, []*Transfer{
		{Channel: 2, Seq: 0, Timestamp: 10, Payload: []byte{1, 2, 3, 4, 5, 6}},
	}, r.transfers)
	require.Zero(t, tr.Stats().RxErrors)
}

func TestReceiveErrors(t *testing.T) {
	testCases := []struct {
		name   string
		inject func(*testHAL)
		errors int
		gaps   int
	}{
		{
			name: "short transfer",
			inject: func(h *testHAL) {
				h.rx = append(h.rx, testRx{data: []byte{4, 0, 1}})
			},
			errors: 1,
		},
		{
			name: "length shorter than data",
			inject: func(h *testHAL) {
				h.inject(0, 5, 1, 0, 1, 2)
			},
			errors: 1,
		},
		{
			name: "orphan continuation",
			inject: func(h *testHAL) {
				h.inject(0, 5|continuation, 1, 0, 1)
			},
			errors: 1,
		},
		{
			name: "incomplete payload replaced",
			inject: func(h *testHAL) {
				h.inject(0, 10, 1, 0, 1, 2)
				h.inject(0, 5, 1, 1, 3)
			},
			errors: 1,
		},
		{
			name: "sequence gap",
			inject: func(h *testHAL) {
				h.inject(0, 5, 1, 0, 1)
				h.inject(0, 5, 1, 2, 1)
			},
			gaps: 1,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			hal := &testHAL{}
			tr := New(hal)
			tr.ListenAll(&recorder{})
			tc.inject(hal)
			serviceAll(t, tr, hal)
			require.Equal(t, tc.errors, tr.Stats().RxErrors)
			require.Equal(t, tc.gaps, tr.Stats().RxSeqGaps)
		})
	}
}
