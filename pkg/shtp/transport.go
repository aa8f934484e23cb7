package shtp

import (
	"encoding/binary"
	"fmt"

	"github.com/golang/glog"

	"github.com/robotalks/hubflash/pkg/sh2"
)

// Transfer sizes.
const (
	HeaderLen      = 4
	MaxTransferOut = 128
	MaxTransferIn  = 1024
	MaxPayload     = 0x7fff - HeaderLen

	continuation = 0x8000
)

// Transfer is a payload received on a channel.
type Transfer struct {
	Channel   byte
	Seq       byte
	Timestamp uint32
	Payload   []byte
}

// Handler is called when a payload is received.
type Handler interface {
	HandleTransfer(*Transfer)
}

// HandleTransferFunc is func type of Handler.
type HandleTransferFunc func(*Transfer)

// HandleTransfer implements Handler.
func (f HandleTransferFunc) HandleTransfer(t *Transfer) {
	f(t)
}

// Stats counts transport events.
type Stats struct {
	RxTransfers int
	RxErrors    int
	RxSeqGaps   int
	TxTransfers int
	TxRetries   int
}

type assembly struct {
	buf       []byte
	remaining int
	seq       byte
	timestamp uint32
}

// Transport sends and receives channel payloads over a HAL.
// It is not safe for concurrent use, handlers are invoked from Service.
type Transport struct {
	HAL sh2.HAL

	listeners map[byte]Handler
	all       Handler
	txSeq     [256]byte
	rxSeq     [256]int
	inbound   map[byte]*assembly
	pending   [][]byte
	rxBuf     []byte
	stats     Stats
}

// New creates a Transport on a HAL which isn't opened yet.
func New(hal sh2.HAL) *Transport {
	t := &Transport{
		HAL:       hal,
		listeners: make(map[byte]Handler),
		inbound:   make(map[byte]*assembly),
		rxBuf:     make([]byte, MaxTransferIn),
	}
	for n := range t.rxSeq {
		t.rxSeq[n] = -1
	}
	return t
}

// Open opens the HAL and creates a Transport.
func Open(hal sh2.HAL) (*Transport, error) {
	if err := hal.Open(); err != nil {
		return nil, err
	}
	return New(hal), nil
}

// Close closes the HAL, pending sends are dropped.
func (t *Transport) Close() error {
	t.pending = nil
	return t.HAL.Close()
}

// Listen registers the handler of a channel.
func (t *Transport) Listen(channel byte, h Handler) {
	if h == nil {
		delete(t.listeners, channel)
		return
	}
	t.listeners[channel] = h
}

// ListenAll registers a handler for channels without a listener.
func (t *Transport) ListenAll(h Handler) {
	t.all = h
}

// Stats returns the counters.
func (t *Transport) Stats() Stats {
	return t.stats
}

// Pending returns number of transfers waiting to be written.
func (t *Transport) Pending() int {
	return len(t.pending)
}

// Send sends a payload on a channel. Transfers the HAL can't take right
// now are queued and written by Service in order.
func (t *Transport) Send(channel byte, payload []byte) error {
	if len(payload) == 0 || len(payload) > MaxPayload {
		return fmt.Errorf("payload of %d bytes: %w", len(payload), sh2.ErrBadParam)
	}
	for offset, first := 0, true; offset < len(payload); first = false {
		remaining := len(payload) - offset
		chunk := remaining
		if chunk > MaxTransferOut-HeaderLen {
			chunk = MaxTransferOut - HeaderLen
		}
		length := uint16(remaining + HeaderLen)
		if !first {
			length |= continuation
		}
		transfer := make([]byte, HeaderLen+chunk)
		binary.LittleEndian.PutUint16(transfer, length)
		transfer[2] = channel
		transfer[3] = t.txSeq[channel]
		t.txSeq[channel]++
		copy(transfer[HeaderLen:], payload[offset:offset+chunk])
		t.pending = append(t.pending, transfer)
		offset += chunk
	}
	return t.flush()
}

func (t *Transport) flush() error {
	for len(t.pending) > 0 {
		n, err := t.HAL.Write(t.pending[0])
		if err != nil {
			return err
		}
		if n == 0 {
			t.stats.TxRetries++
			return nil
		}
		t.pending[0] = nil
		t.pending = t.pending[1:]
		t.stats.TxTransfers++
	}
	return nil
}

// Service writes pending transfers and receives at most one transfer,
// dispatching a completed payload to its handler.
func (t *Transport) Service() error {
	if err := t.flush(); err != nil {
		return err
	}
	n, ts, err := t.HAL.Read(t.rxBuf, 0)
	if err != nil {
		return err
	}
	if n > 0 {
		t.receive(t.rxBuf[:n], ts)
	}
	return nil
}

func (t *Transport) receive(transfer []byte, ts uint32) {
	if len(transfer) < HeaderLen {
		t.rxError("short transfer of %d bytes", len(transfer))
		return
	}
	length := binary.LittleEndian.Uint16(transfer)
	cont := length&continuation != 0
	total := int(length&^continuation) - HeaderLen
	channel, seq := transfer[2], transfer[3]
	data := transfer[HeaderLen:]
	if total < len(data) {
		t.rxError("channel %d: length %d shorter than transfer %d", channel, total, len(data))
		return
	}
	if expected := t.rxSeq[channel]; expected >= 0 && byte(expected) != seq {
		t.stats.RxSeqGaps++
		glog.V(2).Infof("channel %d: seq %d, expected %d", channel, seq, expected)
	}
	t.rxSeq[channel] = int(seq + 1)

	asm := t.inbound[channel]
	if cont {
		if asm == nil || asm.remaining != total {
			t.rxError("channel %d: unexpected continuation", channel)
			delete(t.inbound, channel)
			return
		}
	} else {
		if asm != nil {
			t.rxError("channel %d: incomplete payload dropped", channel)
		}
		asm = &assembly{buf: make([]byte, 0, total), remaining: total, seq: seq, timestamp: ts}
		t.inbound[channel] = asm
	}
	asm.buf = append(asm.buf, data...)
	asm.remaining -= len(data)
	if asm.remaining > 0 {
		return
	}
	delete(t.inbound, channel)
	t.stats.RxTransfers++
	t.dispatch(&Transfer{Channel: channel, Seq: asm.seq, Timestamp: asm.timestamp, Payload: asm.buf})
}

func (t *Transport) dispatch(transfer *Transfer) {
	h := t.listeners[transfer.Channel]
	if h == nil {
		h = t.all
	}
	if h == nil {
		glog.V(3).Infof("channel %d: no listener", transfer.Channel)
		return
	}
	h.HandleTransfer(transfer)
}

func (t *Transport) rxError(format string, args ...interface{}) {
	t.stats.RxErrors++
	glog.V(2).Infof(format, args...)
}
