package uart

import (
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/hubflash/pkg/sh2"
)

const (
	// DefaultBaud is the baud rate of the framed link.
	DefaultBaud = 3000000
	// FrameSize is the capacity of the receive and encode buffers.
	FrameSize = 1024
	// InterBSQDelay is the minimum interval between two BSQs.
	InterBSQDelay = 10 * time.Millisecond
	// MaxReadRun is the number of bytes a Read consumes after its timeout
	// before giving up, enough for one fully escaped frame.
	MaxReadRun = 2*FrameSize + 2
)

var bsqFrame = []byte{Flag, ProtocolControl, Flag}

// Stats counts framed link events.
type Stats struct {
	Frames  int
	Dropped int
	BSNs    int
	BSQs    int
}

// FramedHAL is a sh2.HAL exchanging RFC1662 frames with BSN/BSQ flow control.
type FramedHAL struct {
	Link

	dec       *Decoder
	txBuf     [FrameSize]byte
	lastBsn   int
	bsqSent   bool
	lastBsqUs uint32
	stats     Stats
}

// NewFramedHAL creates a FramedHAL on a serial device. The hub is started
// in its bootloader if bootloader is set, otherwise in the application.
func NewFramedHAL(device string, bootloader bool) *FramedHAL {
	return &FramedHAL{
		Link: Link{
			Device:     device,
			Baud:       DefaultBaud,
			Bootloader: bootloader,
			OpenPort:   OpenSerial,
			Clock:      sh2.NewClock(),
		},
	}
}

// Stats returns counters since Open.
func (h *FramedHAL) Stats() Stats {
	return h.stats
}

// Open implements sh2.HAL.
func (h *FramedHAL) Open() error {
	if err := h.open(); err != nil {
		return err
	}
	if h.dec == nil {
		h.dec = NewDecoder(FrameSize)
	}
	h.dec.Reset()
	h.lastBsn, h.stats = 0, Stats{}
	h.bsqSent, h.lastBsqUs = true, h.Clock.NowUs()
	sh2.Delay(h.Clock, h.bootDelay())
	return nil
}

// Close implements sh2.HAL.
func (h *FramedHAL) Close() error {
	return h.close()
}

// Read implements sh2.HAL. It returns the payload of the next DATA frame
// and the time the frame started. CONTROL frames update the known buffer
// capacity of the hub and aren't returned. Once timeout has elapsed and
// at least MaxReadRun bytes were consumed without a DATA frame, Read
// returns 0. A partial frame is kept for the next call.
func (h *FramedHAL) Read(p []byte, timeout time.Duration) (int, uint32, error) {
	if h.port == nil {
		return 0, 0, fmt.Errorf("%s not open: %w", h.Device, sh2.Err)
	}
	start := h.Clock.NowUs()
	var buf [1]byte
	consumed := 0
	for {
		if consumed >= MaxReadRun && sh2.Expired(h.Clock, start, timeout) {
			return 0, 0, nil
		}
		n, err := h.port.Read(buf[:])
		if err != nil {
			return 0, 0, h.ioErr(err)
		}
		if n == 0 {
			if sh2.Expired(h.Clock, start, timeout) {
				return 0, 0, nil
			}
			continue
		}
		consumed++
		r := h.dec.Decode(buf[0], h.Clock.NowUs())
		if r.Dropped {
			h.stats.Dropped++
			glog.V(3).Infof("%s: frame overflow dropped", h.Device)
			continue
		}
		if r.Frame == nil {
			continue
		}
		switch frame := r.Frame; frame[0] {
		case ProtocolControl:
			if len(frame) < 3 {
				h.stats.Dropped++
				continue
			}
			h.lastBsn = int(frame[1]) | int(frame[2])<<8
			h.stats.BSNs++
			glog.V(3).Infof("%s: BSN %d", h.Device, h.lastBsn)
		case ProtocolData:
			payload := frame[1:]
			if len(payload) > len(p) {
				h.stats.Dropped++
				glog.V(3).Infof("%s: frame of %d bytes dropped, buffer %d", h.Device, len(payload), len(p))
				continue
			}
			h.stats.Frames++
			return copy(p, payload), r.Start, nil
		default:
			h.stats.Dropped++
		}
	}
}

// Write implements sh2.HAL. The frame is only written if the last BSN
// advertised enough space, otherwise a BSQ may be sent and 0 is returned.
func (h *FramedHAL) Write(p []byte) (int, error) {
	if h.port == nil {
		return 0, fmt.Errorf("%s not open: %w", h.Device, sh2.Err)
	}
	n, err := Encode(h.txBuf[:], ProtocolData, p)
	if err != nil {
		return 0, err
	}
	if h.lastBsn >= n {
		h.lastBsn, h.bsqSent = 0, false
		for i := 0; i < n; i++ {
			if _, err = h.port.Write(h.txBuf[i : i+1]); err != nil {
				return 0, h.ioErr(err)
			}
		}
		return len(p), nil
	}
	now := h.Clock.NowUs()
	if !h.bsqSent || time.Duration(now-h.lastBsqUs)*time.Microsecond > InterBSQDelay {
		if _, err = h.port.Write(bsqFrame); err != nil {
			return 0, h.ioErr(err)
		}
		h.bsqSent, h.lastBsqUs = true, now
		h.stats.BSQs++
	}
	return 0, nil
}
