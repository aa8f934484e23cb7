package uart

import (
	"fmt"
	"time"

	"github.com/robotalks/hubflash/pkg/sh2"
)

// DFUBaud is the baud rate of the lockstep bootloader.
const DFUBaud = 115200

// RawHAL is a sh2.HAL passing bytes as-is. Open always starts the hub in
// its bootloader.
type RawHAL struct {
	Link
}

// NewRawHAL creates a RawHAL on a serial device.
func NewRawHAL(device string) *RawHAL {
	return &RawHAL{
		Link: Link{
			Device:     device,
			Baud:       DFUBaud,
			Bootloader: true,
			OpenPort:   OpenSerial,
			Clock:      sh2.NewClock(),
		},
	}
}

// Open implements sh2.HAL.
func (h *RawHAL) Open() error {
	h.Bootloader = true
	if err := h.open(); err != nil {
		return err
	}
	sh2.Delay(h.Clock, h.bootDelay())
	return nil
}

// Close implements sh2.HAL.
func (h *RawHAL) Close() error {
	return h.close()
}

// Read implements sh2.HAL. It collects len(p) bytes unless timeout elapses
// first, and returns the number of bytes collected.
func (h *RawHAL) Read(p []byte, timeout time.Duration) (int, uint32, error) {
	if h.port == nil {
		return 0, 0, fmt.Errorf("%s not open: %w", h.Device, sh2.Err)
	}
	start := h.Clock.NowUs()
	var got int
	for got < len(p) {
		n, err := h.port.Read(p[got:])
		if err != nil {
			return got, h.Clock.NowUs(), h.ioErr(err)
		}
		got += n
		if got < len(p) && sh2.Expired(h.Clock, start, timeout) {
			break
		}
	}
	return got, h.Clock.NowUs(), nil
}

// Write implements sh2.HAL. It stops at the first write accepting no
// bytes and returns the count sent so far.
func (h *RawHAL) Write(p []byte) (int, error) {
	if h.port == nil {
		return 0, fmt.Errorf("%s not open: %w", h.Device, sh2.Err)
	}
	sent := 0
	for sent < len(p) {
		n, err := h.port.Write(p[sent:])
		if err != nil {
			return sent, h.ioErr(err)
		}
		if n == 0 {
			break
		}
		sent += n
	}
	return sent, nil
}
