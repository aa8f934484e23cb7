package dfu

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/sigurn/crc16"

	"github.com/robotalks/hubflash/pkg/sh2"
)

// Lockstep protocol defaults.
const (
	MaxPacketLen       = 64
	DefaultMaxAttempts = 5
	DefaultSendTimeout = 100 * time.Millisecond
	DefaultSettleDelay = 10 * time.Millisecond

	ackByte byte = 's'
)

var (
	simpleRequirements = requirements{
		format:      "BNO_V1",
		partNumbers: []string{"1000-3608", "1000-3676", "1000-4148", "1000-4563"},
	}

	crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)
)

// NakError is a negative acknowledgement from the device.
type NakError struct {
	Ack byte
}

// Error implements error.
func (e *NakError) Error() string {
	return fmt.Sprintf("nak %#02x", e.Ack)
}

// Unwrap maps a NAK to sh2.ErrHub.
func (e *NakError) Unwrap() error {
	return sh2.ErrHub
}

// SimpleUpgrader upgrades BNO hubs with the lockstep protocol. The device
// receives the application length, the packet length and then the
// application, every packet followed by its CRC-16/CCITT-FALSE.
type SimpleUpgrader struct {
	MaxAttempts int
	SendTimeout time.Duration
	SettleDelay time.Duration
	Progress    ProgressFunc

	hal     sh2.HAL
	clock   sh2.Clock
	status  sh2.Status
	packets int
	retries int
	buf     [MaxPacketLen + 2]byte
}

// NewSimpleUpgrader creates a SimpleUpgrader with defaults.
func NewSimpleUpgrader() *SimpleUpgrader {
	return &SimpleUpgrader{
		MaxAttempts: DefaultMaxAttempts,
		SendTimeout: DefaultSendTimeout,
		SettleDelay: DefaultSettleDelay,
	}
}

// Status returns the status of the last Run.
func (u *SimpleUpgrader) Status() sh2.Status {
	return u.status
}

// PacketsSent returns the number of packets acknowledged in the last Run.
func (u *SimpleUpgrader) PacketsSent() int {
	return u.packets
}

// Retries returns the number of failed attempts in the last Run.
func (u *SimpleUpgrader) Retries() int {
	return u.retries
}

// Run upgrades the device behind hal to fw. It returns nil on success.
func (u *SimpleUpgrader) Run(ctx context.Context, hal sh2.HAL, fw Firmware) error {
	u.packets, u.retries = 0, 0
	err := u.run(ctx, hal, fw)
	u.status = sh2.StatusOf(err)
	if err != nil {
		glog.Errorf("lockstep DFU failed after %d packets: %v", u.packets, err)
	} else {
		glog.Infof("lockstep DFU completed, %d packets, %d retries", u.packets, u.retries)
	}
	return err
}

func (u *SimpleUpgrader) run(ctx context.Context, hal sh2.HAL, fw Firmware) (err error) {
	appLen, err := openFirmware(fw, &simpleRequirements)
	if err != nil {
		return err
	}
	defer fw.Close()

	packetLen := fw.PacketLen()
	if packetLen == 0 || packetLen > MaxPacketLen {
		packetLen = MaxPacketLen
	}

	if err = hal.Open(); err != nil {
		return err
	}
	u.hal, u.clock = hal, sh2.ClockFunc(hal.TimeUs)
	defer func() {
		if err == nil {
			sh2.Delay(u.clock, u.SettleDelay)
		}
		hal.Close()
		u.hal = nil
	}()

	glog.Infof("lockstep DFU: %d bytes in packets of %d", appLen, packetLen)
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], appLen)
	if err = u.send(ctx, size[:]); err != nil {
		return fmt.Errorf("send length: %w", err)
	}
	if err = u.send(ctx, []byte{byte(packetLen)}); err != nil {
		return fmt.Errorf("send packet length: %w", err)
	}
	chunk := make([]byte, packetLen)
	for offset := uint32(0); offset < appLen; {
		n := appLen - offset
		if n > packetLen {
			n = packetLen
		}
		if err = fw.AppData(chunk[:n], offset); err != nil {
			return err
		}
		if err = u.send(ctx, chunk[:n]); err != nil {
			return fmt.Errorf("send offset %d: %w", offset, err)
		}
		offset += n
		if u.Progress != nil {
			u.Progress(offset, appLen)
		}
	}
	return nil
}

func (u *SimpleUpgrader) send(ctx context.Context, payload []byte) error {
	n := copy(u.buf[:], payload)
	binary.BigEndian.PutUint16(u.buf[n:], crc16.Checksum(payload, crcTable))
	packet := u.buf[:n+2]

	var err error
	for attempt := 0; attempt < u.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%v: %w", ctxErr, sh2.ErrTimeout)
		}
		if attempt > 0 {
			u.retries++
			glog.Warningf("packet %d attempt %d: %v", u.packets, attempt+1, err)
		}
		if err = u.exchange(packet); err == nil {
			u.packets++
			return nil
		}
	}
	return err
}

// exchange writes a packet and reads the acknowledgement, both within one
// SendTimeout window.
func (u *SimpleUpgrader) exchange(packet []byte) error {
	start := u.clock.NowUs()
	var n int
	var err error
	for n == 0 && !sh2.Expired(u.clock, start, u.SendTimeout) {
		if n, err = u.hal.Write(packet); err != nil {
			return err
		}
	}
	if n == 0 {
		return fmt.Errorf("write: %w", sh2.ErrTimeout)
	}

	var ack [1]byte
	n = 0
	for n == 0 && !sh2.Expired(u.clock, start, u.SendTimeout) {
		remaining := u.SendTimeout - time.Duration(sh2.ElapsedUs(u.clock, start))*time.Microsecond
		if n, _, err = u.hal.Read(ack[:], remaining); err != nil {
			return err
		}
	}
	if n == 0 {
		return fmt.Errorf("ack: %w", sh2.ErrTimeout)
	}
	if ack[0] != ackByte {
		return &NakError{Ack: ack[0]}
	}
	return nil
}
