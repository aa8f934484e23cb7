package uart

import (
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/hubflash/pkg/sh2"
)

// Reset timing.
const (
	ResetDelay   = 10 * time.Millisecond
	DFUBootDelay = 50 * time.Millisecond
	AppBootDelay = 150 * time.Millisecond
)

// Link is the serial port setup shared by the HALs.
type Link struct {
	Device     string
	Baud       int
	Bootloader bool
	OpenPort   PortOpener
	Clock      sh2.Clock

	port Port
}

func (l *Link) open() error {
	if l.port != nil {
		return fmt.Errorf("%s already open: %w", l.Device, sh2.Err)
	}
	if l.OpenPort == nil {
		l.OpenPort = OpenSerial
	}
	if l.Clock == nil {
		l.Clock = sh2.NewClock()
	}
	port, err := l.OpenPort(l.Device, l.Baud)
	if err != nil {
		return fmt.Errorf("open %s: %v: %w", l.Device, err, sh2.ErrIO)
	}
	glog.V(2).Infof("%s opened at %d baud, bootloader=%v", l.Device, l.Baud, l.Bootloader)
	l.port = port
	if err = l.reset(l.Bootloader); err != nil {
		port.Close()
		l.port = nil
		return err
	}
	return nil
}

// reset pulses RESETN with BOOTN selecting the mode. It leaves the hub
// running but doesn't wait for it to boot.
func (l *Link) reset(bootloader bool) error {
	if err := l.holdReset(bootloader); err != nil {
		return err
	}
	return l.ioErr(l.port.SetDTR(false))
}

func (l *Link) holdReset(bootloader bool) error {
	if err := l.port.SetDTR(true); err != nil {
		return l.ioErr(err)
	}
	if err := l.port.SetRTS(bootloader); err != nil {
		return l.ioErr(err)
	}
	sh2.Delay(l.Clock, ResetDelay)
	return nil
}

func (l *Link) bootDelay() time.Duration {
	if l.Bootloader {
		return DFUBootDelay
	}
	return AppBootDelay
}

func (l *Link) close() error {
	if l.port == nil {
		return nil
	}
	err := l.holdReset(false)
	if cerr := l.port.Close(); err == nil && cerr != nil {
		err = l.ioErr(cerr)
	}
	l.port = nil
	glog.V(2).Infof("%s closed", l.Device)
	return err
}

func (l *Link) ioErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %v: %w", l.Device, err, sh2.ErrIO)
}

// TimeUs implements sh2.HAL.
func (l *Link) TimeUs() uint32 {
	return l.Clock.NowUs()
}
