package uart

import (
	"io"
	"time"

	"go.bug.st/serial"
)

// Port is a serial line with the hub's control lines attached.
type Port interface {
	io.ReadWriteCloser
	SetDTR(bool) error
	SetRTS(bool) error
}

// PortOpener opens a named port at the baud rate.
type PortOpener func(name string, baud int) (Port, error)

// PollTimeout bounds a single read on a serial port.
const PollTimeout = time.Millisecond

// OpenSerial opens a serial device with 8N1 and no flow control.
// Reads return after PollTimeout if nothing arrives.
func OpenSerial(name string, baud int) (Port, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	if err = port.SetReadTimeout(PollTimeout); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

// ListPorts lists serial ports on this machine.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
