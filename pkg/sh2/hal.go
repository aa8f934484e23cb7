package sh2

import "time"

// HAL is the byte channel between host and hub.
//
// On framed links one Read returns at most one frame payload. On raw links
// Read accumulates up to len(p) bytes. Both give up once timeout elapses,
// a zero timeout only consumes what is already available.
//
// Write returns 0 with a nil error when the link can't take the data yet,
// the caller is expected to retry.
type HAL interface {
	Open() error
	Close() error
	Read(p []byte, timeout time.Duration) (n int, t uint32, err error)
	Write(p []byte) (int, error)
	TimeUs() uint32
}
