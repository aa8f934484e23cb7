package uart

import "github.com/robotalks/hubflash/pkg/sh2"

// Framing bytes.
const (
	Flag   byte = 0x7e
	Escape byte = 0x7d

	escapeXor byte = 0x20
)

// Protocol ids, the first byte of every frame.
const (
	ProtocolControl byte = 0
	ProtocolData    byte = 1
)

// Encode writes a frame carrying payload into dst and returns its length.
// It fails with sh2.ErrBadParam if the frame doesn't fit in dst.
func Encode(dst []byte, protocol byte, payload []byte) (int, error) {
	if len(dst) < 1 {
		return 0, sh2.ErrBadParam
	}
	dst[0] = Flag
	n, ok := escapeTo(dst, 1, protocol)
	for i := 0; ok && i < len(payload); i++ {
		n, ok = escapeTo(dst, n, payload[i])
	}
	if !ok || n >= len(dst) {
		return 0, sh2.ErrBadParam
	}
	dst[n] = Flag
	return n + 1, nil
}

func escapeTo(dst []byte, n int, b byte) (int, bool) {
	if b == Flag || b == Escape {
		if n+2 > len(dst) {
			return n, false
		}
		dst[n], dst[n+1] = Escape, b^escapeXor
		return n + 2, true
	}
	if n+1 > len(dst) {
		return n, false
	}
	dst[n] = b
	return n + 1, true
}

// DecodeResult is the outcome of feeding one byte to the Decoder.
type DecodeResult struct {
	// Frame is set when a frame completes, it's valid until the next Decode.
	Frame []byte
	// Start is the time the frame started.
	Start uint32
	// Dropped is set when a completed frame exceeded the buffer.
	Dropped bool
}

// Decoder reassembles frames one byte at a time.
type Decoder struct {
	buf   []byte
	state decodeState
	len   int
	start uint32
}

type decodeState int

const (
	stateOutside decodeState = iota // waiting for a flag
	stateInside                     // collecting payload
	stateEscaped                    // escape seen
)

// NewDecoder creates a Decoder holding frames up to size bytes.
func NewDecoder(size int) *Decoder {
	return &Decoder{buf: make([]byte, size)}
}

// Reset drops any partial frame.
func (d *Decoder) Reset() {
	d.state, d.len = stateOutside, 0
}

// Decode consumes byte b received at time t.
func (d *Decoder) Decode(b byte, t uint32) (r DecodeResult) {
	switch d.state {
	case stateOutside:
		if b == Flag {
			d.begin(t)
		}
	case stateInside:
		switch b {
		case Escape:
			d.state = stateEscaped
		case Flag:
			if d.len == 0 {
				d.begin(t)
				return
			}
			d.state = stateOutside
			if d.len > len(d.buf) {
				r.Dropped = true
			} else {
				r.Frame, r.Start = d.buf[:d.len], d.start
			}
			d.len = 0
		default:
			d.append(b)
		}
	case stateEscaped:
		d.append(b ^ escapeXor)
		d.state = stateInside
	}
	return
}

func (d *Decoder) begin(t uint32) {
	d.state, d.len, d.start = stateInside, 0, t
}

func (d *Decoder) append(b byte) {
	if d.len < len(d.buf) {
		d.buf[d.len] = b
	}
	d.len++
}
