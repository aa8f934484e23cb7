package uart

import (
	"fmt"

	"github.com/robotalks/hubflash/pkg/sh2"
)

// tickClock advances by step on every reading.
type tickClock struct {
	now  uint32
	step uint32
}

func (c *tickClock) NowUs() uint32 {
	c.now += c.step
	return c.now
}

type fakePort struct {
	rx     []byte
	tx     []byte
	lines  []string
	writes int
	closed bool
	// capped limits tx to txCap bytes, further writes accept nothing.
	capped bool
	txCap  int
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.closed {
		return 0, fmt.Errorf("closed")
	}
	n := copy(b, p.rx)
	p.rx = p.rx[n:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.closed {
		return 0, fmt.Errorf("closed")
	}
	p.writes++
	if p.capped && len(p.tx)+len(b) > p.txCap {
		b = b[:p.txCap-len(p.tx)]
	}
	p.tx = append(p.tx, b...)
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func (p *fakePort) SetDTR(v bool) error {
	p.lines = append(p.lines, fmt.Sprintf("DTR=%v", v))
	return nil
}

func (p *fakePort) SetRTS(v bool) error {
	p.lines = append(p.lines, fmt.Sprintf("RTS=%v", v))
	return nil
}

func (p *fakePort) inject(frames ...[]byte) {
	for _, f := range frames {
		p.rx = append(p.rx, f...)
	}
}

func (p *fakePort) opener() PortOpener {
	return func(string, int) (Port, error) {
		p.closed = false
		return p, nil
	}
}

// streamPort delivers pattern over and over, one byte per Read.
type streamPort struct {
	fakePort
	pattern []byte
	pos     int
}

func (p *streamPort) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	b[0] = p.pattern[p.pos%len(p.pattern)]
	p.pos++
	return 1, nil
}

func (p *streamPort) opener() PortOpener {
	return func(string, int) (Port, error) {
		return p, nil
	}
}

func encodeFrame(protocol byte, payload ...byte) []byte {
	buf := make([]byte, 2*len(payload)+4)
	n, err := Encode(buf, protocol, payload)
	if err != nil {
		panic(err)
	}
	return buf[:n]
}

func bsn(capacity int) []byte {
	return encodeFrame(ProtocolControl, byte(capacity), byte(capacity>>8))
}

func failOpener(string, int) (Port, error) {
	return nil, fmt.Errorf("no such device")
}

var _ sh2.Clock = &tickClock{}
