package hcbin

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/robotalks/hubflash/pkg/sh2"
)

// Container constants.
const (
	Magic         uint32 = 0x6572d028
	FormatVersion uint32 = 4

	headerLen = 16
	crcLen    = 4
)

// MetaEntry is a metadata record.
type MetaEntry struct {
	Key   string
	Value string
}

// Image is a validated container.
type Image struct {
	Meta    []MetaEntry
	Payload []byte
}

// Lookup returns the value of the first entry with key.
func (img *Image) Lookup(key string) (string, bool) {
	for _, entry := range img.Meta {
		if entry.Key == key {
			return entry.Value, true
		}
	}
	return "", false
}

type crcReader struct {
	r   *bufio.Reader
	crc hash.Hash32
	pos uint32
	one [1]byte
}

func (r *crcReader) readByte() (byte, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return 0, err
	}
	r.one[0] = b
	r.crc.Write(r.one[:])
	r.pos++
	return b, nil
}

func (r *crcReader) peekByte() (byte, error) {
	p, err := r.r.Peek(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (r *crcReader) read(p []byte) error {
	if _, err := io.ReadFull(r.r, p); err != nil {
		return err
	}
	r.crc.Write(p)
	r.pos += uint32(len(p))
	return nil
}

func (r *crcReader) copyN(w io.Writer, n uint32) error {
	copied, err := io.CopyN(io.MultiWriter(w, r.crc), r.r, int64(n))
	r.pos += uint32(copied)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}

func (r *crcReader) readU32() (uint32, error) {
	var b [4]byte
	if err := r.read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// Decode reads and validates a container.
func Decode(in io.Reader) (*Image, error) {
	r := &crcReader{r: bufio.NewReader(in), crc: crc32.NewIEEE()}
	var hdr [4]uint32
	for n := range hdr {
		val, err := r.readU32()
		if err != nil {
			return nil, readErr("header", err)
		}
		hdr[n] = val
	}
	magic, size, version, offset := hdr[0], hdr[1], hdr[2], hdr[3]
	if magic != Magic {
		return nil, fmt.Errorf("bad magic %#08x: %w", magic, sh2.ErrBadParam)
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("unsupported format version %d: %w", version, sh2.ErrBadParam)
	}
	if offset < headerLen || uint64(size) < uint64(offset)+crcLen {
		return nil, fmt.Errorf("bad layout size=%d offset=%d: %w", size, offset, sh2.ErrBadParam)
	}

	img := &Image{}
	var err error
	if img.Meta, err = r.readMeta(offset); err != nil {
		return nil, err
	}
	for r.pos < offset {
		if _, err = r.readByte(); err != nil {
			return nil, readErr("padding", err)
		}
	}
	// size isn't trusted until the checksum matches, the buffer only
	// grows with data actually read.
	var payload bytes.Buffer
	if err = r.copyN(&payload, size-offset-crcLen); err != nil {
		return nil, readErr("payload", err)
	}
	img.Payload = payload.Bytes()
	computed := r.crc.Sum32()
	var stored [4]byte
	if _, err = io.ReadFull(r.r, stored[:]); err != nil {
		return nil, readErr("checksum", err)
	}
	if val := binary.BigEndian.Uint32(stored[:]); val != computed {
		return nil, fmt.Errorf("checksum mismatch stored=%08x computed=%08x: %w", val, computed, sh2.ErrBadParam)
	}
	return img, nil
}

type metaState int

const (
	metaKey   metaState = iota // collecting key until ':'
	metaSep                    // skipping until ' '
	metaValue                  // collecting value until a terminator
	metaEOL                    // skipping terminators
)

func isTerminator(b byte) bool {
	return b == '\n' || b == '\r' || b == 0
}

func (r *crcReader) readMeta(end uint32) ([]MetaEntry, error) {
	var meta []MetaEntry
	var key, value []byte
	state := metaKey
	for r.pos < end {
		if state == metaEOL {
			b, err := r.peekByte()
			if err != nil {
				return nil, readErr("metadata", err)
			}
			if !isTerminator(b) {
				state = metaKey
				continue
			}
		}
		b, err := r.readByte()
		if err != nil {
			return nil, readErr("metadata", err)
		}
		switch state {
		case metaKey:
			if b == ':' {
				state = metaSep
			} else {
				key = append(key, b)
			}
		case metaSep:
			if b == ' ' {
				state = metaValue
			}
		case metaValue:
			if isTerminator(b) {
				meta = append(meta, MetaEntry{Key: string(key), Value: string(value)})
				key, value = key[:0], value[:0]
				state = metaEOL
			} else {
				value = append(value, b)
			}
		}
	}
	return meta, nil
}

func readErr(what string, err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fmt.Errorf("truncated %s: %w", what, sh2.ErrBadParam)
	}
	return fmt.Errorf("read %s: %v: %w", what, err, sh2.ErrIO)
}

// Encode writes a container holding meta and payload.
func Encode(w io.Writer, meta []MetaEntry, payload []byte) error {
	var body []byte
	for _, entry := range meta {
		body = append(body, entry.Key...)
		body = append(body, ": "...)
		body = append(body, entry.Value...)
		body = append(body, '\n')
	}
	offset := uint32(headerLen + len(body))
	size := offset + uint32(len(payload)) + crcLen
	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint32(buf, Magic)
	buf = binary.BigEndian.AppendUint32(buf, size)
	buf = binary.BigEndian.AppendUint32(buf, FormatVersion)
	buf = binary.BigEndian.AppendUint32(buf, offset)
	buf = append(buf, body...)
	buf = append(buf, payload...)
	buf = binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
	_, err := w.Write(buf)
	return err
}
