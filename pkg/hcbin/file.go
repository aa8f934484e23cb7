package hcbin

import (
	"errors"
	"fmt"
	"os"

	"github.com/robotalks/hubflash/pkg/sh2"
)

// ErrNotOpen indicates the file hasn't been opened.
var ErrNotOpen = errors.New("firmware not open")

// File is firmware loaded from a container on disk.
type File struct {
	Path string

	image *Image
}

// NewFile creates a File, the container is read by Open.
func NewFile(path string) *File {
	return &File{Path: path}
}

// Open reads and validates the container. Opening an already opened
// file fails with sh2.Err.
func (f *File) Open() error {
	if f.image != nil {
		return fmt.Errorf("%s already open: %w", f.Path, sh2.Err)
	}
	in, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("%v: %w", err, sh2.ErrIO)
	}
	defer in.Close()
	img, err := Decode(in)
	if err != nil {
		return fmt.Errorf("%s: %w", f.Path, err)
	}
	f.image = img
	return nil
}

// Close releases the payload and metadata.
func (f *File) Close() error {
	f.image = nil
	return nil
}

// Image returns the opened container or nil.
func (f *File) Image() *Image {
	return f.image
}

// Meta returns the first metadata value for key.
func (f *File) Meta(key string) (string, bool) {
	if f.image == nil {
		return "", false
	}
	return f.image.Lookup(key)
}

// AppLen returns the payload length.
func (f *File) AppLen() uint32 {
	if f.image == nil {
		return 0
	}
	return uint32(len(f.image.Payload))
}

// PacketLen is always 0, containers don't suggest a packet length.
func (f *File) PacketLen() uint32 {
	return 0
}

// AppData copies len(p) payload bytes from offset into p.
func (f *File) AppData(p []byte, offset uint32) error {
	if f.image == nil {
		return ErrNotOpen
	}
	if uint64(offset)+uint64(len(p)) > uint64(len(f.image.Payload)) {
		return fmt.Errorf("read %d bytes at %d beyond %d: %w",
			len(p), offset, len(f.image.Payload), sh2.ErrBadParam)
	}
	copy(p, f.image.Payload[offset:])
	return nil
}
