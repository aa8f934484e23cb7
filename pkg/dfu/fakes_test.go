package dfu

import (
	"fmt"

	"github.com/robotalks/hubflash/pkg/sh2"
)

type memFirmware struct {
	meta      map[string]string
	data      []byte
	packetLen uint32
	openErr   error
	opened    bool
	opens     int
}

func newFirmware(format, part string, size int) *memFirmware {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*13 + 5)
	}
	return &memFirmware{
		meta: map[string]string{MetaFormat: format, MetaPartNumber: part},
		data: data,
	}
}

func bnoFirmware(size int) *memFirmware {
	return newFirmware("BNO_V1", "1000-4148", size)
}

func fspFirmware(size int) *memFirmware {
	return newFirmware("EFM32_V1", "1000-4095", size)
}

func (f *memFirmware) Open() error {
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = true
	f.opens++
	return nil
}

func (f *memFirmware) Close() error {
	f.opened = false
	return nil
}

func (f *memFirmware) Meta(key string) (string, bool) {
	if !f.opened {
		return "", false
	}
	val, ok := f.meta[key]
	return val, ok
}

func (f *memFirmware) AppLen() uint32 {
	return uint32(len(f.data))
}

func (f *memFirmware) PacketLen() uint32 {
	return f.packetLen
}

func (f *memFirmware) AppData(p []byte, offset uint32) error {
	if !f.opened {
		return fmt.Errorf("not open")
	}
	if int(offset)+len(p) > len(f.data) {
		return sh2.ErrBadParam
	}
	copy(p, f.data[offset:])
	return nil
}
