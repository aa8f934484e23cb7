package dfu

import (
	"fmt"

	"github.com/robotalks/hubflash/pkg/sh2"
)

// Firmware provides an image to upgrade to.
type Firmware interface {
	Open() error
	Close() error
	// Meta returns the metadata value of key.
	Meta(key string) (string, bool)
	// AppLen returns the application length in bytes.
	AppLen() uint32
	// PacketLen suggests a packet length, 0 if no preference.
	PacketLen() uint32
	// AppData copies len(p) bytes from offset into p.
	AppData(p []byte, offset uint32) error
}

// Metadata keys checked before an upgrade.
const (
	MetaFormat     = "FW-Format"
	MetaPartNumber = "SW-Part-Number"
)

// minAppLen rejects dummy images.
const minAppLen = 1024

// ProgressFunc is called after each chunk is accepted by the device.
type ProgressFunc func(sent, total uint32)

// ValidationError indicates the firmware doesn't fit the device.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

// Error implements error.
func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("firmware %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("firmware %s %q: %s", e.Field, e.Value, e.Reason)
}

// Unwrap maps validation failures to sh2.ErrBadParam.
func (e *ValidationError) Unwrap() error {
	return sh2.ErrBadParam
}

type requirements struct {
	format      string
	partNumbers []string
	align       uint32
}

func (r *requirements) check(fw Firmware) (uint32, error) {
	format, ok := fw.Meta(MetaFormat)
	if !ok {
		return 0, &ValidationError{Field: MetaFormat, Reason: "missing"}
	}
	if format != r.format {
		return 0, &ValidationError{Field: MetaFormat, Value: format, Reason: "expect " + r.format}
	}
	part, ok := fw.Meta(MetaPartNumber)
	if !ok {
		return 0, &ValidationError{Field: MetaPartNumber, Reason: "missing"}
	}
	if !r.compatible(part) {
		return 0, &ValidationError{Field: MetaPartNumber, Value: part, Reason: "incompatible"}
	}
	appLen := fw.AppLen()
	if appLen < minAppLen {
		return 0, &ValidationError{Field: "length", Value: fmt.Sprint(appLen), Reason: "too short"}
	}
	if r.align > 1 && appLen%r.align != 0 {
		return 0, &ValidationError{Field: "length", Value: fmt.Sprint(appLen), Reason: fmt.Sprintf("not multiple of %d", r.align)}
	}
	return appLen, nil
}

func (r *requirements) compatible(part string) bool {
	for _, p := range r.partNumbers {
		if p == part {
			return true
		}
	}
	return false
}

// openFirmware opens and validates fw, it's closed again on failure.
func openFirmware(fw Firmware, req *requirements) (uint32, error) {
	if fw == nil {
		return 0, fmt.Errorf("no firmware: %w", sh2.ErrBadParam)
	}
	if err := fw.Open(); err != nil {
		return 0, fmt.Errorf("open firmware: %v: %w", err, sh2.Err)
	}
	appLen, err := req.check(fw)
	if err != nil {
		fw.Close()
		return 0, err
	}
	return appLen, nil
}
