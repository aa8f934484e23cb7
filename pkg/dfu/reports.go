package dfu

import (
	"encoding/binary"
	"fmt"

	"github.com/robotalks/hubflash/pkg/sh2"
)

// Bootloader report ids.
const (
	ReportProdIDReq  byte = 0xe1
	ReportProdIDResp byte = 0xe2
	ReportOpModeReq  byte = 0xe3
	ReportOpModeResp byte = 0xe4
	ReportStatusReq  byte = 0xe5
	ReportStatusResp byte = 0xe6
	ReportWriteReq   byte = 0xe7
	ReportWriteResp  byte = 0xe8
)

// OpMode is a bootloader operating mode.
type OpMode byte

// Operating modes.
const (
	OpModeBootloader OpMode = iota
	OpModeUpgrade
	OpModeValidate
	OpModeApplication
)

// Bootloader status flags.
const (
	StatusLaunchApplication uint32 = 0x00000001
	StatusLaunchBootloader  uint32 = 0x00000002
	StatusUpgradeStarted    uint32 = 0x00000004
	StatusValidateStarted   uint32 = 0x00000008
	StatusAppValid          uint32 = 0x00000010
	StatusAppInvalid        uint32 = 0x00000020
	StatusDFUImageValid     uint32 = 0x00000040
	StatusDFUImageInvalid   uint32 = 0x00000080
	StatusError             uint32 = 0x40000000
	StatusSource            uint32 = 0x80000000
)

// BootloaderErr is the error code in a status report.
type BootloaderErr uint32

// Bootloader error codes.
const (
	ErrNone BootloaderErr = iota
	ErrUnexpectedCmd
	ErrInvalidApplication
	ErrFlashErase
	ErrFlashWrite
	ErrFlashLock
	ErrFlashOverflow
	ErrInvalidImageType
	ErrInvalidImageSize
	ErrInvalidImageVersion
	ErrIncompatibleHardware
	ErrReserved0B
	ErrReserved0C
	ErrImageLenMismatch
	ErrInvalidAppSizeDFUImage
	ErrInvalidAppCRCDFUImage
	ErrInvalidImageCRC
	ErrInvalidPayloadLength
	ErrInvalidDataOffset
)

var bootloaderErrNames = [...]string{
	"no error",
	"unexpected command",
	"invalid application",
	"flash erase error",
	"flash write error",
	"flash lock error",
	"flash overflow",
	"invalid image type",
	"invalid image size",
	"invalid image version",
	"incompatible hardware",
	"reserved 0x0b",
	"reserved 0x0c",
	"image length mismatch",
	"invalid app size in DFU image",
	"invalid app CRC in DFU image",
	"invalid image CRC",
	"invalid payload length",
	"invalid data offset",
}

// String implements fmt.Stringer.
func (e BootloaderErr) String() string {
	if int(e) < len(bootloaderErrNames) {
		return bootloaderErrNames[e]
	}
	return fmt.Sprintf("error %#x", uint32(e))
}

// Report lengths.
const (
	statusRespLen   = 12
	opModeRespLen   = 3
	writeRespLen    = 4
	maxWriteWords   = 16
	writeRequestLen = 4 + maxWriteWords*4
)

// StatusReport is the bootloader status.
type StatusReport struct {
	Status uint32
	Err    BootloaderErr
}

func parseStatusReport(p []byte) StatusReport {
	return StatusReport{
		Status: binary.LittleEndian.Uint32(p[4:]),
		Err:    BootloaderErr(binary.LittleEndian.Uint32(p[8:])),
	}
}

// OpModeReport is the response to an operating mode request.
type OpModeReport struct {
	Mode   OpMode
	Status byte
}

func parseOpModeReport(p []byte) OpModeReport {
	return OpModeReport{Mode: OpMode(p[1]), Status: p[2]}
}

// WriteReport is the response to a write request.
type WriteReport struct {
	Status     byte
	WordOffset uint16
}

func parseWriteReport(p []byte) WriteReport {
	return WriteReport{Status: p[1], WordOffset: binary.LittleEndian.Uint16(p[2:])}
}

// DeviceError is a failure reported by the bootloader.
type DeviceError struct {
	Report string
	Mode   OpMode
	Status uint32
	Code   BootloaderErr
}

// Error implements error.
func (e *DeviceError) Error() string {
	switch e.Report {
	case "status":
		return fmt.Sprintf("device status %#08x: %s", e.Status, e.Code)
	case "opmode":
		return fmt.Sprintf("device op mode %d status %d", e.Mode, e.Status)
	}
	return fmt.Sprintf("device %s status %d", e.Report, e.Status)
}

// Unwrap maps device failures to sh2.ErrHub.
func (e *DeviceError) Unwrap() error {
	return sh2.ErrHub
}
