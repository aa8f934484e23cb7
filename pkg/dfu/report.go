package dfu

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/hubflash/pkg/sh2"
	"github.com/robotalks/hubflash/pkg/shtp"
)

const (
	// ControlChannel is the SHTP channel of the bootloader.
	ControlChannel byte = 1
	// DefaultSessionTimeout fits the slowest baud rate.
	DefaultSessionTimeout = 240 * time.Second
)

var reportRequirements = requirements{
	format:      "EFM32_V1",
	partNumbers: []string{"1000-4095"},
	align:       4,
}

// State is the state of a ReportUpgrader session.
type State int

// Session states, StateFinished is terminal.
const (
	StateInit State = iota
	StateSettingMode
	StateSendingData
	StateWaitCompletion
	StateLaunching
	StateFinished
)

var stateNames = [...]string{"init", "setting-mode", "sending-data", "wait-completion", "launching", "finished"}

// String implements fmt.Stringer.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ReportUpgrader upgrades FSP200 hubs. The session is driven by reports
// from the bootloader, each handled according to the current state.
type ReportUpgrader struct {
	SessionTimeout time.Duration
	Progress       ProgressFunc

	tr         *shtp.Transport
	fw         Firmware
	state      State
	status     sh2.Status
	err        error
	appLen     uint32
	wordOffset uint32
	writeLen   uint32
	ignored    int
}

// NewReportUpgrader creates a ReportUpgrader with defaults.
func NewReportUpgrader() *ReportUpgrader {
	return &ReportUpgrader{SessionTimeout: DefaultSessionTimeout}
}

// State returns the current state.
func (u *ReportUpgrader) State() State {
	return u.state
}

// Status returns the session status.
func (u *ReportUpgrader) Status() sh2.Status {
	return u.status
}

// Ignored returns the number of reports unexpected in their state.
func (u *ReportUpgrader) Ignored() int {
	return u.ignored
}

// WordsSent returns the number of words acknowledged by the device.
func (u *ReportUpgrader) WordsSent() uint32 {
	return u.wordOffset
}

func (u *ReportUpgrader) reset() {
	u.state, u.status, u.err = StateInit, sh2.OK, nil
	u.appLen, u.wordOffset, u.writeLen, u.ignored = 0, 0, 0, 0
}

// Run upgrades the device behind hal to fw. It returns nil on success.
func (u *ReportUpgrader) Run(ctx context.Context, hal sh2.HAL, fw Firmware) error {
	u.reset()
	u.run(ctx, hal, fw)
	if u.err != nil {
		glog.Errorf("report DFU failed in %s after %d words: %v", u.state, u.wordOffset, u.err)
	} else {
		glog.Infof("report DFU completed, %d words, %d reports ignored", u.wordOffset, u.ignored)
	}
	return u.err
}

func (u *ReportUpgrader) run(ctx context.Context, hal sh2.HAL, fw Firmware) {
	appLen, err := openFirmware(fw, &reportRequirements)
	if err != nil {
		u.state = u.fail(err)
		return
	}
	defer fw.Close()
	u.fw, u.appLen = fw, appLen
	defer func() { u.fw = nil }()

	tr, err := shtp.Open(hal)
	if err != nil {
		u.state = u.fail(err)
		return
	}
	u.tr = tr
	defer func() {
		tr.Close()
		u.tr = nil
	}()
	tr.Listen(ControlChannel, shtp.HandleTransferFunc(u.handleControl))

	glog.Infof("report DFU: %d bytes", appLen)
	clock := sh2.ClockFunc(hal.TimeUs)
	start := clock.NowUs()
	for u.state != StateFinished {
		if sh2.Expired(clock, start, u.SessionTimeout) {
			u.state = u.fail(fmt.Errorf("session timeout in %s: %w", u.state, sh2.ErrTimeout))
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			u.state = u.fail(fmt.Errorf("%v: %w", ctxErr, sh2.ErrTimeout))
			break
		}
		if err = tr.Service(); err != nil {
			u.state = u.fail(err)
		}
	}
}

// fail records the first error of the session.
func (u *ReportUpgrader) fail(err error) State {
	if u.err == nil {
		u.err, u.status = err, sh2.StatusOf(err)
	}
	return StateFinished
}

func (u *ReportUpgrader) handleControl(t *shtp.Transfer) {
	if len(t.Payload) == 0 {
		u.ignored++
		return
	}
	next, ok := u.transition(t.Payload[0], t.Payload)
	if !ok {
		u.ignored++
		glog.V(2).Infof("report %#02x ignored in %s", t.Payload[0], u.state)
		return
	}
	if next != u.state {
		glog.V(2).Infof("%s -> %s", u.state, next)
	}
	u.state = next
}

// transition applies a report to the current state. It reports false if
// the report isn't expected in the state.
func (u *ReportUpgrader) transition(id byte, p []byte) (State, bool) {
	switch {
	case u.state == StateInit && id == ReportStatusResp && len(p) >= statusRespLen:
		return u.handleInitStatus(parseStatusReport(p)), true
	case u.state == StateSettingMode && id == ReportOpModeResp && len(p) >= opModeRespLen:
		return u.handleModeResponse(parseOpModeReport(p)), true
	case u.state == StateSendingData && id == ReportWriteResp && len(p) >= writeRespLen:
		return u.handleWriteResponse(parseWriteReport(p)), true
	case u.state == StateWaitCompletion && id == ReportStatusResp && len(p) >= statusRespLen:
		return u.handleFinalStatus(parseStatusReport(p)), true
	case u.state == StateLaunching && id == ReportOpModeResp && len(p) >= opModeRespLen:
		return u.handleLaunchResponse(parseOpModeReport(p)), true
	}
	return u.state, false
}

func (u *ReportUpgrader) handleInitStatus(r StatusReport) State {
	if r.Status&StatusLaunchBootloader == 0 {
		return u.fail(&DeviceError{Report: "status", Status: r.Status, Code: r.Err})
	}
	if err := u.requestMode(OpModeUpgrade); err != nil {
		return u.fail(err)
	}
	return StateSettingMode
}

func (u *ReportUpgrader) handleModeResponse(r OpModeReport) State {
	if r.Mode != OpModeUpgrade || r.Status != 0 {
		return u.fail(&DeviceError{Report: "opmode", Mode: r.Mode, Status: uint32(r.Status)})
	}
	u.wordOffset = 0
	if err := u.requestWrite(); err != nil {
		return u.fail(err)
	}
	return StateSendingData
}

func (u *ReportUpgrader) handleWriteResponse(r WriteReport) State {
	if r.Status != 0 {
		return u.fail(&DeviceError{Report: "write", Status: uint32(r.Status)})
	}
	u.wordOffset += u.writeLen
	if u.Progress != nil {
		u.Progress(u.wordOffset*4, u.appLen)
	}
	if u.wordOffset*4 >= u.appLen {
		return StateWaitCompletion
	}
	if err := u.requestWrite(); err != nil {
		return u.fail(err)
	}
	return StateSendingData
}

func (u *ReportUpgrader) handleFinalStatus(r StatusReport) State {
	if r.Status&StatusAppValid == 0 || r.Status&StatusError != 0 || r.Err != ErrNone {
		return u.fail(&DeviceError{Report: "status", Status: r.Status, Code: r.Err})
	}
	if err := u.requestMode(OpModeApplication); err != nil {
		return u.fail(err)
	}
	return StateLaunching
}

func (u *ReportUpgrader) handleLaunchResponse(r OpModeReport) State {
	if r.Mode != OpModeApplication || r.Status != 0 {
		return u.fail(&DeviceError{Report: "opmode", Mode: r.Mode, Status: uint32(r.Status)})
	}
	return StateFinished
}

func (u *ReportUpgrader) requestMode(mode OpMode) error {
	return u.tr.Send(ControlChannel, []byte{ReportOpModeReq, byte(mode)})
}

// requestWrite sends the next chunk of up to 16 words.
func (u *ReportUpgrader) requestWrite() error {
	words := u.appLen/4 - u.wordOffset
	if words > maxWriteWords {
		words = maxWriteWords
	}
	u.writeLen = words
	var req [writeRequestLen]byte
	req[0], req[1] = ReportWriteReq, byte(words)
	binary.LittleEndian.PutUint16(req[2:], uint16(u.wordOffset))
	if err := u.fw.AppData(req[4:4+words*4], u.wordOffset*4); err != nil {
		return err
	}
	return u.tr.Send(ControlChannel, req[:])
}
