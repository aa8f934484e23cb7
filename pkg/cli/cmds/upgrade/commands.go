package upgrade

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/schollz/progressbar/v3"

	"github.com/robotalks/hubflash/pkg/cli/sh"
	"github.com/robotalks/hubflash/pkg/dfu"
	"github.com/robotalks/hubflash/pkg/hcbin"
	"github.com/robotalks/hubflash/pkg/sh2"
)

// Result is the outcome of an upgrade.
type Result struct {
	Firmware string        `json:"firmware"`
	Status   string        `json:"status"`
	Code     int           `json:"code"`
	Elapsed  time.Duration `json:"elapsed"`
	Error    string        `json:"error,omitempty"`
}

// Info describes a firmware container.
type Info struct {
	Firmware string            `json:"firmware"`
	Length   int               `json:"length"`
	Meta     []hcbin.MetaEntry `json:"meta"`
}

// progress renders DFU progress on stderr once the total is known.
type progress struct {
	desc string
	bar  *progressbar.ProgressBar
}

func (p *progress) update(sent, total uint32) {
	if p.bar == nil {
		p.bar = progressbar.NewOptions64(int64(total),
			progressbar.OptionSetDescription(p.desc),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }))
	}
	p.bar.Set64(int64(sent))
}

type upgrader interface {
	Run(context.Context, sh2.HAL, dfu.Firmware) error
	Status() sh2.Status
}

func upgrade(c *ishell.Context, u upgrader, hal sh2.HAL) {
	path := c.Args[0]
	start := time.Now()
	err := sh.RunUntilStopped(func(ctx context.Context) error {
		return u.Run(ctx, hal, hcbin.NewFile(path))
	})
	status := u.Status()
	res := Result{
		Firmware: path,
		Status:   status.Error(),
		Code:     int(status),
		Elapsed:  time.Since(start),
	}
	text := fmt.Sprintf("%s: %s in %v", path, status, res.Elapsed.Round(time.Millisecond))
	if err != nil {
		res.Error = err.Error()
		text += ": " + res.Error
	}
	sh.Print(c, &res, text)
}

var (
	// DFUBNOCmd upgrades a BNO hub with the lockstep bootloader.
	DFUBNOCmd = ishell.Cmd{
		Name:    "dfu-bno",
		Aliases: []string{"dfu-bno080"},
		Help:    "FILE",
		Func: sh.RequireArgs(1, "FILE", func(c *ishell.Context) {
			s := sh.ShellFrom(c)
			u := dfu.NewSimpleUpgrader()
			if !s.OutputJSON {
				u.Progress = (&progress{desc: "dfu-bno"}).update
			}
			upgrade(c, u, s.Config.RawHAL())
		}),
	}

	// DFUFSP200Cmd upgrades an FSP200 hub with the report-driven bootloader.
	DFUFSP200Cmd = ishell.Cmd{
		Name:    "dfu-fsp200",
		Aliases: []string{"dfu-fsp"},
		Help:    "FILE",
		Func: sh.RequireArgs(1, "FILE", func(c *ishell.Context) {
			s := sh.ShellFrom(c)
			u := dfu.NewReportUpgrader()
			u.SessionTimeout = s.Config.SessionTimeout
			if !s.OutputJSON {
				u.Progress = (&progress{desc: "dfu-fsp200"}).update
			}
			upgrade(c, u, s.Config.FramedHAL(true))
		}),
	}

	// InfoCmd prints the metadata of a firmware container.
	InfoCmd = ishell.Cmd{
		Name: "info",
		Help: "FILE",
		Func: sh.RequireArgs(1, "FILE", func(c *ishell.Context) {
			f := hcbin.NewFile(c.Args[0])
			if err := f.Open(); err != nil {
				c.Err(err)
				return
			}
			defer f.Close()
			img := f.Image()
			info := Info{Firmware: c.Args[0], Length: len(img.Payload), Meta: img.Meta}
			text := fmt.Sprintf("%s: %d bytes", info.Firmware, info.Length)
			for _, entry := range img.Meta {
				text += fmt.Sprintf("\n  %s: %s", entry.Key, entry.Value)
			}
			sh.Print(c, &info, text)
		}),
	}
)

func init() {
	sh.AddCmds(
		&DFUBNOCmd,
		&DFUFSP200Cmd,
		&InfoCmd,
	)
}
