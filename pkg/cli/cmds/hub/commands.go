package hub

import (
	"fmt"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/hubflash/pkg/cli/sh"
	fx "github.com/robotalks/hubflash/pkg/framework"
	"github.com/robotalks/hubflash/pkg/telemetry"
	"github.com/robotalks/hubflash/pkg/uart"
)

var (
	// PortsCmd lists serial ports.
	PortsCmd = ishell.Cmd{
		Name:    "ports",
		Aliases: []string{"ls"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ports, err := uart.ListPorts()
			if err != nil {
				c.Err(err)
				return
			}
			if ports == nil {
				ports = []string{}
			}
			text := strings.Join(ports, "\n")
			if len(ports) == 0 {
				text = "No serial ports found"
			}
			sh.Print(c, ports, text)
		},
	}

	// MonitorCmd streams reports from the hub until Ctrl-C.
	MonitorCmd = ishell.Cmd{
		Name:    "monitor",
		Aliases: []string{"mon"},
		Help:    "",
		Func: func(c *ishell.Context) {
			conf := sh.ShellFrom(c).Config
			sinks, closers, err := conf.Sinks()
			if err != nil {
				c.Err(err)
				return
			}
			defer fx.CloseAll(closers...)
			hal := conf.FramedHAL(false)
			mon := telemetry.NewMonitor(hal, sinks...)
			err = sh.RunUntilStopped(mon.Run)
			st := hal.Stats()
			c.Println(fmt.Sprintf("%d reports, %d frames, %d dropped, %d BSN, %d BSQ",
				mon.Reports(), st.Frames, st.Dropped, st.BSNs, st.BSQs))
			if err != nil {
				c.Err(err)
			}
		},
	}
)

func init() {
	sh.AddCmds(
		&PortsCmd,
		&MonitorCmd,
	)
}
