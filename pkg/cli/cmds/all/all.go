// Package all registers all hubctl commands.
package all

import (
	_ "github.com/robotalks/hubflash/pkg/cli/cmds/hub"
	_ "github.com/robotalks/hubflash/pkg/cli/cmds/upgrade"
)
