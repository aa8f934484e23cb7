package main

import (
	"github.com/robotalks/hubflash/pkg/cli/sh"
	"github.com/robotalks/hubflash/pkg/env"

	_ "github.com/robotalks/hubflash/pkg/cli/cmds/all"
)

//go-build: CGO_ENABLED=0

func init() {
	env.SetupFlags()
}

func main() {
	sh.Main()
}
