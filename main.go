package main

import (
	"github.com/sidkik/mirrord/cmd"
	"github.com/sidkik/mirrord/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
