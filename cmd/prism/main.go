package main

import (
	"os"

	"github.com/prismlabs/prism/cmd/prism/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
