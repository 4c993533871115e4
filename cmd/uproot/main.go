package main

import (
	"os"

	"github.com/uprootnetworks/uproot/cmd/uproot/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
