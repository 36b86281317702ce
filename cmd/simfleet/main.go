package main

import (
	"os"

	"github.com/simfleet/simfleet/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
