package main

import (
	"os"

	"github.com/hray3182/instancegen/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
