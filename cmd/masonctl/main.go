package main

import (
	"os"

	"github.com/v0gel/mason/cmd/masonctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
