package main

import (
	"os"

	"tooltool/cmd/tooltool/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
