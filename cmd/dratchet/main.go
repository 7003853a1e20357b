package main

import (
	"os"

	"github.com/TheusHen/DRatchet/cmd/dratchet/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
