package main

import (
	"os"

	"github.com/deckcritic/api/cmd/deckcritic/commands"
	"github.com/deckcritic/api/cmd/deckcritic/ui"
)

func main() {
	if err := commands.Execute(); err != nil {
		ui.Error("%v", err)
		os.Exit(1)
	}
}
