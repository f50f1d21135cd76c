package main

import (
	"fmt"
	"os"

	"github.com/markdave123-py/textbook-index/cmd/indexer/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
