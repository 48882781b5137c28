package main

import (
	"os"

	"github.com/solatis/relaykit/cmd/relaykit/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
