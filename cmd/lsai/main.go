// Command lsai is the entry point for the Levelset assistant service.
// It provides a CLI interface (via Cobra) and an HTTP server exposing the
// streaming chat API.
package main

import (
	"fmt"
	"os"

	"github.com/zermattservices/levelset-ai/cmd/lsai/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
