package main

import (
	"os"

	"github.com/courriel-systems/messagerie/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
