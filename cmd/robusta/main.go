package main

import (
	"os"

	"github.com/rustyeddy/robusta/cmd/robusta/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
