/*
Package main provides the CLI entry point for smtp-transport.
*/
package main

import (
	"os"

	"github.com/shineum/smtp-transport/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
