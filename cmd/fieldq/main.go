// Package main provides the entry point for the fieldq CLI.
package main

import (
	"os"

	"github.com/hupe1980/fieldq/cmd/fieldq/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
