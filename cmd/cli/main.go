// Package main is the entry point for fieldctl.
// fieldctl is the operator tool for the fieldops gateway's admin API.
package main

import (
	"fieldops/cmd/cli/cmd"
	"os"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
