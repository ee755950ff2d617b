// Package main provides the entry point for the foldermcp CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/foldermcp/cmd/foldermcpd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
