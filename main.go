// Package main is the entry point for the l2relay redirector.
package main

import (
	"fmt"
	"os"

	"icc.tech/l2relay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
