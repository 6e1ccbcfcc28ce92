// Package main provides the entry point for the searchsync CLI.
package main

import (
	"fmt"
	"os"

	"github.com/Aman-CERP/searchsync/cmd/searchsync/cmd"
	serrors "github.com/Aman-CERP/searchsync/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, serrors.FormatForCLI(err))
		os.Exit(1)
	}
}
