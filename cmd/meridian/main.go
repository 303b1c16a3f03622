// Package main implements the meridian binary: it builds and publishes
// point-in-time index membership artifacts and serves queries over them.
package main

import (
	"errors"
	"log"
	"os"

	merrors "github.com/meridianidx/meridian/internal/errors"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Process exit codes.
const (
	exitOK          = 0
	exitOther       = 1
	exitConsistency = 2
	exitInput       = 3
	exitStorage     = 4
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Printf("meridian: %v", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var issues *reconcileIssuesError
	if errors.As(err, &issues) {
		return exitStorage
	}
	switch merrors.GetCategory(err) {
	case merrors.ErrCategoryConsistency:
		return exitConsistency
	case merrors.ErrCategoryInput:
		return exitInput
	case merrors.ErrCategoryStorage, merrors.ErrCategoryManifest:
		return exitStorage
	default:
		return exitOther
	}
}
