//go:build !windows

package main

import (
	"fmt"
	"os"
)

// RunAsService is a no-op on non-Windows platforms.
// Returns false to indicate the application should run normally.
func RunAsService() (bool, error) {
	return false, nil
}

// HandleServiceCommand prints usage for help and reports service commands
// as Windows-only. Returns true if the argument was handled.
func HandleServiceCommand(args []string) bool {
	if len(args) < 2 {
		return false
	}

	switch {
	case isHelpCommand(args[1]):
		PrintServiceUsage(os.Stdout)
		return true
	case isServiceCommand(args[1]):
		fmt.Printf("The %q command is only supported on Windows; use your init system (systemd, launchd) instead.\n", args[1])
		return true
	default:
		return false
	}
}
