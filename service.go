package main

import (
	"fmt"
	"io"
	"os"
	"slices"

	"app_lifecycle/core"
)

// serviceCommands are the OS service management commands accepted as the
// first argument.
var serviceCommands = []string{"install", "uninstall", "remove", "start", "stop", "restart", "status"}

// isServiceCommand reports whether arg names a service management command.
func isServiceCommand(arg string) bool {
	return slices.Contains(serviceCommands, arg)
}

// isHelpCommand reports whether arg asks for usage.
func isHelpCommand(arg string) bool {
	switch arg {
	case "help", "-h", "--help", "-help":
		return true
	}
	return false
}

// serviceName returns the configured service name, falling back to the
// built-in default when the configuration cannot be loaded.
func serviceName() string {
	if cfg, err := core.LoadConfig(); err == nil {
		return cfg.ServiceName
	}
	return core.DefaultConfig().ServiceName
}

// PrintServiceUsage prints the help/usage information for service commands.
func PrintServiceUsage(w io.Writer) {
	fmt.Fprintln(w, "app-lifecycle host")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Usage: %s <command>\n", os.Args[0])
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  install    Install the host as a Windows service")
	fmt.Fprintln(w, "  uninstall  Remove the Windows service (alias: remove)")
	fmt.Fprintln(w, "  start      Start the Windows service")
	fmt.Fprintln(w, "  stop       Stop the Windows service")
	fmt.Fprintln(w, "  restart    Restart the Windows service (stop then start)")
	fmt.Fprintln(w, "  status     Show the current service status")
	fmt.Fprintln(w, "  help       Show this help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run without arguments to start the host in the foreground.")
	fmt.Fprintln(w, "Configuration comes from .env, the YAML file named by LIFECYCLE_CONFIG and the environment.")
}
