package core

// Exit codes for the lifecycle host.
// Signal-based exits follow the Unix 128 + signal number convention.
const (
	// ExitCodeSuccess indicates a clean shutdown.
	ExitCodeSuccess = 0

	// ExitCodeError indicates a host-level error (bad config, logger failure).
	ExitCodeError = 1

	// ExitCodeStartupFailed indicates that one or more Startup handlers failed
	// and the application never reached the running state.
	ExitCodeStartupFailed = 3

	// ExitCodeShutdownErrors indicates shutdown completed but Closing or
	// Closed handlers reported failures.
	ExitCodeShutdownErrors = 4

	// ExitCodeSIGINT indicates forced termination after repeated SIGINT.
	ExitCodeSIGINT = 130

	// ExitCodeSIGTERM indicates forced termination after repeated SIGTERM.
	ExitCodeSIGTERM = 143
)

// ExitCodeName returns a human-readable name for an exit code.
func ExitCodeName(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "success"
	case ExitCodeError:
		return "error"
	case ExitCodeStartupFailed:
		return "startup failed"
	case ExitCodeShutdownErrors:
		return "shutdown with errors"
	case ExitCodeSIGINT:
		return "interrupted (SIGINT)"
	case ExitCodeSIGTERM:
		return "terminated (SIGTERM)"
	default:
		return "unknown"
	}
}
