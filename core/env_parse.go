package core

import (
	"os"
	"strconv"
	"strings"
)

// GetEnvOrDefault returns the value of an environment variable or current
// when it is unset or empty.
func GetEnvOrDefault(key, current string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return current
}

// LookupEnvString is like GetEnvOrDefault but a set-but-empty variable
// clears the value, so JOURNAL_PATH= disables the journal.
func LookupEnvString(key, current string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return current
}

// ParseIntEnv overlays an integer variable onto current. Unset or malformed
// values keep current.
func ParseIntEnv(key string, current int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return current
}

// ParseBoolEnv overlays a boolean variable onto current. "true", "1", "yes",
// "on" and "false", "0", "no", "off" are accepted in any case.
func ParseBoolEnv(key string, current bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return current
	}
}
