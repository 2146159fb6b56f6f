// Package envutil reads optional overrides from process environment variables.
package envutil

import (
	"os"
	"strconv"
	"strings"
)

// BoolOr returns the boolean value of the named environment variable.
// Unset or unparseable values yield fallback.
func BoolOr(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}

// PositiveIntOr returns the integer value of the named environment variable.
// Unset, unparseable, or non-positive values yield fallback.
func PositiveIntOr(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value < 1 {
		return fallback
	}
	return value
}
