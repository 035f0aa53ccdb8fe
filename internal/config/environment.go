// Package config resolves runtime tunables from environment variables,
// following the same read-once-at-startup discipline the Caerulean
// server uses for its own environment-sourced constants.
package config

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

// GetEnv returns the value of the named environment variable, or def if unset.
func GetEnv(key, def string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return def
}

// RequireEnv returns the value of the named environment variable, terminating
// the process if it is unset.
func RequireEnv(key string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		logrus.Fatalf("required environment variable not set: %s", key)
	}
	return value
}

// GetIntEnv returns the named environment variable parsed as a signed integer
// of the given bit size, or def if unset or unparseable.
func GetIntEnv(key string, def int64, bitSize int) int64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	number, err := strconv.ParseInt(value, 10, bitSize)
	if err != nil {
		logrus.Warnf("error converting env var %s=%q, using default %d: %v", key, value, def, err)
		return def
	}
	return number
}

// GetFloatEnv returns the named environment variable parsed as a float of the
// given bit size, or def if unset or unparseable.
func GetFloatEnv(key string, def float64, bitSize int) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	number, err := strconv.ParseFloat(value, bitSize)
	if err != nil {
		logrus.Warnf("error converting env var %s=%q, using default %g: %v", key, value, def, err)
		return def
	}
	return number
}
