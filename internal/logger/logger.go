// Copyright 2024 Cloudship Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package logger

import (
	"os"

	"github.com/juju/loggo/v2"
)

// LoggingConfigEnvKey is the environment variable consulted at startup
// for the initial logging configuration, e.g.
// CLOUDSHIP_LOGGING_CONFIG="<root>=INFO;cloudship.azure=DEBUG".
const LoggingConfigEnvKey = "CLOUDSHIP_LOGGING_CONFIG"

// GetLogger returns a logger in the cloudship namespace.
func GetLogger(name string) loggo.Logger {
	return loggo.GetLogger(name)
}

// ConfigureFromEnv applies the logging configuration found in the
// environment, if any. An empty value leaves the defaults in place.
func ConfigureFromEnv() error {
	cfg := os.Getenv(LoggingConfigEnvKey)
	if cfg == "" {
		return nil
	}
	return loggo.ConfigureLoggers(cfg)
}
