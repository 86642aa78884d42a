// Package logging builds the logrus entries both binaries use, tagged
// with the component and cage identity so a single log stream can be
// filtered by either.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a component-scoped logger. LOG_LEVEL (default "info")
// and LOG_FORMAT=json|text (default "json") control the shared
// logrus.Logger underneath every component's entry.
func New(component string) *logrus.Entry {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(envOr("LOG_LEVEL", "info"))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if envOr("LOG_FORMAT", "json") == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	return log.WithField("component", component)
}

// WithCage annotates entry with the tenant identity so every line from
// this process can be attributed to a cage without re-stating it at
// every call site.
func WithCage(entry *logrus.Entry, teamUUID, appUUID, cageUUID string) *logrus.Entry {
	return entry.WithFields(logrus.Fields{
		"team_uuid": teamUUID,
		"app_uuid":  appUUID,
		"cage_uuid": cageUUID,
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
