package main

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	logger     *logrus.Logger
	loggerOnce sync.Once
)

// Log returns the process-wide structured logger, initializing it on first
// use with text output carrying full timestamps.
func Log() *logrus.Logger {
	loggerOnce.Do(func() {
		logger = logrus.New()
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	})
	return logger
}

// connFields builds the standard set of correlation fields attached to
// nearly every log line touching a connection and/or race.
func connFields(connID string, raceID int, userID int) logrus.Fields {
	f := logrus.Fields{}
	if connID != "" {
		f["connId"] = connID
	}
	if raceID != 0 {
		f["raceId"] = raceID
	}
	if userID != 0 {
		f["userId"] = userID
	}
	return f
}
