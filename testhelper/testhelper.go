package testhelper

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// SomeLines are sample messages for tests that need more than "hello".
var SomeLines = []string{
	"When Marx undertook his critique of the capitalistic mode of production, this mode was in its infancy.",
	"In principle a work of art has always been reproducible.",
	"There is no muse of philosophy, nor is there one of translation.",
	"Even the most perfect reproduction of a work of art is lacking in one element: its presence in time and space.",
}

// ObservedLogger returns a logger that records every entry at debug level and
// above.
func ObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

// WaitFor polls cond until it returns true or 1 second passes, and reports
// whether it succeeded.
func WaitFor(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
