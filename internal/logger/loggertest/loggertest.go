// Package loggertest provides zap loggers bound to a test.
package loggertest

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// New returns a logger writing to tb at debug level.
func New(tb testing.TB) *zap.SugaredLogger {
	tb.Helper()
	return zaptest.NewLogger(tb, zaptest.Level(zapcore.DebugLevel)).Sugar()
}

// Observed returns a test logger plus the entries it recorded at lvl and above.
func Observed(tb testing.TB, lvl zapcore.Level) (*zap.SugaredLogger, *observer.ObservedLogs) {
	tb.Helper()
	core, logs := observer.New(lvl)
	observe := zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, core)
	})
	return zaptest.NewLogger(tb, zaptest.WrapOptions(observe)).Sugar(), logs
}
