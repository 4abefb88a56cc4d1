// Package logger builds the zap loggers used across splitpage.
//
// Components receive a *zap.SugaredLogger and Name it after themselves. Outside debug mode
// every logger is a no-op: nothing the engine does is ever reported to the visitor, and
// diagnostics (invalid rule configuration, dropped transport calls) are opt-in.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a development logger at debug level when debug is set, or a no-op logger.
func New(debug bool) (*zap.SugaredLogger, error) {
	if !debug {
		return Nop(), nil
	}
	return NewWith(func(cfg *zap.Config) {
		*cfg = zap.NewDevelopmentConfig()
		cfg.Level.SetLevel(zapcore.DebugLevel)
	})
}

// NewWith returns a logger from a modified production config.
func NewWith(cfgFn func(*zap.Config)) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	cfgFn(&cfg)
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// Nop returns a no-op logger.
func Nop() *zap.SugaredLogger {
	return zap.New(zapcore.NewNopCore()).Sugar()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return Nop()
	}
	return l
}
