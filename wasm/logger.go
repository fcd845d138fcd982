package wasm

import "go.uber.org/zap"

// logger defaults to a no-op so that embedding the package stays silent
// unless the host application opts in.
var logger = zap.NewNop()

// SetLogger installs the logger used for instantiation and call tracing.
// Passing nil restores the no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		logger = zap.NewNop()
		return
	}
	logger = l.Named("wasm")
}

// Logger returns the package logger.
func Logger() *zap.Logger {
	return logger
}
