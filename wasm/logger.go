package wasm

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logger   *zap.Logger
	loggerMu sync.RWMutex
)

// Logger returns the package logger. Until SetLogger is called it is a
// no-op logger, so library users pay nothing by default.
func Logger() *zap.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// SetLogger replaces the package logger. Passing nil restores the no-op
// logger.
func SetLogger(l *zap.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = l
}
