// Package observ provides the kernel's logging and metrics surface.
package observ

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	logger *zap.Logger
)

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	logger = l
}

// SetLogger swaps the package-level logger. Used by cmd/kerneld to install a
// development logger or a logger pre-configured with build-info fields.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Log emits a structured event. kv values are rendered as zap.Any fields;
// event is the canonical, greppable name for the occurrence.
func Log(event string, kv map[string]any) {
	l := current()
	fields := make([]zap.Field, 0, len(kv)+1)
	fields = append(fields, zap.String("event", event))
	for k, v := range kv {
		fields = append(fields, zap.Any(k, v))
	}
	l.Info(event, fields...)
}

// LogError emits a structured error event.
func LogError(event string, err error, kv map[string]any) {
	l := current()
	fields := make([]zap.Field, 0, len(kv)+2)
	fields = append(fields, zap.String("event", event), zap.Error(err))
	for k, v := range kv {
		fields = append(fields, zap.Any(k, v))
	}
	l.Error(event, fields...)
}

// Sync flushes buffered log entries. Call before process exit.
func Sync() {
	_ = current().Sync()
}
