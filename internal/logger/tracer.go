package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var tracer atomic.Pointer[zap.Logger]

// Tracer returns the process-wide structured trace logger. Diagnostics meant
// for users go through a Log instead; the tracer is for developers debugging
// the pipeline itself. It is a no-op logger unless SetTracer was called.
func Tracer() *zap.Logger {
	if l := tracer.Load(); l != nil {
		return l
	}
	nop := zap.NewNop()
	tracer.CompareAndSwap(nil, nop)
	return tracer.Load()
}

// SetTracer replaces the trace logger. Passing nil restores the no-op logger.
func SetTracer(l *zap.Logger) {
	tracer.Store(l)
}
