// Package log is the structured-logging seam used by retry, batch and
// transaction call sites. A host application replaces the default
// production logger with SetLogger; library code never constructs its
// own zap.Logger directly.
package log

import "go.uber.org/zap"

var logger = mustBuild()

func mustBuild() *zap.SugaredLogger {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	return l.Sugar()
}

// L returns the active logger.
func L() *zap.SugaredLogger { return logger }

// SetLogger installs a caller-provided logger, e.g. a development logger
// in tests or a host application's own zap instance.
func SetLogger(l *zap.SugaredLogger) {
	if l != nil {
		logger = l
	}
}
