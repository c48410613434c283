// Package log provides a logger interface for the gateway so that callers
// never depend on a logging library directly.
package log

// Logger is the adapter interface every package in this module logs
// through. The only production implementation wraps logrus.
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	// WithField returns a derived Logger carrying an extra structured field,
	// e.g. request ID or aggregate ID, on every subsequent call.
	WithField(key string, value interface{}) Logger
}
