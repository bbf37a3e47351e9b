package common

// LoggerInterface is what every renewal component logs through. The
// slog-style methods take key/value pairs, the f-variants a format string.
// Importantf is shown even when the console is set to quiet. With returns a
// logger that tags every line with the given key/value pairs.
type LoggerInterface interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Importantf(format string, args ...interface{})
	With(args ...interface{}) LoggerInterface
}

// ContextKey namespaces the values stored on a renewal context
type ContextKey string

const (
	ContextKeyRunID     ContextKey = "run_id"
	ContextKeyDomain    ContextKey = "domain"
	ContextKeyOperation ContextKey = "operation"
)
