package core

// Logger is implemented by the app loggers.
// expected args fmt: error, map[string]interface{}, user.User (sets the person on the log entry)
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
