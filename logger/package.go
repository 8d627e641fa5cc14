package logger

import (
	"go.uber.org/zap"
)

// PackageLogger logs on behalf of one component. Entries are named after the
// component and carry the key-value pairs added with With.
type PackageLogger struct {
	name   string
	fields []interface{}
}

func Package(name string) *PackageLogger {
	return &PackageLogger{name: name}
}

func (l *PackageLogger) With(keysAndValues ...interface{}) *PackageLogger {
	fields := make([]interface{}, 0, len(l.fields)+len(keysAndValues))
	fields = append(fields, l.fields...)
	fields = append(fields, keysAndValues...)

	return &PackageLogger{name: l.name, fields: fields}
}

// entry is resolved on every call since the root logger is replaced once the
// configuration is loaded.
func (l *PackageLogger) entry() *zap.SugaredLogger {
	return current().Named(l.name).With(l.fields...)
}

func (l *PackageLogger) Warn(msg string, args ...interface{}) {
	l.entry().Warnf(msg, args...)
}

func (l *PackageLogger) Error(msg string, args ...interface{}) {
	l.entry().Errorf(msg, args...)
}

func (l *PackageLogger) Info(msg string, args ...interface{}) {
	l.entry().Infof(msg, args...)
}

func (l *PackageLogger) Debug(msg string, args ...interface{}) {
	l.entry().Debugf(msg, args...)
}
