package evlog

import "github.com/sirupsen/logrus"

type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

var logger Logger = NewNoneLogger()

func SetLogger(l Logger) {
	logger = l
}

func Debugf(format string, args ...interface{}) {
	logger.Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	logger.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	logger.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	logger.Errorf(format, args...)
}

type stdLogger struct {
	logger *logrus.Logger
}

func NewLogger() Logger {
	return &stdLogger{logrus.New()}
}

func NewDebugLogger() Logger {
	l := logrus.New()
	l.SetLevel(logrus.DebugLevel)
	return &stdLogger{l}
}

func (l *stdLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

func (l *stdLogger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

func (l *stdLogger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

func (l *stdLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

type noneLogger struct{}

func NewNoneLogger() Logger {
	return &noneLogger{}
}

func (l *noneLogger) Debugf(format string, args ...interface{}) {}

func (l *noneLogger) Infof(format string, args ...interface{}) {}

func (l *noneLogger) Warnf(format string, args ...interface{}) {}

func (l *noneLogger) Errorf(format string, args ...interface{}) {}
