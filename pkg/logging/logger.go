package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// InitLogging configures the process logger. level is any logrus level name,
// format is "json" or "text".
func InitLogging(level, format string) {
	log.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// Logger returns the underlying logrus logger
func Logger() *logrus.Logger {
	return log
}

// WithFields returns an entry carrying structured fields
func WithFields(fields logrus.Fields) *logrus.Entry {
	return log.WithFields(fields)
}

// Debugf logs debug level messages
func Debugf(format string, v ...interface{}) {
	log.Debugf(format, v...)
}

// Infof logs info level messages
func Infof(format string, v ...interface{}) {
	log.Infof(format, v...)
}

// Warnf logs warning level messages
func Warnf(format string, v ...interface{}) {
	log.Warnf(format, v...)
}

// Errorf logs error level messages
func Errorf(format string, v ...interface{}) {
	log.Errorf(format, v...)
}
