package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the logging surface injected into every node component. It is
// satisfied by *logrus.Logger, keeping components decoupled from the backend.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
}

// Init configures the process-wide logger. Unknown level strings fall back
// to info rather than failing startup.
func Init(level string) {
	logrus.SetOutput(os.Stdout)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l, err := logrus.ParseLevel(level)
	if err != nil {
		l = logrus.InfoLevel
	}
	logrus.SetLevel(l)
}

// NewDefaultLogger returns the process-wide logger. Components that were not
// handed a logger at construction use this.
func NewDefaultLogger() Logger {
	return logrus.StandardLogger()
}
