package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Fields is structured logging fields.
type Fields = logrus.Fields

// New creates a JSON-formatted logger with the level taken from LOG_LEVEL.
func New() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)
	logger.SetLevel(parseLevel(os.Getenv("LOG_LEVEL")))
	return logger
}

// WithService returns an entry carrying a service field on every line.
func WithService(logger *logrus.Logger, service string) *logrus.Entry {
	return logger.WithField("service", service)
}

func parseLevel(s string) logrus.Level {
	level, err := logrus.ParseLevel(s)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
