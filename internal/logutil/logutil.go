// Package logutil centralizes logrus setup the way cmd/horologium wires
// a component-tagged formatter at process start.
package logutil

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Init configures the standard logger with a component field and a
// parsed level, defaulting to info on an unrecognized level string.
func Init(component string, level string) *logrus.Entry {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetOutput(os.Stderr)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)

	return logrus.WithField("component", component)
}
