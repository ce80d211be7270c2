package config

import (
	"os"

	"github.com/sirupsen/logrus"
)

var (
	logg *logrus.Logger
)

func GetLogger() *logrus.Logger {
	return logg
}

func init() {
	logg = logrus.New()
	logg.SetFormatter(&logrus.JSONFormatter{})
	logg.SetLevel(logrus.InfoLevel)
	logg.SetOutput(os.Stdout)
}

// SetLogLevel adjusts the process logger. Unknown levels keep the current one.
func SetLogLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logg.WithField("level", level).Warn("unknown log level, keeping default")
		return
	}
	logg.SetLevel(lvl)
}

func LogError(logger *logrus.Logger, moduleName string, funcName string, context string, data any, err error) {
	fields := logrus.Fields{
		"module":   moduleName,
		"funcName": funcName,
		"context":  context,
	}
	if data != nil {
		fields["data"] = data
	}
	logger.WithFields(fields).Error(err.Error())
}
