// Package logger installs the package-wide logrus configuration used
// by cmd/draidsim.
package logger

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mattmacy/draid/internal/config"
)

// InitLogger parses level and installs it on logrus's standard
// logger along with the text formatter draidperm's tests also install
// (full timestamps, no color forcing so CI logs stay readable).
func InitLogger(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}

	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return nil
}

func parseLevel(level string) (logrus.Level, error) {
	switch level {
	case config.LogLevelDebug:
		return logrus.DebugLevel, nil
	case config.LogLevelInfo:
		return logrus.InfoLevel, nil
	case config.LogLevelWarning:
		return logrus.WarnLevel, nil
	case config.LogLevelError:
		return logrus.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("unrecognized log level %q", level)
	}
}
