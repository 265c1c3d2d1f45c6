package config

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

type LoggerResult struct {
	Logger *logrus.Logger
	closer io.Closer
}

// Close flushes and closes the rotating log file, if any.
func (r *LoggerResult) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func InitLogger(cfg LoggingSettings, isDebug bool) (*LoggerResult, error) {
	logger := logrus.New()

	var formatter logrus.Formatter = &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	}
	if strings.EqualFold(cfg.Format, "json") {
		formatter = &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}
	}
	logger.SetFormatter(formatter)

	result := &LoggerResult{Logger: logger}

	if cfg.File == "" {
		logger.SetOutput(os.Stdout)
	} else {
		// log to both console and a rotating file
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxAge:     cfg.MaxAge,
			MaxBackups: cfg.MaxBackup,
			Compress:   true,
		}
		logger.SetOutput(io.MultiWriter(os.Stdout, rotating))
		result.closer = rotating
	}

	level := logrus.InfoLevel
	if lvl, err := logrus.ParseLevel(strings.ToLower(cfg.Level)); err == nil {
		level = lvl
	}
	if isDebug {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)

	return result, nil
}
