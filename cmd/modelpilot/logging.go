package main

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"modelpilot/internal/config"
	"modelpilot/internal/httpapi"
)

var logFile *lumberjack.Logger

// setupLogging configures the global zerolog logger. Console output goes
// to stderr; a file, when configured, gets JSON lines with rotation.
func setupLogging(lc config.LogConfig) error {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stderr
	if lc.Format != "json" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	if lc.File != "" {
		if err := os.MkdirAll(filepath.Dir(lc.File), 0o755); err != nil {
			return err
		}
		logFile = &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
		}
		out = zerolog.MultiLevelWriter(out, logFile)
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	httpapi.SetLogger(log.Logger.With().Str("component", "http").Logger())
	return nil
}

func closeLogging() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}
