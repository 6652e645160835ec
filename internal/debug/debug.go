// Package debug owns the process logger and the quiet/verbose switches.
//
// Library packages log through the *zap.Logger returned by Logger; the CLI
// configures it once with Init from the -v count and --log-json flag.
package debug

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	enabled   = os.Getenv("MPSYNC_DEBUG") != ""
	verbosity = 0
	quietMode = false

	logMu  sync.RWMutex
	logger = zap.NewNop()
)

// Enabled reports whether debug output is on (MPSYNC_DEBUG or -vv).
func Enabled() bool {
	return enabled || verbosity >= 2
}

// SetQuiet enables quiet mode (suppress non-essential output)
func SetQuiet(quiet bool) {
	quietMode = quiet
}

// IsQuiet returns true if quiet mode is enabled
func IsQuiet() bool {
	return quietMode
}

// Verbosity returns the level last passed to Init.
func Verbosity() int {
	return verbosity
}

// LevelFor maps a -v count to a log level: 0 warn, 1 info, 2+ debug.
// MPSYNC_DEBUG forces debug.
func LevelFor(v int) zapcore.Level {
	switch {
	case enabled || v >= 2:
		return zap.DebugLevel
	case v == 1:
		return zap.InfoLevel
	default:
		return zap.WarnLevel
	}
}

// Init builds the process logger writing to stderr. jsonFormat selects the
// JSON encoder; otherwise a console encoder is used.
func Init(v int, jsonFormat bool) (*zap.Logger, error) {
	var cfg zap.Config
	if jsonFormat {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.DisableStacktrace = true
	}
	cfg.Level = zap.NewAtomicLevelAt(LevelFor(v))
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	SetLogger(l)
	verbosity = v
	return l, nil
}

// SetLogger replaces the process logger. Passing nil installs a no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logMu.Lock()
	logger = l
	logMu.Unlock()
}

// Logger returns the process logger. It is a no-op logger until Init or
// SetLogger is called.
func Logger() *zap.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger
}

// Sync flushes the process logger.
func Sync() {
	_ = Logger().Sync()
}

// Logf writes a formatted debug line to stderr when debugging is enabled.
func Logf(format string, args ...interface{}) {
	if Enabled() {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// PrintNormal prints output unless quiet mode is enabled
// Use this for normal informational output that should be suppressed in quiet mode
func PrintNormal(format string, args ...interface{}) {
	if !quietMode {
		fmt.Printf(format, args...)
	}
}
