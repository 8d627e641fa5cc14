// Package logger holds the process-wide zap logger. Components log through
// a named PackageLogger, the CLI through the package functions.
package logger

import (
	"io"
	"os"
	"sync"

	"amm-indexer/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timeLayout = "[01-02|15:04:05.000]"

var (
	mu   sync.RWMutex
	root *zap.SugaredLogger
)

func init() {
	Configure(DefaultLoggerConfig())

	config.GlobalConfigCallback.AddCallback(func(cfg config.GlobalConfig) {
		Configure(cfg.LoggerConfig())
	})
}

func DefaultLoggerConfig() config.LoggerConfig {
	return config.LoggerConfig{
		Level:   "INFO",
		Console: true,
	}
}

// Configure replaces the root logger. Component loggers switch to it on
// their next entry.
func Configure(cfg config.LoggerConfig) {
	setRoot(build(cfg, os.Stdout))
}

func setRoot(l *zap.SugaredLogger) (previous *zap.SugaredLogger) {
	mu.Lock()
	defer mu.Unlock()

	previous, root = root, l
	return previous
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()

	return root
}

// build tees a coloured console core writing to console and, when a file is
// configured, a rotating plain core. Both share one level.
func build(cfg config.LoggerConfig, console io.Writer) *zap.SugaredLogger {
	level, levelErr := zapcore.ParseLevel(cfg.Level)
	if levelErr != nil {
		level = zapcore.InfoLevel
	}
	atom := zap.NewAtomicLevelAt(level)

	var cores []zapcore.Core
	if cfg.Console {
		cores = append(cores, zapcore.NewCore(newEncoder(consoleColorLevelEncoder), noSync{console}, atom))
	}
	if cfg.File != "" {
		rotating := &lumberjack.Logger{
			Filename: cfg.File,
			MaxSize:  cfg.MaxFileSize,
		}
		cores = append(cores, zapcore.NewCore(newEncoder(fileLevelEncoder), zapcore.AddSync(rotating), atom))
	}

	l := zap.New(
		zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zap.ErrorLevel),
	).Sugar()

	if levelErr != nil {
		l.Errorf("Unknown log level %q, logging at %s", cfg.Level, level.CapitalString())
	}
	return l
}

func newEncoder(levelEncoder zapcore.LevelEncoder) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeLevel = levelEncoder
	encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)

	return zapcore.NewConsoleEncoder(encoderCfg)
}

// noSync keeps Sync from failing on terminals.
type noSync struct {
	io.Writer
}

func (noSync) Sync() error {
	return nil
}

func consoleColorLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	s, ok := levelToCapitalColorString[l]
	if !ok {
		s = unknownLevelColor.Wrap(l.CapitalString())
	}
	enc.AppendString(s)
}

func fileLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(l.CapitalString())
}

// Sync flushes the file core.
func Sync() {
	if err := current().Sync(); err != nil {
		current().Infof("Failed to sync logger: %v", err)
	}
}

func Warn(msg string, args ...interface{}) {
	current().Warnf(msg, args...)
}

func Error(msg string, args ...interface{}) {
	current().Errorf(msg, args...)
}

func Info(msg string, args ...interface{}) {
	current().Infof(msg, args...)
}

func Debug(msg string, args ...interface{}) {
	current().Debugf(msg, args...)
}

func Fatal(msg string, args ...interface{}) {
	Sync()
	current().Fatalf(msg, args...)
}
