package logger

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/sifan077/PowerPush/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config drives how the zap logger is built.
type Config struct {
	Development bool
	Level       string
	Encoding    string

	// File, when set, tees JSON output into a size-rotated log file.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// FromConfig maps the application log section onto a logger Config.
func FromConfig(cfg config.LogConfig, development bool) Config {
	return Config{
		Development: development,
		Level:       cfg.Level,
		Encoding:    cfg.Encoding,
		File:        cfg.File,
		MaxSizeMB:   cfg.MaxSizeMB,
		MaxBackups:  cfg.MaxBackups,
		MaxAgeDays:  cfg.MaxAgeDays,
		Compress:    cfg.Compress,
	}
}

var (
	mu     sync.RWMutex
	global *zap.Logger

	colorize = sync.OnceValue(stdoutIsTerminal)
)

// Init builds a logger from cfg and installs it as the global logger.
func Init(cfg Config) (*zap.Logger, error) {
	l, err := New(cfg)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	prev := global
	global = l
	mu.Unlock()

	if prev != nil {
		_ = prev.Sync()
	}
	return l, nil
}

// MustInit is Init for process startup.
func MustInit(cfg Config) *zap.Logger {
	l, err := Init(cfg)
	if err != nil {
		panic(err)
	}
	return l
}

// L returns the global logger. Before Init it hands out a development logger
// so config loading failures still get printed.
func L() *zap.Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global = fallback()
	}
	return global
}

func fallback() *zap.Logger {
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// Sync flushes the global logger. Errors from syncing a terminal are dropped.
func Sync() error {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l == nil {
		return nil
	}

	err := l.Sync()
	if errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.EINVAL) || errors.Is(err, os.ErrInvalid) {
		return nil
	}
	return err
}

// New returns a logger built from cfg without touching the global one.
func New(cfg Config) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if cfg.Encoding != "" {
		zapCfg.Encoding = cfg.Encoding
	}
	zapCfg.EncoderConfig = encoderConfig(zapCfg.Encoding)

	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, fmt.Errorf("logger: invalid level %q: %w", cfg.Level, err)
		}
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.File != "" {
		file := fileCore(cfg, zapCfg.Level)
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, file)
		}))
	}
	return zapCfg.Build(opts...)
}

// fileCore writes JSON lines into a lumberjack-rotated file regardless of the
// console encoding.
func fileCore(cfg Config, level zapcore.LevelEnabler) zapcore.Core {
	sink := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    positiveOr(cfg.MaxSizeMB, 100),
		MaxBackups: positiveOr(cfg.MaxBackups, 3),
		MaxAge:     positiveOr(cfg.MaxAgeDays, 7),
		Compress:   cfg.Compress,
	}
	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig("json")), zapcore.AddSync(sink), level)
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func encoderConfig(encoding string) zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.MessageKey = "msg"
	enc.StacktraceKey = "stack"
	enc.EncodeDuration = zapcore.StringDurationEncoder

	if encoding != "console" {
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		return enc
	}
	enc.ConsoleSeparator = " | "
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	enc.EncodeLevel = consoleLevel
	return enc
}

func consoleLevel(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	label := fmt.Sprintf("%-5s", level.CapitalString())
	if !colorize() {
		enc.AppendString(label)
		return
	}
	enc.AppendString(paint(level) + label + "\x1b[0m")
}

func stdoutIsTerminal() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

var palette = map[zapcore.Level]string{
	zapcore.DebugLevel:  "\x1b[36m",
	zapcore.InfoLevel:   "\x1b[32m",
	zapcore.WarnLevel:   "\x1b[33m",
	zapcore.ErrorLevel:  "\x1b[31m",
	zapcore.DPanicLevel: "\x1b[35m",
	zapcore.PanicLevel:  "\x1b[35m",
	zapcore.FatalLevel:  "\x1b[31m",
}

func paint(level zapcore.Level) string {
	if c, ok := palette[level]; ok {
		return c
	}
	return palette[zapcore.InfoLevel]
}
