// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package commons

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rapidaai/voicelink/pkg/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging contract shared by every component of the bridge.
// The f-suffixed variants take a printf template, the w-suffixed variants take
// alternating key/value pairs.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})

	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})

	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})

	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	Fatalf(template string, args ...interface{})

	// Benchmark records how long a named operation took.
	Benchmark(functionName string, duration time.Duration)

	// Sync flushes any buffered log entries.
	Sync() error
}

type loggerOptions struct {
	name        string
	path        string
	level       string
	environment utils.Environment
	maxSizeMB   int
	maxBackups  int
	maxAgeDays  int
}

// Option configures NewApplicationLogger.
type Option func(*loggerOptions)

// Name sets the service name; it becomes the log file name and the "service" field.
func Name(name string) Option {
	return func(o *loggerOptions) { o.name = name }
}

// Path sets the directory the rotating log file is written to.
func Path(path string) Option {
	return func(o *loggerOptions) { o.path = path }
}

// Level sets the minimum level ("debug", "info", "warn", "error").
func Level(level string) Option {
	return func(o *loggerOptions) { o.level = level }
}

// Environment selects console (development) or JSON (production) stderr output.
func Environment(env string) Option {
	return func(o *loggerOptions) { o.environment = utils.FromEnvironmentStr(env) }
}

type applicationLogger struct {
	*zap.SugaredLogger
}

// NewApplicationLogger builds a zap logger that writes JSON to a rotating file
// (lumberjack) and human readable output to stderr.
func NewApplicationLogger(opts ...Option) (Logger, error) {
	o := &loggerOptions{
		name:        "voicelink",
		path:        os.TempDir(),
		level:       "debug",
		environment: utils.DEVELOPMENT,
		maxSizeMB:   100,
		maxBackups:  5,
		maxAgeDays:  30,
	}
	for _, opt := range opts {
		opt(o)
	}

	level, err := zapcore.ParseLevel(o.level)
	if err != nil {
		level = zapcore.DebugLevel
	}
	if err := os.MkdirAll(o.path, 0o755); err != nil {
		return nil, err
	}

	fileEncoderCfg := zap.NewProductionEncoderConfig()
	fileEncoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileWriter := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(o.path, o.name+".log"),
		MaxSize:    o.maxSizeMB,
		MaxBackups: o.maxBackups,
		MaxAge:     o.maxAgeDays,
		Compress:   true,
	})

	var consoleEncoder zapcore.Encoder
	if o.environment == utils.PRODUCTION {
		consoleEncoder = zapcore.NewJSONEncoder(fileEncoderCfg)
	} else {
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleEncoder = zapcore.NewConsoleEncoder(consoleCfg)
	}

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderCfg), fileWriter, level),
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), level),
	)
	logger := zap.New(core, zap.AddCaller()).
		With(zap.String("service", o.name))
	return &applicationLogger{SugaredLogger: logger.Sugar()}, nil
}

func (l *applicationLogger) Benchmark(functionName string, duration time.Duration) {
	l.SugaredLogger.Debugw("benchmark",
		"function", functionName,
		"duration", duration.String(),
	)
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger {
	return &applicationLogger{SugaredLogger: zap.NewNop().Sugar()}
}
