// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package commons

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging contract every component of the gateway takes in its
// constructor. No package logs through a global.
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

	// Benchmark logs an operation name with its elapsed wall-clock time.
	Benchmark(name string, start time.Time)
	// With returns a child logger carrying the given structured fields.
	With(keysAndValues ...interface{}) Logger
	Sync() error
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewApplicationLogger builds the process logger. Debug level uses a console
// encoder on stdout; everything else is JSON, duplicated to a size-rotated
// file so crashed calls can be reconstructed afterwards.
func NewApplicationLogger(serviceName, level, logFile string) Logger {
	zapLevel := zapcore.InfoLevel
	if err := zapLevel.Set(level); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := make([]zapcore.Core, 0, 2)
	if zapLevel == zapcore.DebugLevel {
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleCfg),
			zapcore.AddSync(os.Stdout),
			zapLevel,
		))
	} else {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg),
			zapcore.AddSync(os.Stdout),
			zapLevel,
		))
	}

	if logFile != "" {
		rotated := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg),
			zapcore.AddSync(rotated),
			zapLevel,
		))
	}

	base := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	return &zapLogger{
		sugar: base.Sugar().With("service", serviceName),
	}
}

func (l *zapLogger) Debug(args ...interface{})                    { l.sugar.Debug(args...) }
func (l *zapLogger) Debugf(t string, args ...interface{})         { l.sugar.Debugf(t, args...) }
func (l *zapLogger) Debugw(msg string, kv ...interface{})         { l.sugar.Debugw(msg, kv...) }
func (l *zapLogger) Info(args ...interface{})                     { l.sugar.Info(args...) }
func (l *zapLogger) Infof(t string, args ...interface{})          { l.sugar.Infof(t, args...) }
func (l *zapLogger) Infow(msg string, kv ...interface{})          { l.sugar.Infow(msg, kv...) }
func (l *zapLogger) Warn(args ...interface{})                     { l.sugar.Warn(args...) }
func (l *zapLogger) Warnf(t string, args ...interface{})          { l.sugar.Warnf(t, args...) }
func (l *zapLogger) Warnw(msg string, kv ...interface{})          { l.sugar.Warnw(msg, kv...) }
func (l *zapLogger) Error(args ...interface{})                    { l.sugar.Error(args...) }
func (l *zapLogger) Errorf(t string, args ...interface{})         { l.sugar.Errorf(t, args...) }
func (l *zapLogger) Errorw(msg string, kv ...interface{})         { l.sugar.Errorw(msg, kv...) }

func (l *zapLogger) Benchmark(name string, start time.Time) {
	l.sugar.Infow("benchmark", "operation", name, "elapsed_ms", time.Since(start).Milliseconds())
}

func (l *zapLogger) With(kv ...interface{}) Logger {
	return &zapLogger{sugar: l.sugar.With(kv...)}
}

func (l *zapLogger) Sync() error {
	return l.sugar.Sync()
}

// NewNopLogger returns a Logger that discards everything. Used by tests.
func NewNopLogger() Logger {
	return &zapLogger{sugar: zap.NewNop().Sugar()}
}
