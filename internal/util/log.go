package util

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogType identifies a typed log channel. Each type gets its own
// rotating file sink in addition to the shared console output.
type LogType string

const (
	LogSystem            LogType = "system"
	LogWorklist           LogType = "worklist"
	LogHashrate           LogType = "hashrate"
	LogStatistics         LogType = "statistics"
	LogStartNewChallenge  LogType = "start_new_challenge"
	LogSolutionFound      LogType = "solution_found"
	LogSolutionSubmission LogType = "solution_submission"
	LogFetchNewChallenge  LogType = "fetch_new_challenge"
	LogCacheStatus        LogType = "cache_status"
	LogMemory             LogType = "memory"
	LogBatchSizeSearch    LogType = "batch_size_search"
)

var allLogTypes = []LogType{
	LogSystem, LogWorklist, LogHashrate, LogStatistics, LogStartNewChallenge,
	LogSolutionFound, LogSolutionSubmission, LogFetchNewChallenge,
	LogCacheStatus, LogMemory, LogBatchSizeSearch,
}

var (
	logMu      sync.RWMutex
	sugar      *zap.SugaredLogger
	typedLogs  map[LogType]*zap.SugaredLogger
)

// InitLogger wires a console zap logger plus, when dir is non-empty, one
// rotating lumberjack sink per LogType under dir.
func InitLogger(level, format, dir string) error {
	zapLevel := zapcore.InfoLevel
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), zapLevel)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	logMu.Lock()
	sugar = logger.Sugar()
	typedLogs = make(map[LogType]*zap.SugaredLogger, len(allLogTypes))
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logMu.Unlock()
			return fmt.Errorf("creating log dir: %w", err)
		}
		for _, t := range allLogTypes {
			rotator := &lumberjack.Logger{
				Filename:   filepath.Join(dir, string(t)+".log"),
				MaxSize:    50, // MB
				MaxBackups: 5,
				MaxAge:     14, // days
				Compress:   true,
			}
			fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), zapLevel)
			combined := zapcore.NewTee(core, fileCore)
			typedLogs[t] = zap.New(combined, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
		}
	}
	logMu.Unlock()
	return nil
}

// Log returns the default (console-only) sugared logger, initializing a
// bare stdout logger on first use if InitLogger was never called.
func Log() *zap.SugaredLogger {
	logMu.RLock()
	l := sugar
	logMu.RUnlock()
	if l != nil {
		return l
	}
	logMu.Lock()
	defer logMu.Unlock()
	if sugar == nil {
		sugar = zap.NewExample().Sugar()
	}
	return sugar
}

// Typed returns the sugared logger fanning out to t's rotating file, or
// the default logger if typed sinks were never configured.
func Typed(t LogType) *zap.SugaredLogger {
	logMu.RLock()
	l, ok := typedLogs[t]
	logMu.RUnlock()
	if ok {
		return l
	}
	return Log()
}

func Debug(args ...interface{})                  { Log().Debug(args...) }
func Debugf(format string, args ...interface{})  { Log().Debugf(format, args...) }
func Info(args ...interface{})                   { Log().Info(args...) }
func Infof(format string, args ...interface{})   { Log().Infof(format, args...) }
func Warn(args ...interface{})                   { Log().Warn(args...) }
func Warnf(format string, args ...interface{})   { Log().Warnf(format, args...) }
func Error(args ...interface{})                  { Log().Error(args...) }
func Errorf(format string, args ...interface{})  { Log().Errorf(format, args...) }
func Fatal(args ...interface{})                  { Log().Fatal(args...) }
func Fatalf(format string, args ...interface{})  { Log().Fatalf(format, args...) }
