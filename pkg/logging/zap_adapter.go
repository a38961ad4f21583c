package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ===== ZAP BACKEND ADAPTER =====

// ZapAdapter is the daemon's root Logger, backed by zap.
type ZapAdapter struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
	file   *RotatingFile
}

// ZapConfig defines the daemon log configuration
type ZapConfig struct {
	Level      string // "debug", "info", "warn", "error"
	Format     string // "json", "console"
	Output     string // "stdout", "stderr" or a file path
	MaxBytes   int64  // rotation size for file output
	Backups    int    // rotated files kept for file output
	Caller     bool
	Stacktrace bool
}

// DefaultZapConfig returns the configuration used before the config file is read.
func DefaultZapConfig() ZapConfig {
	return ZapConfig{
		Level:  "info",
		Format: "console",
		Output: "stderr",
	}
}

func NewZapAdapter(config ZapConfig) (*ZapAdapter, error) {
	level, err := getLevelFromString(config.Level)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	encoderConfig.LevelKey = "level"
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	switch config.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	adapter := &ZapAdapter{}

	var writeSyncer zapcore.WriteSyncer
	switch config.Output {
	case "stdout":
		writeSyncer = zapcore.Lock(zapcore.AddSync(os.Stdout))
	case "stderr", "":
		writeSyncer = zapcore.Lock(zapcore.AddSync(os.Stderr))
	default:
		adapter.file = NewRotatingFile(config.Output, megabytes(config.MaxBytes), config.Backups)
		writeSyncer = zapcore.Lock(zapcore.AddSync(adapter.file))
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)

	opts := []zap.Option{}
	if config.Caller {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	if config.Stacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	adapter.logger = zap.New(core, opts...)
	adapter.sugar = adapter.logger.Sugar()
	return adapter, nil
}

func (z *ZapAdapter) LogLevelf(level int, format string, args ...interface{}) {
	switch level {
	case LogLevelDebug:
		z.sugar.Debugf(format, args...)
	case LogLevelWarn:
		z.sugar.Warnf(format, args...)
	case LogLevelError:
		z.sugar.Errorf(format, args...)
	default:
		z.sugar.Infof(format, args...)
	}
}

func (z *ZapAdapter) Debugf(format string, args ...interface{}) {
	z.sugar.Debugf(format, args...)
}

func (z *ZapAdapter) Infof(format string, args ...interface{}) {
	z.sugar.Infof(format, args...)
}

func (z *ZapAdapter) Warnf(format string, args ...interface{}) {
	z.sugar.Warnf(format, args...)
}

func (z *ZapAdapter) Errorf(format string, args ...interface{}) {
	z.sugar.Errorf(format, args...)
}

// Reopen rotates the log file, if the adapter writes to one.
func (z *ZapAdapter) Reopen() error {
	if z.file == nil {
		return nil
	}
	return z.file.Rotate()
}

// Sync flushes any buffered log entries
func (z *ZapAdapter) Sync() error {
	return z.logger.Sync()
}

func (z *ZapAdapter) Close() error {
	_ = z.logger.Sync()
	if z.file != nil {
		return z.file.Close()
	}
	return nil
}

// megabytes converts a byte count to lumberjack's MB granularity, rounding up.
// Zero keeps lumberjack's default.
func megabytes(n int64) int {
	if n <= 0 {
		return 0
	}
	const mb = 1024 * 1024
	return int((n + mb - 1) / mb)
}

// zap v1.20 has no zapcore.ParseLevel
func getLevelFromString(levelStr string) (zapcore.Level, error) {
	switch strings.ToLower(levelStr) {
	case "trace", "blather", "debug":
		return zap.DebugLevel, nil
	case "", "info":
		return zap.InfoLevel, nil
	case "warn", "warning":
		return zap.WarnLevel, nil
	case "error", "critical":
		return zap.ErrorLevel, nil
	default:
		return zap.InfoLevel, fmt.Errorf("invalid log level: %s", levelStr)
	}
}
