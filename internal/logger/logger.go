package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options 日志选项
type Options struct {
	// Debug 输出调试日志
	Debug bool

	// Verbose 显示批次级别的详细信息，等同于 Debug 但保留控制台格式
	Verbose bool

	// Console 使用便于阅读的控制台格式，而不是 JSON
	Console bool

	// File 额外写入的日志文件，为空则只写 stderr
	File string
}

// NewLogger 创建一个新的日志记录器
func NewLogger(debug bool) *zap.Logger {
	return NewWithOptions(Options{Debug: debug})
}

// NewLoggerWithVerbose 创建控制台日志记录器，verbose 时显示批次细节
func NewLoggerWithVerbose(debug, verbose bool) *zap.Logger {
	return NewWithOptions(Options{Debug: debug, Verbose: verbose, Console: true})
}

// NewWithOptions 按选项创建日志记录器
func NewWithOptions(opts Options) *zap.Logger {
	config := zap.NewProductionConfig()
	if opts.Console {
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	switch {
	case opts.Debug || opts.Verbose:
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	config.DisableStacktrace = !opts.Debug
	if opts.File != "" {
		config.OutputPaths = append(config.OutputPaths, opts.File)
	}

	logger, err := config.Build()
	if err != nil {
		panic("初始化日志系统失败: " + err.Error())
	}

	return logger
}
