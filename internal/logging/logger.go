package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const FlagName = "log-verbosity"

type logBuilder struct {
	verbosity   int
	development bool
	output      zapcore.WriteSyncer
}

// Option 日志配置项
type Option func(*logBuilder)

// WithVerbosity 设置日志级别: 1=Debug, 0=Info, -1=Warn, -2=Error
func WithVerbosity(verbosity int) Option {
	return func(lb *logBuilder) {
		lb.verbosity = verbosity
	}
}

// WithDevelopment 使用彩色控制台格式输出
func WithDevelopment(enabled bool) Option {
	return func(lb *logBuilder) {
		lb.development = enabled
	}
}

// WithOutput 设置日志输出位置，默认 stderr
func WithOutput(w zapcore.WriteSyncer) Option {
	return func(lb *logBuilder) {
		lb.output = w
	}
}

// New 创建日志记录器
func New(opts ...Option) *zap.SugaredLogger {
	lb := &logBuilder{output: zapcore.Lock(os.Stderr)}
	for _, opt := range opts {
		opt(lb)
	}

	var encoder zapcore.Encoder
	if lb.development {
		encoderConf := zap.NewDevelopmentEncoderConfig()
		encoderConf.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConf)
	} else {
		encoderConf := zap.NewProductionEncoderConfig()
		encoderConf.MessageKey = "message"
		encoderConf.TimeKey = "@timestamp"
		encoderConf.LevelKey = "log.level"
		encoderConf.NameKey = "log.logger"
		encoderConf.StacktraceKey = "error.stack_trace"
		encoderConf.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConf)
	}

	core := zapcore.NewCore(encoder, lb.output, determineLogLevel(lb.verbosity))
	return zap.New(core, zap.AddStacktrace(zapcore.DPanicLevel)).Sugar()
}

// Nop 返回丢弃所有输出的日志记录器
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func determineLogLevel(v int) zap.AtomicLevel {
	if v < -2 {
		v = -2
	}
	return zap.NewAtomicLevelAt(zapcore.Level(v * -1))
}
