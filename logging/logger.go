package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log 是全局可用的 SugaredLogger；未初始化时为 no-op，测试与库代码可直接使用
var Log = zap.NewNop().Sugar()

// Options 日志初始化参数
type Options struct {
	FilePath string // 为空时输出到 stderr
	Level    string // debug/info/warn/error
	Fields   []any  // 附加到每条日志的键值对，如 role、instance
}

// InitLogger 初始化 zap 日志（文件滚动或标准错误）
func InitLogger(opts Options) error {
	var ws zapcore.WriteSyncer
	if opts.FilePath != "" {
		// 文件滚动策略：10MB 每文件，保留3个备份，保存7天
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
			Compress:   false,
		})
	} else {
		ws = zapcore.Lock(os.Stderr)
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), ws, ParseLevel(opts.Level))

	Log = zap.New(core, zap.AddCaller()).Sugar().With(opts.Fields...)
	return nil
}

// ParseLevel 将字符串级别转换为 zap 级别，未知值按 info 处理
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// SyncLogger 清理和同步缓冲
func SyncLogger() {
	if Log != nil {
		_ = Log.Sync()
	}
}
