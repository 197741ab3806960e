package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level" yaml:"level"`    // 日志级别 (debug, info, warn, error)
	Format string `mapstructure:"format" json:"format" yaml:"format"` // 日志格式 (json, text)
	Output string `mapstructure:"output" json:"output" yaml:"output"` // 输出路径 (stdout, stderr, file path)
}

// DefaultLogConfig 默认日志配置
var DefaultLogConfig = &LogConfig{
	Level:  "info",
	Format: "json",
	Output: "stdout",
}

// NewLogger 按配置创建组件使用的 logrus 日志器
func NewLogger(config *LogConfig) (*logrus.Logger, error) {
	if config == nil {
		config = DefaultLogConfig
	}

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("无效的日志级别 '%s': %w", config.Level, err)
	}

	writer, err := getLogWriter(config)
	if err != nil {
		return nil, fmt.Errorf("创建日志输出失败: %w", err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(writer)
	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	default:
		return nil, fmt.Errorf("不支持的日志格式: %s", config.Format)
	}
	return logger, nil
}

// StructuredLogger 基于 slog 的请求级日志器，字段随调用链附加
type StructuredLogger struct {
	slogger *slog.Logger
}

// NewStructuredLogger 按与 logrus 相同的配置创建结构化日志器
func NewStructuredLogger(config *LogConfig) (*StructuredLogger, error) {
	if config == nil {
		config = DefaultLogConfig
	}

	level, err := parseLogLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("无效的日志级别 '%s': %w", config.Level, err)
	}

	writer, err := getLogWriter(config)
	if err != nil {
		return nil, fmt.Errorf("创建日志输出失败: %w", err)
	}

	return newStructuredLogger(config.Format, writer, level)
}

func newStructuredLogger(format string, writer io.Writer, level slog.Level) (*StructuredLogger, error) {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceAttr,
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		return nil, fmt.Errorf("不支持的日志格式: %s", format)
	}
	return &StructuredLogger{slogger: slog.New(handler)}, nil
}

func parseLogLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug", "trace":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "fatal", "panic":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("未知的日志级别: %s", levelStr)
}

// getLogWriter stdout/stderr 或追加写入的文件
func getLogWriter(config *LogConfig) (io.Writer, error) {
	switch config.Output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}

	if err := os.MkdirAll(filepath.Dir(config.Output), 0755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件失败: %w", err)
	}
	return file, nil
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		return slog.String(a.Key, a.Value.Time().Format(time.RFC3339))
	}
	return a
}

// With 附加键值对，返回新的日志器
func (sl *StructuredLogger) With(args ...any) *FieldLogger {
	return &FieldLogger{logger: sl.slogger.With(args...)}
}

// FieldLogger 已附加字段的日志器
type FieldLogger struct {
	logger *slog.Logger
}

func (fl *FieldLogger) Debug(msg string, args ...any) { fl.logger.Debug(msg, args...) }
func (fl *FieldLogger) Info(msg string, args ...any)  { fl.logger.Info(msg, args...) }
func (fl *FieldLogger) Warn(msg string, args ...any)  { fl.logger.Warn(msg, args...) }
func (fl *FieldLogger) Error(msg string, args ...any) { fl.logger.Error(msg, args...) }

// NewRPCLogger JSON-RPC 方法调用日志器
func NewRPCLogger(base *StructuredLogger, method string, remoteAddr string) *FieldLogger {
	return base.With("component", "jsonrpc", "method", method, "remote_addr", remoteAddr)
}

// NewTxLogger 按以太坊交易哈希关联的转换日志器
func NewTxLogger(base *StructuredLogger, ethTxHash string) *FieldLogger {
	return base.With("component", "translator", "tx_hash", ethTxHash)
}
