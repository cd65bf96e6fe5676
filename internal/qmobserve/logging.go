// Package qmobserve file: internal/qmobserve/logging.go
package qmobserve

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel 把配置中的级别字符串转换为 slog.Level，无法识别时返回 INFO。
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// InitLogger 初始化全局的结构化日志记录器，应在 main 的早期调用。
func InitLogger(levelStr string) {
	InitLoggerTo(os.Stdout, levelStr)
}

// InitLoggerTo 与 InitLogger 相同，但输出到 w。
// SetDefault 之后，适配器层使用的标准库 log 也经由同一个 handler 输出。
func InitLoggerTo(w io.Writer, levelStr string) {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     ParseLevel(levelStr),
		AddSource: true,
	})
	slog.SetDefault(slog.New(handler))
}
