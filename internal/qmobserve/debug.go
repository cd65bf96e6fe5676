// Package qmobserve file: internal/qmobserve/debug.go
package qmobserve

import (
	"log/slog"
	"net/http"
	_ "net/http/pprof" // 注册 /debug/pprof
)

// EnablePprof 在 addr 上暴露 /debug/pprof 端点，addr 为空时不启用。
func EnablePprof(addr string) {
	if addr == "" {
		slog.Info("pprof 地址为空，已禁用")
		return
	}
	go func() {
		slog.Info("启动 pprof 端点", "address", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			slog.Error("pprof 端点启动失败", "error", err)
		}
	}()
}
