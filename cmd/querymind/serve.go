// file: cmd/querymind/serve.go
package main

import (
	"QueryMind/internal/adapter/completion"
	"QueryMind/internal/config"
	"QueryMind/internal/qmmiddleware"
	"QueryMind/internal/qmobserve"
	"QueryMind/internal/service"
	"QueryMind/internal/service/analysis"
	"QueryMind/internal/service/chat"
	"QueryMind/internal/service/connection"
	"QueryMind/internal/service/history"
	"QueryMind/internal/service/knowledge"
	"QueryMind/internal/service/pipeline"
	"QueryMind/internal/service/prompt_store"
	"QueryMind/internal/service/synthesis"
	grpcserver "QueryMind/internal/transport/grpc"
	"QueryMind/internal/transport/http/router"
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const (
	loginMaxFailures = 5
	loginLockout     = 15 * time.Minute
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "配置文件路径，为空时只使用环境变量与默认值")
	return cmd
}

func runServe(configPath string) error {
	// 在日志系统完全初始化前，使用标准 log
	log.Printf("QueryMind %s 正在启动...", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	qmobserve.InitLogger(cfg.Server.LogLevel)
	slog.Info("配置加载并解析成功", "path", configPath, "version", version)

	qmobserve.Register()
	qmobserve.EnablePprof(cfg.Observability.PprofAddr)

	// --- 数据库连接 ---
	health := grpcserver.NewHealthServer()
	conns := connection.NewManager(cfg.Storage.ConnectionEnvFile, connection.WithStatusListener(health.SetDatabaseStatus))
	defer func() {
		if err := conns.Close(); err != nil {
			slog.Error("关闭数据库连接时发生错误", "error", err)
		}
	}()
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	connected, err := conns.LoadFromEnvFile(startCtx)
	cancelStart()
	switch {
	case err != nil:
		slog.Warn("启动时连接数据库失败，服务以未连接状态运行", "error", err)
	case connected:
		view, _ := conns.View()
		slog.Info("数据库已连接", "db_type", view.DBType, "host", view.Host, "database", view.Database)
	default:
		slog.Warn("未配置数据库连接，请通过 /api/db/connection 设置")
	}

	// --- 提示词 ---
	prompts, err := prompt_store.New(cfg.Storage.PromptFile)
	if err != nil {
		return fmt.Errorf("加载提示词失败: %w", err)
	}
	if err := prompts.Watch(); err != nil {
		slog.Warn("提示词文件热加载未启用", "error", err)
	}
	defer func() { _ = prompts.Close() }()

	// --- 服务层 ---
	llm := completion.New(cfg.OpenAI.Config)
	slog.Info("服务层: 大模型客户端初始化完成", "model", llm.Model())

	records := history.New(cfg.History.Size, cfg.History.TTL)
	pipe := pipeline.New(
		conns,
		synthesis.New(llm),
		analysis.New(llm, prompts, analysis.Config{MaxTokens: cfg.OpenAI.MaxTokens, QueueSize: cfg.Stream.QueueSize}),
		records,
		cfg.Stream,
	)
	slog.Info("服务层: 问答编排器初始化完成",
		"first_chunk_budget", cfg.Stream.FirstChunkBudget, "item_timeout", cfg.Stream.ItemTimeout)

	kb, err := knowledge.New(conns, llm, cfg.Knowledge)
	if err != nil {
		return err
	}
	slog.Info("服务层: 知识问答初始化完成", "table", cfg.Knowledge.Table)

	httpRouter := router.New(router.Dependencies{
		Pipeline:    pipe,
		Chat:        chat.New(llm, cfg.OpenAI.ChatMaxTokens),
		Knowledge:   kb,
		Connections: conns,
		Prompts:     prompts,
		History:     records,
		Auth:        service.NewAuthenticator(cfg.Auth),
		Limiter:     qmmiddleware.NewRateLimiter(cfg.RateLimit),
		LoginLock:   qmmiddleware.NewLoginFailureLock(loginMaxFailures, loginLockout),
	})
	slog.Info("传输层: HTTP 路由器创建完成。")

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           httpRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("QueryMind 启动成功，开始监听HTTP请求...", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP服务启动失败: %w", err)
		}
	}()
	if cfg.Observability.GRPCHealthAddr != "" {
		go func() {
			if err := health.ListenAndServe(cfg.Observability.GRPCHealthAddr); err != nil {
				errCh <- err
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		slog.Info("收到停机信号，准备优雅关闭...")
	case err := <-errCh:
		slog.Error("服务异常退出", "error", err)
		health.Stop()
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	health.Stop()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP服务优雅关闭失败: %w", err)
	}
	slog.Info("HTTP服务已成功关闭。")
	return nil
}
