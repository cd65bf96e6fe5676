// file: internal/transport/http/router/router.go
package router

import (
	"QueryMind/internal/core/domain"
	"QueryMind/internal/core/port"
	"QueryMind/internal/qmmiddleware"
	"QueryMind/internal/qmobserve"
	"QueryMind/internal/service"
	"QueryMind/internal/service/analysis"
	"QueryMind/internal/service/history"
	"QueryMind/internal/service/knowledge"
	"QueryMind/internal/transport/http/middleware"
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// QueryPipeline 是问答编排器
type QueryPipeline interface {
	Run(ctx context.Context, question string) (*domain.Answer, error)
	Stream(ctx context.Context, question string) <-chan domain.StreamEvent
}

// Chatter 是普通对话服务
type Chatter interface {
	Reply(ctx context.Context, message string, history []port.Message) (string, error)
	Stream(ctx context.Context, message string, history []port.Message) <-chan analysis.Fragment
}

// KnowledgeBase 基于知识表回答问题
type KnowledgeBase interface {
	Entries(ctx context.Context, category string) ([]knowledge.Entry, error)
	Answer(ctx context.Context, question, category string) (string, error)
	Stream(ctx context.Context, question, category string) <-chan analysis.Fragment
}

// ConnectionManager 管理当前数据库连接
type ConnectionManager interface {
	port.DatabaseProvider
	View() (domain.ConnectionView, bool)
	Reconfigure(ctx context.Context, cfg domain.ConnectionConfig) error
	Test(ctx context.Context, cfg domain.ConnectionConfig) error
}

// PromptStore 保存结果分析提示词
type PromptStore interface {
	Get() string
	Update(prompt string) error
}

// HistoryReader 读取最近的问答记录
type HistoryReader interface {
	Recent(limit int) []history.Entry
}

// Dependencies 结构体用于将所有依赖项注入到路由器中
type Dependencies struct {
	Pipeline    QueryPipeline
	Chat        Chatter
	Knowledge   KnowledgeBase
	Connections ConnectionManager
	Prompts     PromptStore
	History     HistoryReader
	Auth        *service.Authenticator
	Limiter     *qmmiddleware.RateLimiter
	LoginLock   *qmmiddleware.LoginFailureLock
}

// 流式接口不经过 gzip，保证每帧立即送达
var streamPaths = []string{"/stream/", "/stream-chat"}

// New 创建并配置基于 Gin 的 HTTP 路由器
func New(deps Dependencies) http.Handler {
	router := gin.Default()

	// --- 配置全局中间件 ---
	router.Use(qmobserve.PrometheusMiddleware())
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths(streamPaths)))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	router.Use(middleware.ErrorHandlingMiddleware())
	router.Use(wrap(deps.Auth.Middleware))

	router.GET("/healthz", healthHandler(deps.Connections))
	router.GET("/metrics", gin.WrapH(qmobserve.Handler()))

	// --- 问答平面 ---
	ai := router.Group("/")
	if deps.Limiter != nil {
		ai.Use(wrap(deps.Limiter.Chain))
	}
	{
		ai.POST("/ai/sql-query", askHandler(deps.Pipeline))
		ai.POST("/stream/sql-query", streamQueryHandler(deps.Pipeline))
		ai.POST("/chat", chatHandler(deps.Chat))
		ai.POST("/stream/chat", streamChatHandler(deps.Chat))
		ai.GET("/stream-chat", streamChatQueryHandler(deps.Chat))

		ai.POST("/analyze", knowledgeAnswerHandler(deps.Knowledge, "query"))
		ai.POST("/ask-ai", knowledgeAnswerHandler(deps.Knowledge, "question"))
		ai.POST("/stream/analyze", knowledgeStreamHandler(deps.Knowledge, "query"))
		ai.POST("/stream/ask-ai", knowledgeStreamHandler(deps.Knowledge, "question"))
	}
	router.GET("/debug/data", debugDataHandler(deps.Knowledge))

	// --- 数据库平面 ---
	db := router.Group("/db")
	{
		db.GET("/schema", schemaHandler(deps.Connections))
		db.POST("/query", directQueryHandler(deps.Connections))
	}

	// --- 控制平面 ---
	api := router.Group("/api")
	{
		login := loginHandler(deps.Auth)
		if deps.LoginLock != nil {
			api.POST("/auth/login", wrap(deps.LoginLock.Middleware), login)
		} else {
			api.POST("/auth/login", login)
		}

		api.GET("/prompt", getPromptHandler(deps.Prompts))
		api.GET("/db/connection", getConnectionHandler(deps.Connections))
		api.GET("/history", historyHandler(deps.History))

		admin := api.Group("/")
		admin.Use(wrap(qmmiddleware.RequireAdmin(deps.Auth)))
		{
			admin.POST("/prompt", updatePromptHandler(deps.Prompts))
			admin.POST("/db/connection", updateConnectionHandler(deps.Connections))
			admin.POST("/db/connection/test", testConnectionHandler(deps.Connections))
		}
	}

	return router
}

// wrap 把 net/http 风格的中间件接入 gin 流程。
// 中间件没有调用 next 时中止后续处理器。
func wrap(mw func(http.Handler) http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		called := false
		handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			c.Request = r
			c.Next()
			// 让外层包装的 ResponseWriter 也看到处理器写出的状态码
			if w != http.ResponseWriter(c.Writer) {
				w.WriteHeader(c.Writer.Status())
			}
		}))
		handler.ServeHTTP(c.Writer, c.Request)
		if !called {
			c.Abort()
		}
	}
}

// healthHandler 报告数据库是否可用
func healthHandler(conns ConnectionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		db, err := conns.Current()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_connected"})
			return
		}
		defer db.Close()
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "dialect": db.Dialect()})
	}
}
