// file: internal/transport/http/router/admin_handlers.go
package router

import (
	"QueryMind/internal/core/domain"
	"QueryMind/internal/service"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const defaultHistoryLimit = 50

// =============================================================================
//  认证
// =============================================================================

// loginHandler 处理管理员登录请求
func loginHandler(auth *service.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			User string `form:"user" json:"user" binding:"required"`
			Pass string `form:"pass" json:"pass" binding:"required"`
		}
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "用户名或密码不能为空"})
			return
		}
		if !auth.Enabled() {
			c.JSON(http.StatusNotFound, gin.H{"error": "认证未启用"})
			return
		}
		role, ok := auth.CheckUser(req.User, req.Pass)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "用户名或密码无效"})
			return
		}
		token, err := auth.GenToken(req.User, role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "生成令牌失败"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"token":      token,
			"expires_in": int(auth.TokenTTL().Seconds()),
			"user":       gin.H{"username": req.User, "role": role},
		})
	}
}

// =============================================================================
//  提示词
// =============================================================================

func getPromptHandler(prompts PromptStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"prompt": prompts.Get()})
	}
}

func updatePromptHandler(prompts PromptStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload struct {
			Prompt string `json:"prompt" binding:"required"`
		}
		if err := c.ShouldBindJSON(&payload); err != nil {
			_ = c.Error(badRequest(err))
			return
		}
		if err := prompts.Update(payload.Prompt); err != nil {
			log.Printf("ERROR: [API /api/prompt] 保存提示词失败: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "保存提示词失败: " + err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "message": "提示词已更新"})
	}
}

// =============================================================================
//  数据库连接
// =============================================================================

func getConnectionHandler(conns ConnectionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, connected := conns.View()
		c.JSON(http.StatusOK, gin.H{"connection": view, "connected": connected})
	}
}

// bindConnection 解析并校验请求中的连接配置
func bindConnection(c *gin.Context) (domain.ConnectionConfig, bool) {
	var cfg domain.ConnectionConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		_ = c.Error(badRequest(err))
		return cfg, false
	}
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		_ = c.Error(badRequest(err))
		return cfg, false
	}
	return cfg, true
}

func updateConnectionHandler(conns ConnectionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg, ok := bindConnection(c)
		if !ok {
			return
		}
		if err := conns.Reconfigure(c.Request.Context(), cfg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "连接数据库失败: " + err.Error()})
			return
		}
		view, _ := conns.View()
		c.JSON(http.StatusOK, gin.H{"status": "success", "message": "数据库连接已更新", "connection": view})
	}
}

// testConnectionHandler 只报告能否连接，不修改当前连接
func testConnectionHandler(conns ConnectionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg, ok := bindConnection(c)
		if !ok {
			return
		}
		if err := conns.Test(c.Request.Context(), cfg); err != nil {
			c.JSON(http.StatusOK, gin.H{"success": false, "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "连接成功"})
	}
}

// =============================================================================
//  问答记录
// =============================================================================

func historyHandler(h HistoryReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultHistoryLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				_ = c.Error(badRequest(errors.New("limit 必须是正整数")))
				return
			}
			limit = n
		}
		c.JSON(http.StatusOK, gin.H{"entries": h.Recent(limit)})
	}
}
