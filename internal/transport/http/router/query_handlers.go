// file: internal/transport/http/router/query_handlers.go
package router

import (
	"QueryMind/internal/qmobserve"
	"QueryMind/internal/transport/http/middleware"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type questionRequest struct {
	Question string `json:"question" binding:"required"`
}

func badRequest(err error) error {
	return fmt.Errorf("%w: %w", middleware.ErrBadRequest, err)
}

// askHandler 阻塞式问答
func askHandler(p QueryPipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req questionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(badRequest(err))
			return
		}
		answer, err := p.Run(c.Request.Context(), req.Question)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, answer)
	}
}

// streamQueryHandler 把编排器的事件逐条以 SSE 推送给客户端
func streamQueryHandler(p QueryPipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req questionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(badRequest(err))
			return
		}

		qmobserve.StreamOpened()
		defer qmobserve.StreamClosed()

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		startSSE(c)
		broken := false
		for ev := range p.Stream(ctx, req.Question) {
			if broken {
				continue
			}
			if err := writeSSE(c, ev); err != nil {
				log.Printf("警告: [SSE] 写出事件失败，停止本次问答: %v", err)
				broken = true
				cancel()
			}
		}
	}
}

// schemaHandler 返回当前数据库的结构描述
func schemaHandler(conns ConnectionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		db, err := conns.Current()
		if err != nil {
			_ = c.Error(err)
			return
		}
		defer db.Close()
		schema, err := db.GetSchema(c.Request.Context())
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"schema": schema})
	}
}

// directQueryHandler 不经过模型，直接执行请求中的查询
func directQueryHandler(conns ConnectionManager) gin.HandlerFunc {
	type requestBody struct {
		Question string `json:"question"`
		Query    string `json:"query"`
	}
	return func(c *gin.Context) {
		var req requestBody
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(badRequest(err))
			return
		}
		query := strings.TrimSpace(req.Question)
		if query == "" {
			query = strings.TrimSpace(req.Query)
		}
		if query == "" {
			_ = c.Error(badRequest(errors.New("缺少 'question' 字段")))
			return
		}

		db, err := conns.Current()
		if err != nil {
			_ = c.Error(err)
			return
		}
		defer db.Close()
		result, err := db.Execute(c.Request.Context(), query)
		if err != nil {
			log.Printf("ERROR: directQueryHandler 执行失败 (dialect=%s): %v", db.Dialect(), err)
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"result": result})
	}
}
