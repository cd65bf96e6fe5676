// file: internal/transport/http/router/knowledge_handlers.go
package router

import (
	"QueryMind/internal/service/analysis"
	"QueryMind/internal/service/knowledge"
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// analyzeRequest 是 /analyze 的请求体，问题放在 query 字段
type analyzeRequest struct {
	Query    string `json:"query" binding:"required"`
	Category string `json:"category"`
}

// askAIRequest 是 /ask-ai 的请求体
type askAIRequest struct {
	Question string `json:"question" binding:"required"`
	Category string `json:"category"`
}

// bindKnowledge 解析两种请求体，返回问题与分类
func bindKnowledge(c *gin.Context, field string) (question, category string, ok bool) {
	if field == "query" {
		var req analyzeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(badRequest(err))
			return "", "", false
		}
		return req.Query, req.Category, true
	}
	var req askAIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(badRequest(err))
		return "", "", false
	}
	return req.Question, req.Category, true
}

// knowledgeAnswerHandler 阻塞式知识问答，field 指定请求体中问题所在的字段
func knowledgeAnswerHandler(kb KnowledgeBase, field string) gin.HandlerFunc {
	return func(c *gin.Context) {
		question, category, ok := bindKnowledge(c, field)
		if !ok {
			return
		}
		reply, err := kb.Answer(c.Request.Context(), question, category)
		if err != nil {
			if errors.Is(err, knowledge.ErrEmptyQuestion) {
				err = badRequest(err)
			}
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"response": reply})
	}
}

// knowledgeStreamHandler 流式知识问答，帧格式与流式对话相同
func knowledgeStreamHandler(kb KnowledgeBase, field string) gin.HandlerFunc {
	return func(c *gin.Context) {
		question, category, ok := bindKnowledge(c, field)
		if !ok {
			return
		}
		relayChat(c, func(ctx context.Context) <-chan analysis.Fragment {
			return kb.Stream(ctx, question, category)
		})
	}
}

// debugDataHandler 返回知识表中的原始条目，可按 category 过滤
func debugDataHandler(kb KnowledgeBase) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := kb.Entries(c.Request.Context(), c.Query("category"))
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": entries, "count": len(entries)})
	}
}
