// file: internal/transport/http/router/chat_handlers.go
package router

import (
	"QueryMind/internal/core/port"
	"QueryMind/internal/qmobserve"
	"QueryMind/internal/service/analysis"
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

type chatRequest struct {
	Message             string         `json:"message" binding:"required"`
	ConversationHistory []port.Message `json:"conversation_history"`
}

// chatHandler 阻塞式对话
func chatHandler(chat Chatter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req chatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(badRequest(err))
			return
		}
		reply, err := chat.Reply(c.Request.Context(), req.Message, req.ConversationHistory)
		if err != nil {
			if !errors.Is(err, port.ErrCompletion) {
				err = badRequest(err)
			}
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"response": reply})
	}
}

// streamChatHandler 带历史消息的流式对话
func streamChatHandler(chat Chatter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req chatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(badRequest(err))
			return
		}
		relayChat(c, func(ctx context.Context) <-chan analysis.Fragment {
			return chat.Stream(ctx, req.Message, req.ConversationHistory)
		})
	}
}

// streamChatQueryHandler 处理 GET /stream-chat?message=
func streamChatQueryHandler(chat Chatter) gin.HandlerFunc {
	return func(c *gin.Context) {
		message := c.Query("message")
		if message == "" {
			_ = c.Error(badRequest(errors.New("缺少 'message' 参数")))
			return
		}
		relayChat(c, func(ctx context.Context) <-chan analysis.Fragment {
			return chat.Stream(ctx, message, nil)
		})
	}
}

// relayChat 把对话片段转为 {"content": ...} 帧，失败时以 {"error": ...} 结束
func relayChat(c *gin.Context, open func(ctx context.Context) <-chan analysis.Fragment) {
	qmobserve.StreamOpened()
	defer qmobserve.StreamClosed()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	startSSE(c)
	for f := range open(ctx) {
		var frame gin.H
		switch f.Kind {
		case analysis.FragmentText:
			if f.Failed {
				frame = gin.H{"error": f.Text}
			} else {
				frame = gin.H{"content": f.Text}
			}
		case analysis.FragmentStart, analysis.FragmentDone:
			continue
		}
		if err := writeSSE(c, frame); err != nil {
			log.Printf("警告: [SSE] 写出对话片段失败: %v", err)
			// 生产者在 ctx 取消后自行退出
			return
		}
	}
}
