// Package port file: internal/core/port/service.go
package port

import (
	"context"
	"errors"
)

var (
	ErrCompletion = errors.New("大模型调用失败")
	ErrSynthesis  = errors.New("查询生成失败")
	ErrAnalysis   = errors.New("结果分析失败")
)

// Role 是对话消息的角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 是发送给大模型的一条消息
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest 描述一次对话补全调用
type CompletionRequest struct {
	Messages    []Message
	Temperature float32
	// MaxTokens 为 0 表示不限制
	MaxTokens int
}

// CompletionStream 是流式补全的读取端。
// Recv 按到达顺序返回文本片段，结束时返回 io.EOF。
type CompletionStream interface {
	Recv() (string, error)
	Close() error
}

// CompletionService 抽象了外部大模型服务
type CompletionService interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Stream(ctx context.Context, req CompletionRequest) (CompletionStream, error)
}

// PromptSource 提供结果分析所用的系统提示词，每次调用时读取。
type PromptSource interface {
	Get() string
}

// DatabaseProvider 返回请求开始时刻生效的数据库适配器。
// 返回值是一次租用：调用方用完后必须 Close 归还。连接被替换后，
// 旧连接池在最后一个租用者归还时才真正关闭。
type DatabaseProvider interface {
	Current() (Database, error)
}
