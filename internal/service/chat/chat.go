// Package chat 提供不涉及数据库的普通对话，支持附带历史消息。
// file: internal/service/chat/chat.go
package chat

import (
	"QueryMind/internal/core/port"
	"QueryMind/internal/service/analysis"
	"context"
	"errors"
	"fmt"
	"strings"
)

// SystemPrompt 是对话使用的系统提示词
const SystemPrompt = "You are a friendly and helpful AI assistant. " +
	"Answer in the same language the user writes in; you are fluent in both Thai and English."

const (
	temperature      = 0.7
	defaultMaxTokens = 1000
	queueSize        = 64
)

// ErrEmptyMessage 表示用户消息为空
var ErrEmptyMessage = errors.New("消息不能为空")

// Service 负责对话
type Service struct {
	completion port.CompletionService
	maxTokens  int
}

// New 创建对话服务，maxTokens 非正数时使用 1000。
func New(completion port.CompletionService, maxTokens int) *Service {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Service{completion: completion, maxTokens: maxTokens}
}

// Reply 返回模型的完整回复
func (s *Service) Reply(ctx context.Context, message string, history []port.Message) (string, error) {
	req, err := s.buildRequest(message, history)
	if err != nil {
		return "", err
	}
	out, err := s.completion.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", port.ErrCompletion, err)
	}
	return out, nil
}

// Stream 按到达顺序输出回复片段，输出形式与结果分析的流式接口一致。
func (s *Service) Stream(ctx context.Context, message string, history []port.Message) <-chan analysis.Fragment {
	return analysis.StreamCompletion(ctx, s.completion, queueSize,
		func() (port.CompletionRequest, error) { return s.buildRequest(message, history) },
		func(err error) string { return err.Error() })
}

func (s *Service) buildRequest(message string, history []port.Message) (port.CompletionRequest, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return port.CompletionRequest{}, ErrEmptyMessage
	}
	msgs := make([]port.Message, 0, len(history)+2)
	msgs = append(msgs, port.Message{Role: port.RoleSystem, Content: SystemPrompt})
	for i, m := range history {
		switch m.Role {
		case port.RoleUser, port.RoleAssistant:
		case port.RoleSystem:
			// 客户端不能替换系统提示词
			continue
		default:
			return port.CompletionRequest{}, fmt.Errorf("历史消息 %d 的角色无效: %q", i, m.Role)
		}
		if m.Content == "" {
			continue
		}
		msgs = append(msgs, m)
	}
	msgs = append(msgs, port.Message{Role: port.RoleUser, Content: message})
	return port.CompletionRequest{
		Messages:    msgs,
		Temperature: temperature,
		MaxTokens:   s.maxTokens,
	}, nil
}
