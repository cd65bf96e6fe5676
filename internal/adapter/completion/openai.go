// Package completion 封装外部大模型服务 (OpenAI 兼容接口)
// file: internal/adapter/completion/openai.go
package completion

import (
	"QueryMind/internal/core/port"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sashabaranov/go-openai"
)

// 断言 *Client 实现 port.CompletionService 接口，编译期校验
var _ port.CompletionService = (*Client)(nil)

// DefaultModel 是未配置模型时使用的模型名
const DefaultModel = "gpt-4o"

// Config 定义了大模型服务的连接参数
type Config struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// Client 是基于 go-openai 的 CompletionService 实现
type Client struct {
	api   *openai.Client
	model string
}

// New 创建客户端。APIKey 为空时仍可创建，但调用会被上游拒绝。
func New(cfg Config) *Client {
	if cfg.APIKey == "" {
		slog.Warn("未配置 OpenAI API Key，大模型调用将失败")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Client{api: openai.NewClientWithConfig(oc), model: model}
}

// Model 返回当前使用的模型名
func (c *Client) Model() string { return c.model }

func (c *Client) buildRequest(req port.CompletionRequest, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
}

// Complete 实现 port.CompletionService，阻塞直到拿到完整回复。
func (c *Client) Complete(ctx context.Context, req port.CompletionRequest) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, c.buildRequest(req, false))
	if err != nil {
		return "", fmt.Errorf("%w: %v", port.ErrCompletion, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: 响应中没有候选结果", port.ErrCompletion)
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream 实现 port.CompletionService，返回按到达顺序读取文本片段的流。
func (c *Client) Stream(ctx context.Context, req port.CompletionRequest) (port.CompletionStream, error) {
	s, err := c.api.CreateChatCompletionStream(ctx, c.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrCompletion, err)
	}
	return &chatStream{s: s}, nil
}

type chatStream struct {
	s *openai.ChatCompletionStream
}

// Recv 跳过没有文本内容的增量，流结束时返回 io.EOF。
func (cs *chatStream) Recv() (string, error) {
	for {
		resp, err := cs.s.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", port.ErrCompletion, err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if content := resp.Choices[0].Delta.Content; content != "" {
			return content, nil
		}
	}
}

func (cs *chatStream) Close() error {
	return cs.s.Close()
}
