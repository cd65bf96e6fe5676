// Package analysis 调用大模型对查询结果做自然语言分析，支持阻塞与流式两种形式。
// file: internal/service/analysis/analysis.go
package analysis

import (
	"QueryMind/internal/core/domain"
	"QueryMind/internal/core/port"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	temperature      = 0.7
	defaultQueueSize = 64
)

// FragmentKind 是流式分析输出片段的类型
type FragmentKind int

const (
	// FragmentStart 表示分析开始，每次流恰好一个
	FragmentStart FragmentKind = iota
	// FragmentText 是一段非空文本
	FragmentText
	// FragmentDone 表示分析结束，无论成败每次流恰好一个
	FragmentDone
)

// Fragment 是流式分析的一个输出单元。
// Failed 为 true 的 FragmentText 携带面向用户的失败信息，紧接着就是 FragmentDone。
type Fragment struct {
	Kind   FragmentKind
	Text   string
	Failed bool
}

// Request 是一次分析所需的全部输入
type Request struct {
	Question string
	Query    string
	Result   *domain.QueryResult
	Dialect  domain.Dialect
}

// Config 是分析服务的参数
type Config struct {
	MaxTokens int
	QueueSize int
}

// Service 负责结果分析
type Service struct {
	completion port.CompletionService
	prompts    port.PromptSource
	cfg        Config
}

// New 创建结果分析服务
func New(completion port.CompletionService, prompts port.PromptSource, cfg Config) *Service {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Service{completion: completion, prompts: prompts, cfg: cfg}
}

// Analyze 阻塞调用大模型并返回完整分析文本
func (s *Service) Analyze(ctx context.Context, req Request) (string, error) {
	creq, err := s.buildRequest(req)
	if err != nil {
		return "", err
	}
	out, err := s.completion.Complete(ctx, creq)
	if err != nil {
		return "", fmt.Errorf("%w: %w", port.ErrAnalysis, err)
	}
	return out, nil
}

// Stream 在独立 goroutine 中调用流式接口，按到达顺序把片段写入返回的 channel。
// channel 容量即交接队列的长度，输出 Done 后关闭。ctx 取消时生产者停止。
func (s *Service) Stream(ctx context.Context, req Request) <-chan Fragment {
	return StreamCompletion(ctx, s.completion, s.cfg.QueueSize,
		func() (port.CompletionRequest, error) { return s.buildRequest(req) },
		FailureMessage)
}

// FailureMessage 是流式分析失败时发给用户的文本
func FailureMessage(err error) string {
	return fmt.Sprintf("Sorry, an error occurred while analysing the result: %v", err)
}

func (s *Service) buildRequest(req Request) (port.CompletionRequest, error) {
	notes, err := DialectNotes(req.Dialect)
	if err != nil {
		return port.CompletionRequest{}, err
	}
	var resultJSON []byte
	if req.Result != nil {
		resultJSON, err = json.Marshal(req.Result)
		if err != nil {
			return port.CompletionRequest{}, fmt.Errorf("序列化查询结果失败: %w", err)
		}
	} else {
		resultJSON = []byte("[]")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", req.Question)
	fmt.Fprintf(&b, "%s used:\n%s\n\n", queryLabel(req.Dialect), req.Query)
	fmt.Fprintf(&b, "Notes about the data source:\n%s\n\n", notes)
	fmt.Fprintf(&b, "Result:\n%s\n\n", resultJSON)
	b.WriteString("Please analyse the result and answer the question in detail.")

	return port.CompletionRequest{
		Messages: []port.Message{
			// 每次调用时读取，提示词更新对后续请求立即生效
			{Role: port.RoleSystem, Content: s.prompts.Get()},
			{Role: port.RoleUser, Content: b.String()},
		},
		Temperature: temperature,
		MaxTokens:   s.cfg.MaxTokens,
	}, nil
}

func queryLabel(d domain.Dialect) string {
	if d.IsRelational() {
		return "SQL query"
	}
	return "MongoDB query"
}

// DialectNotes 返回帮助模型解读结果的方言说明
func DialectNotes(d domain.Dialect) (string, error) {
	switch d {
	case domain.DialectMySQL:
		return "The result comes from MySQL. Numbers from DECIMAL columns were converted to floating point; " +
			"timestamps are RFC 3339 strings. A write statement returns a message and rows_affected.", nil
	case domain.DialectPostgreSQL:
		return "The result comes from PostgreSQL. NUMERIC values were converted to floating point; " +
			"timestamps are RFC 3339 strings. A write statement returns a message and rows_affected.", nil
	case domain.DialectMongoDB:
		return "The result comes from MongoDB. Each row is a document; _id values are ObjectID hex strings " +
			"and dates are RFC 3339 strings. Writes report inserted_ids, matched_count or rows_affected.", nil
	}
	return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedDialect, d)
}
