// file: internal/service/analysis/analysis_test.go
package analysis

import (
	"QueryMind/internal/core/domain"
	"QueryMind/internal/core/port"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPrompt string

func (p staticPrompt) Get() string { return string(p) }

// sliceStream 依次返回预设片段，然后返回 tail 错误（默认 io.EOF）
type sliceStream struct {
	chunks []string
	tail   error
	closed bool
}

func (s *sliceStream) Recv() (string, error) {
	if len(s.chunks) == 0 {
		if s.tail != nil {
			return "", s.tail
		}
		return "", io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

type mockCompletion struct {
	CompleteFunc func(ctx context.Context, req port.CompletionRequest) (string, error)
	StreamFunc   func(ctx context.Context, req port.CompletionRequest) (port.CompletionStream, error)
	last         port.CompletionRequest
}

func (m *mockCompletion) Complete(ctx context.Context, req port.CompletionRequest) (string, error) {
	m.last = req
	return m.CompleteFunc(ctx, req)
}

func (m *mockCompletion) Stream(ctx context.Context, req port.CompletionRequest) (port.CompletionStream, error) {
	m.last = req
	return m.StreamFunc(ctx, req)
}

func countRequest() Request {
	return Request{
		Question: "how many users?",
		Query:    "SELECT COUNT(*) AS n FROM users",
		Result:   domain.NewRowsResult([]string{"n"}, []map[string]any{{"n": 42}}),
		Dialect:  domain.DialectMySQL,
	}
}

func collect(t *testing.T, ch <-chan Fragment) []Fragment {
	t.Helper()
	var out []Fragment
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, f)
		case <-timeout:
			t.Fatal("等待片段超时")
		}
	}
}

func TestAnalyze_BuildsInstruction(t *testing.T) {
	mc := &mockCompletion{CompleteFunc: func(context.Context, port.CompletionRequest) (string, error) {
		return "There are 42 users.", nil
	}}
	svc := New(mc, staticPrompt("custom analyst prompt"), Config{MaxTokens: 800})

	out, err := svc.Analyze(context.Background(), countRequest())
	require.NoError(t, err)
	assert.Equal(t, "There are 42 users.", out)

	require.Len(t, mc.last.Messages, 2)
	assert.Equal(t, "custom analyst prompt", mc.last.Messages[0].Content)
	user := mc.last.Messages[1].Content
	assert.Contains(t, user, "how many users?")
	assert.Contains(t, user, "SELECT COUNT(*) AS n FROM users")
	assert.Contains(t, user, `[{"n":42}]`)
	assert.Contains(t, user, "MySQL")
	assert.InDelta(t, 0.7, mc.last.Temperature, 0.0001)
	assert.Equal(t, 800, mc.last.MaxTokens)
}

func TestAnalyze_ReadsPromptPerCall(t *testing.T) {
	prompt := &mutablePrompt{v: "first"}
	mc := &mockCompletion{CompleteFunc: func(context.Context, port.CompletionRequest) (string, error) { return "ok", nil }}
	svc := New(mc, prompt, Config{})

	_, _ = svc.Analyze(context.Background(), countRequest())
	assert.Equal(t, "first", mc.last.Messages[0].Content)
	prompt.v = "second"
	_, _ = svc.Analyze(context.Background(), countRequest())
	assert.Equal(t, "second", mc.last.Messages[0].Content)
}

type mutablePrompt struct{ v string }

func (p *mutablePrompt) Get() string { return p.v }

func TestAnalyze_Failure(t *testing.T) {
	mc := &mockCompletion{CompleteFunc: func(context.Context, port.CompletionRequest) (string, error) {
		return "", errors.New("boom")
	}}
	_, err := New(mc, staticPrompt("p"), Config{}).Analyze(context.Background(), countRequest())
	assert.ErrorIs(t, err, port.ErrAnalysis)
}

func TestStream_OrderAndSentinels(t *testing.T) {
	st := &sliceStream{chunks: []string{"There ", "", "are ", "42 users."}}
	mc := &mockCompletion{StreamFunc: func(context.Context, port.CompletionRequest) (port.CompletionStream, error) {
		return st, nil
	}}
	frags := collect(t, New(mc, staticPrompt("p"), Config{QueueSize: 1}).Stream(context.Background(), countRequest()))

	require.Len(t, frags, 5)
	assert.Equal(t, FragmentStart, frags[0].Kind)
	assert.Equal(t, Fragment{Kind: FragmentText, Text: "There "}, frags[1])
	assert.Equal(t, Fragment{Kind: FragmentText, Text: "are "}, frags[2])
	assert.Equal(t, Fragment{Kind: FragmentText, Text: "42 users."}, frags[3])
	assert.Equal(t, FragmentDone, frags[4].Kind)
	assert.True(t, st.closed)
}

func TestStream_OpenFailureStillEndsWithDone(t *testing.T) {
	mc := &mockCompletion{StreamFunc: func(context.Context, port.CompletionRequest) (port.CompletionStream, error) {
		return nil, errors.New("401 unauthorized")
	}}
	frags := collect(t, New(mc, staticPrompt("p"), Config{}).Stream(context.Background(), countRequest()))

	require.Len(t, frags, 3)
	assert.Equal(t, FragmentStart, frags[0].Kind)
	assert.True(t, frags[1].Failed)
	assert.Contains(t, frags[1].Text, "401 unauthorized")
	assert.Equal(t, FragmentDone, frags[2].Kind)
}

func TestStream_MidStreamFailure(t *testing.T) {
	st := &sliceStream{chunks: []string{"partial"}, tail: errors.New("connection reset")}
	mc := &mockCompletion{StreamFunc: func(context.Context, port.CompletionRequest) (port.CompletionStream, error) {
		return st, nil
	}}
	frags := collect(t, New(mc, staticPrompt("p"), Config{}).Stream(context.Background(), countRequest()))

	require.Len(t, frags, 4)
	assert.Equal(t, "partial", frags[1].Text)
	assert.False(t, frags[1].Failed)
	assert.True(t, frags[2].Failed)
	assert.Equal(t, FragmentDone, frags[3].Kind)
}

func TestStream_CancelStopsProducer(t *testing.T) {
	block := make(chan struct{})
	mc := &mockCompletion{StreamFunc: func(ctx context.Context, _ port.CompletionRequest) (port.CompletionStream, error) {
		return &blockingStream{ctx: ctx, release: block}, nil
	}}
	ctx, cancel := context.WithCancel(context.Background())
	ch := New(mc, staticPrompt("p"), Config{}).Stream(ctx, countRequest())

	first := <-ch
	assert.Equal(t, FragmentStart, first.Kind)
	cancel()

	frags := collect(t, ch)
	for _, f := range frags {
		assert.NotEqual(t, FragmentText, f.Kind, "取消后不应再输出文本")
	}
	close(block)
}

// blockingStream 在 ctx 取消前一直阻塞
type blockingStream struct {
	ctx     context.Context
	release chan struct{}
}

func (b *blockingStream) Recv() (string, error) {
	select {
	case <-b.ctx.Done():
		return "", b.ctx.Err()
	case <-b.release:
		return "", io.EOF
	}
}

func (b *blockingStream) Close() error { return nil }

func TestDialectNotes(t *testing.T) {
	for _, d := range domain.Dialects() {
		n, err := DialectNotes(d)
		require.NoError(t, err)
		assert.NotEmpty(t, n)
	}
	_, err := DialectNotes(domain.Dialect("db2"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedDialect)
}
