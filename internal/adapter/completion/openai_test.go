// file: internal/adapter/completion/openai_test.go
package completion

import (
	"QueryMind/internal/core/port"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFakeOpenAI 启动一个模拟 /v1/chat/completions 的服务器
func newFakeOpenAI(t *testing.T, chunks []string, reply string, status int) (*httptest.Server, *openai.ChatCompletionRequest) {
	t.Helper()
	var last openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &last)

		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream exploded","type":"server_error"}}`))
			return
		}

		if last.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			for i, c := range chunks {
				payload, _ := json.Marshal(map[string]any{
					"id":      fmt.Sprintf("chunk-%d", i),
					"object":  "chat.completion.chunk",
					"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": c}}},
				})
				_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
			}
			_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "resp-1",
			"object": "chat.completion",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &last
}

func TestComplete(t *testing.T) {
	srv, last := newFakeOpenAI(t, nil, "SELECT 1", http.StatusOK)
	client := New(Config{APIKey: "test", BaseURL: srv.URL + "/v1"})

	out, err := client.Complete(context.Background(), port.CompletionRequest{
		Messages:    []port.Message{{Role: port.RoleSystem, Content: "sys"}, {Role: port.RoleUser, Content: "q"}},
		Temperature: 0.1,
		MaxTokens:   500,
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", out)

	assert.Equal(t, DefaultModel, last.Model)
	assert.Equal(t, 500, last.MaxTokens)
	assert.InDelta(t, 0.1, last.Temperature, 0.0001)
	require.Len(t, last.Messages, 2)
	assert.Equal(t, "system", last.Messages[0].Role)
}

func TestComplete_UpstreamError(t *testing.T) {
	srv, _ := newFakeOpenAI(t, nil, "", http.StatusInternalServerError)
	client := New(Config{APIKey: "test", BaseURL: srv.URL + "/v1", Model: "gpt-test"})

	_, err := client.Complete(context.Background(), port.CompletionRequest{
		Messages: []port.Message{{Role: port.RoleUser, Content: "q"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, port.ErrCompletion)
}

func TestStream(t *testing.T) {
	srv, last := newFakeOpenAI(t, []string{"Hel", "", "lo", " world"}, "", http.StatusOK)
	client := New(Config{APIKey: "test", BaseURL: srv.URL + "/v1", Model: "gpt-test"})

	stream, err := client.Stream(context.Background(), port.CompletionRequest{
		Messages:    []port.Message{{Role: port.RoleUser, Content: "q"}},
		Temperature: 0.7,
	})
	require.NoError(t, err)
	defer stream.Close()

	var got []string
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, chunk)
	}
	assert.Equal(t, []string{"Hel", "lo", " world"}, got, "空增量应被跳过，顺序保持不变")
	assert.True(t, last.Stream)
	assert.Equal(t, "gpt-test", last.Model)
}
