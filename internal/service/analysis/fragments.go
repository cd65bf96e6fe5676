// file: internal/service/analysis/fragments.go
package analysis

import (
	"QueryMind/internal/core/port"
	"context"
	"errors"
	"io"
	"log/slog"
)

// StreamCompletion 把一次流式补全转换为片段序列：Start、若干非空 Text、Done。
// build 在 Start 之后调用；任何失败都转成一个 Failed 片段（文本由 failureText 给出）再接 Done。
// channel 容量为 queueSize，生产者结束后关闭；ctx 取消时不再输出 Done。
func StreamCompletion(
	ctx context.Context,
	completion port.CompletionService,
	queueSize int,
	build func() (port.CompletionRequest, error),
	failureText func(error) string,
) <-chan Fragment {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	out := make(chan Fragment, queueSize)
	go func() {
		defer close(out)
		produce(ctx, completion, build, failureText, out)
	}()
	return out
}

func produce(
	ctx context.Context,
	completion port.CompletionService,
	build func() (port.CompletionRequest, error),
	failureText func(error) string,
	out chan<- Fragment,
) {
	send := func(f Fragment) bool {
		select {
		case out <- f:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		slog.Error("流式补全失败", "error", err)
		if send(Fragment{Kind: FragmentText, Text: failureText(err), Failed: true}) {
			send(Fragment{Kind: FragmentDone})
		}
	}

	if !send(Fragment{Kind: FragmentStart}) {
		return
	}

	req, err := build()
	if err != nil {
		fail(err)
		return
	}
	stream, err := completion.Stream(ctx, req)
	if err != nil {
		fail(err)
		return
	}
	defer func() { _ = stream.Close() }()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fail(err)
			return
		}
		if chunk == "" {
			continue
		}
		if !send(Fragment{Kind: FragmentText, Text: chunk}) {
			return
		}
	}
	send(Fragment{Kind: FragmentDone})
}
