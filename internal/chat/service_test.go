package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragline/internal/vecindex"
)

type stubSearcher struct {
	hits []vecindex.QueryResult
	err  error
}

func (s *stubSearcher) Search(context.Context, string, int, float32) ([]vecindex.QueryResult, error) {
	return s.hits, s.err
}

// streamServer emulates an OpenAI-compatible streaming chat endpoint,
// failing the first failures requests with a 500.
func streamServer(t *testing.T, deltas []string, failures int32) *httptest.Server {
	t.Helper()
	var calls int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= failures {
			http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusInternalServerError)
			return
		}
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, true, req["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range deltas {
			chunk := map[string]any{
				"id":      "cmpl-1",
				"object":  "chat.completion.chunk",
				"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": d}}},
			}
			data, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func newService(t *testing.T, searcher Searcher, baseURL string, maxRetries int) *Service {
	t.Helper()
	svc, err := NewService(searcher, Options{
		Model:      "deepseek-chat",
		APIKey:     "test-key",
		BaseURL:    baseURL,
		MaxRetries: maxRetries,
		TopK:       5,
	})
	require.NoError(t, err)
	return svc
}

func hits() []vecindex.QueryResult {
	return []vecindex.QueryResult{
		{ChunkID: "a", Content: "深度学习是机器学习的子集。", SourceFile: "docs/ml.md", Score: 0.9},
		{ChunkID: "b", Content: "机器学习是AI的分支。", SourceFile: "docs/ml.md", Score: 0.7},
		{ChunkID: "c", Content: "向量检索返回最近邻。", SourceFile: "docs/search.md", Score: 0.5},
	}
}

func TestAnswerStream_EventSequence(t *testing.T) {
	srv := streamServer(t, []string{"深度学习", "是一种方法。"}, 0)
	defer srv.Close()

	svc := newService(t, &stubSearcher{hits: hits()}, srv.URL+"/v1", 3)

	var events []Event
	err := svc.AnswerStream(context.Background(), "什么是深度学习", func(e Event) {
		events = append(events, e)
	})
	require.NoError(t, err)
	require.Len(t, events, 4)

	assert.Equal(t, EventStart, events[0].Type)
	assert.Equal(t, []string{"docs/ml.md", "docs/search.md"}, events[0].Sources)
	assert.InDelta(t, 0.7, events[0].Confidence, 1e-4)

	assert.Equal(t, EventDelta, events[1].Type)
	assert.Equal(t, "深度学习", events[1].Content)
	assert.Equal(t, EventDelta, events[2].Type)
	assert.Equal(t, "是一种方法。", events[2].Content)

	assert.Equal(t, EventEnd, events[3].Type)
	assert.Greater(t, events[3].Elapsed.Nanoseconds(), int64(0))
}

func TestAnswerStream_NoContextIsNotAnError(t *testing.T) {
	svc := newService(t, &stubSearcher{}, "http://127.0.0.1:0/v1", 1)

	var events []Event
	err := svc.AnswerStream(context.Background(), "无关问题", func(e Event) {
		events = append(events, e)
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Equal(t, noContextAnswer, events[0].Content)
}

func TestAnswerStream_RetrievalFailure(t *testing.T) {
	svc := newService(t, &stubSearcher{err: errors.New("index offline")}, "http://127.0.0.1:0/v1", 1)

	var events []Event
	err := svc.AnswerStream(context.Background(), "问题", func(e Event) {
		events = append(events, e)
	})
	require.Error(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Equal(t, failureAnswer, events[0].Content)
}

func TestAnswerStream_RetriesThenSucceeds(t *testing.T) {
	srv := streamServer(t, []string{"答案"}, 1)
	defer srv.Close()

	svc := newService(t, &stubSearcher{hits: hits()}, srv.URL+"/v1", 3)

	var deltas []string
	err := svc.AnswerStream(context.Background(), "问题", func(e Event) {
		if e.Type == EventDelta {
			deltas = append(deltas, e.Content)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"答案"}, deltas)
}

func TestAnswerStream_ExhaustedRetries(t *testing.T) {
	srv := streamServer(t, nil, 10)
	defer srv.Close()

	svc := newService(t, &stubSearcher{hits: hits()}, srv.URL+"/v1", 2)

	var last Event
	err := svc.AnswerStream(context.Background(), "问题", func(e Event) { last = e })
	require.Error(t, err)
	assert.Equal(t, EventError, last.Type)
	assert.Equal(t, failureAnswer, last.Content)
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(nil, Options{Model: "m", APIKey: "k"})
	assert.Error(t, err)

	_, err = NewService(&stubSearcher{}, Options{Model: "m"})
	assert.Error(t, err, "missing api key must fail fast")

	_, err = NewService(&stubSearcher{}, Options{APIKey: "k"})
	assert.Error(t, err, "missing model must fail fast")
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("什么是深度学习", []string{"上下文一", "上下文二"})
	assert.Contains(t, prompt, "上下文一\n\n上下文二")
	assert.Contains(t, prompt, "用户问题：什么是深度学习")
	assert.True(t, strings.Contains(prompt, "知识库内容"))
}
