// Package chat answers questions over the retrieved context: it assembles
// the RAG prompt, streams the completion from an OpenAI-compatible chat
// endpoint, and reports progress as typed events through a callback. The
// retrieval core has no suspension points; all streaming lives here, at
// the edge.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"ragline/internal/vecindex"
)

// EventType discriminates stream events.
type EventType string

// Event types emitted by AnswerStream, always in the order start, any
// number of deltas, then end — or a single error event.
const (
	EventStart EventType = "start"
	EventDelta EventType = "delta"
	EventEnd   EventType = "end"
	EventError EventType = "error"
)

// Event is one unit of streamed progress.
type Event struct {
	Type EventType `json:"type"`
	// Content carries the answer fragment for delta events and the
	// user-facing fallback text for error events.
	Content string `json:"content,omitempty"`
	// Sources and Confidence accompany the start event: deduplicated
	// source files of the hits and their mean similarity score.
	Sources    []string `json:"sources,omitempty"`
	Confidence float32  `json:"confidence,omitempty"`
	// Elapsed accompanies the end event.
	Elapsed time.Duration `json:"elapsed,omitempty"`
	// Err carries the machine-readable error for error events.
	Err string `json:"error,omitempty"`
}

// Searcher is the slice of the retriever the chat service needs.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, threshold float32) ([]vecindex.QueryResult, error)
}

// Options configures a Service.
type Options struct {
	Model  string
	APIKey string
	// BaseURL selects the OpenAI-compatible endpoint; empty means the
	// official OpenAI API.
	BaseURL     string
	MaxTokens   int
	Temperature float32
	// MaxRetries bounds connection attempts; retries never happen after
	// the first delta has been delivered.
	MaxRetries int
	// TopK and SimilarityThreshold are the retrieval parameters used for
	// every question.
	TopK                int
	SimilarityThreshold float32
}

// User-facing fallback texts, kept in the corpus language.
const (
	noContextAnswer = "抱歉，我在知识库中没有找到相关信息来回答您的问题。"
	failureAnswer   = "抱歉，处理您的问题时遇到了技术问题，请稍后重试。"
)

const promptTemplate = `你是一个专业的AI助手，请基于以下提供的知识库内容来回答用户的问题。

知识库内容：
%s

用户问题：%s

请遵循以下要求：
1. 仅基于提供的知识库内容回答问题
2. 如果知识库中没有相关信息，请明确说明
3. 回答要准确、详细且有条理
4. 使用中文回答
5. 如果可能，请提供具体的例子或解释

回答：`

// Service generates streamed answers. Safe for concurrent use.
type Service struct {
	client    *openai.Client
	retriever Searcher
	opts      Options
}

// NewService validates opts and returns a Service over the given
// retriever.
func NewService(retriever Searcher, opts Options) (*Service, error) {
	if retriever == nil {
		return nil, fmt.Errorf("chat: retriever is required")
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("chat: llm api key is not configured")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("chat: llm model is required")
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	return &Service{
		client:    openai.NewClientWithConfig(cfg),
		retriever: retriever,
		opts:      opts,
	}, nil
}

// AnswerStream retrieves context for question and streams the generated
// answer through fn. Finding nothing relevant is not an error: fn receives
// a terminal error event with a user-facing apology and AnswerStream
// returns nil, leaving presentation to the caller. Retrieval or transport
// failures emit an error event and are also returned.
func (s *Service) AnswerStream(ctx context.Context, question string, fn func(Event)) error {
	start := time.Now()

	hits, err := s.retriever.Search(ctx, question, s.opts.TopK, s.opts.SimilarityThreshold)
	if err != nil {
		fn(Event{Type: EventError, Content: failureAnswer, Err: err.Error()})
		return fmt.Errorf("chat: retrieve context: %w", err)
	}
	if len(hits) == 0 {
		log.Printf("[chat] no relevant context for question (%d chars)", len(question))
		fn(Event{Type: EventError, Content: noContextAnswer, Err: "no relevant documents"})
		return nil
	}

	contexts := make([]string, len(hits))
	var sources []string
	seen := make(map[string]bool)
	var scoreSum float32
	for i, h := range hits {
		contexts[i] = h.Content
		scoreSum += h.Score
		src := h.SourceFile
		if src == "" {
			src = h.ChunkID
		}
		if !seen[src] {
			seen[src] = true
			sources = append(sources, src)
		}
	}

	fn(Event{
		Type:       EventStart,
		Sources:    sources,
		Confidence: scoreSum / float32(len(hits)),
	})

	if err := s.stream(ctx, BuildPrompt(question, contexts), fn); err != nil {
		fn(Event{Type: EventError, Content: failureAnswer, Err: err.Error()})
		return err
	}

	fn(Event{Type: EventEnd, Elapsed: time.Since(start)})
	return nil
}

// stream runs the chat completion and forwards deltas. Connection failures
// are retried with linear backoff; once a delta has reached the caller the
// stream is committed and a mid-stream failure is final, so the caller
// never sees duplicated text.
func (s *Service) stream(ctx context.Context, prompt string, fn func(Event)) error {
	req := openai.ChatCompletionRequest{
		Model:       s.opts.Model,
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
		Stream:      true,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	var lastErr error
	for attempt := 0; attempt < s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Printf("[chat] completion attempt %d/%d after error: %v", attempt+1, s.opts.MaxRetries, lastErr)
			select {
			case <-ctx.Done():
				return fmt.Errorf("chat: %w", ctx.Err())
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		stream, err := s.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}

		delivered, err := forward(ctx, stream, fn)
		stream.Close()
		if err == nil {
			return nil
		}
		if delivered {
			return fmt.Errorf("chat: stream interrupted: %w", err)
		}
		lastErr = err
	}
	return fmt.Errorf("chat: completion failed after %d attempts: %w", s.opts.MaxRetries, lastErr)
}

// forward drains one completion stream into delta events, reporting
// whether any content reached fn.
func forward(ctx context.Context, stream *openai.ChatCompletionStream, fn func(Event)) (bool, error) {
	delivered := false
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return delivered, nil
		}
		if err != nil {
			return delivered, err
		}
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content != "" {
				delivered = true
				fn(Event{Type: EventDelta, Content: choice.Delta.Content})
			}
		}
	}
}

// BuildPrompt exposes the prompt assembly for inspection and tests.
func BuildPrompt(question string, contexts []string) string {
	return fmt.Sprintf(promptTemplate, strings.Join(contexts, "\n\n"), question)
}
