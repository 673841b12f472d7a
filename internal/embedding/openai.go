package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Compile-time interface check.
var _ Embedder = (*OpenAIEmbedder)(nil)

const (
	defaultOpenAIModel = "text-embedding-3-small"
	defaultDimensions  = 1536
	maxRetries         = 3
)

// OpenAIEmbedder implements Embedder against an OpenAI-compatible
// embeddings endpoint. Transient failures (429, 5xx, transport errors)
// are retried with exponential backoff; other API errors fail fast.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	// requestDims is forwarded to the API only when the caller configured
	// an explicit dimension; compatible providers that predate the
	// parameter reject it otherwise.
	requestDims int
}

// OpenAIOptions configures an OpenAIEmbedder.
type OpenAIOptions struct {
	APIKey string
	// BaseURL overrides the endpoint for OpenAI-compatible providers.
	// Empty means the official API.
	BaseURL string
	// Model can be empty (defaults to "text-embedding-3-small").
	Model string
	// Dimensions can be 0 (defaults to 1536).
	Dimensions int
}

// NewOpenAIEmbedder creates a new OpenAI embedding provider.
func NewOpenAIEmbedder(opts OpenAIOptions) *OpenAIEmbedder {
	requestDims := opts.Dimensions
	if opts.Model == "" {
		opts.Model = defaultOpenAIModel
	}
	if opts.Dimensions <= 0 {
		opts.Dimensions = defaultDimensions
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	return &OpenAIEmbedder{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		dimensions:  opts.Dimensions,
		requestDims: requestDims,
	}
}

func (o *OpenAIEmbedder) Name() string    { return "openai:" + o.model }
func (o *OpenAIEmbedder) Dimensions() int { return o.dimensions }

// Embed sends texts to the embeddings API and returns one raw vector per
// input, in input order.
func (o *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(o.model),
		Input: texts,
	}
	if o.requestDims > 0 {
		req.Dimensions = o.requestDims
	}

	var resp openai.EmbeddingResponse
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 1s, 2s, 4s
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrEmbedding, ctx.Err())
			case <-time.After(backoff):
			}
		}

		var err error
		resp, err = o.client.CreateEmbeddings(ctx, req)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = fmt.Errorf("%w: %s: %v", ErrEmbedding, o.model, err)
		if !retryable(err) {
			return nil, lastErr
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrEmbedding, len(resp.Data), len(texts))
	}
	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// retryable reports whether err is worth another attempt: rate limits,
// server errors, and transport failures are; other client errors are not.
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}
