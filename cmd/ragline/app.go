package main

import (
	"context"
	"fmt"
	"log"

	"ragline/internal/chat"
	"ragline/internal/chunker"
	"ragline/internal/config"
	"ragline/internal/corpus"
	"ragline/internal/embedding"
	"ragline/internal/retriever"
	"ragline/internal/vecindex"
)

// app holds the wired pipeline for one command invocation.
type app struct {
	cfg       *config.Config
	retriever *retriever.Retriever
	loader    *corpus.Loader
	splitter  *chunker.Splitter
}

// newApp wires embedder, store, retriever, loader, and splitter from the
// configuration. Construction fails fast on invalid parameters; nothing
// touches the network until an operation runs.
func newApp(cfg *config.Config) (*app, error) {
	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	store, err := vecindex.NewStore(cfg.StoreOptions())
	if err != nil {
		return nil, err
	}
	retr, err := retriever.New(embedder, store, cfg.RetrieverOptions())
	if err != nil {
		return nil, err
	}
	loader, err := corpus.NewLoader(cfg.CorpusOptions())
	if err != nil {
		return nil, err
	}
	splitter, err := chunker.New(cfg.ChunkerOptions())
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, retriever: retr, loader: loader, splitter: splitter}, nil
}

func buildEmbedder(cfg *config.Config) (embedding.Embedder, error) {
	switch cfg.Embedding.Provider {
	case config.ProviderOpenAI:
		return embedding.NewOpenAIEmbedder(embedding.OpenAIOptions{
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		}), nil
	default:
		return embedding.NewHashEmbedder(cfg.Embedding.Dimensions)
	}
}

// chatService builds the answer generator; it needs the LLM API key and
// is only constructed by the commands that generate text.
func (a *app) chatService() (*chat.Service, error) {
	return chat.NewService(a.retriever, chat.Options{
		Model:               a.cfg.LLM.Model,
		APIKey:              a.cfg.LLM.APIKey,
		BaseURL:             a.cfg.LLM.BaseURL,
		MaxTokens:           a.cfg.LLM.MaxTokens,
		Temperature:         a.cfg.LLM.Temperature,
		MaxRetries:          a.cfg.LLM.MaxRetries,
		TopK:                a.cfg.Retrieval.TopK,
		SimilarityThreshold: a.cfg.Retrieval.SimilarityThreshold,
	})
}

// corpusChunks loads every document and splits it.
func (a *app) corpusChunks() ([]chunker.Chunk, int, error) {
	docs, err := a.loader.LoadAll()
	if err != nil {
		return nil, 0, err
	}
	var chunks []chunker.Chunk
	for _, doc := range docs {
		chunks = append(chunks, a.splitter.Split(doc.Content, doc.Path, doc.Metadata)...)
	}
	return chunks, len(docs), nil
}

// rebuildIndex chunks the corpus, builds a fresh index generation, and
// persists it.
func (a *app) rebuildIndex(ctx context.Context) error {
	chunks, docCount, err := a.corpusChunks()
	if err != nil {
		return err
	}
	log.Printf("[ragline] %d documents -> %d chunks", docCount, len(chunks))
	if err := a.retriever.BuildIndex(ctx, chunks); err != nil {
		return err
	}
	return a.retriever.SaveIndex(ctx, a.cfg.Paths.Index)
}

// ensureIndex loads the persisted index, falling back to a fresh build
// when no index file exists yet.
func (a *app) ensureIndex(ctx context.Context) error {
	ok, err := a.retriever.LoadIndex(ctx, a.cfg.Paths.Index)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	log.Printf("[ragline] no index at %s, building from corpus", a.cfg.Paths.Index)
	return a.rebuildIndex(ctx)
}

// requireIndex loads the persisted index and refuses to continue without
// one, for commands where an implicit rebuild would be surprising.
func (a *app) requireIndex(ctx context.Context) error {
	ok, err := a.retriever.LoadIndex(ctx, a.cfg.Paths.Index)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no index at %s, run \"ragline index\" first", a.cfg.Paths.Index)
	}
	return nil
}
