// Package server exposes the retrieval pipeline over HTTP: a JSON search
// endpoint, a health endpoint, a WebSocket chat stream, and an optional
// cron-scheduled reindex. It is a thin transport layer; all retrieval and
// generation semantics live behind the Retriever and Answerer interfaces.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"

	"ragline/internal/chat"
	"ragline/internal/retriever"
	"ragline/internal/vecindex"
)

// Retriever is the slice of the retrieval pipeline the server serves.
type Retriever interface {
	Search(ctx context.Context, query string, topK int, threshold float32) ([]vecindex.QueryResult, error)
	Ready() bool
	Stats() retriever.Stats
}

// Answerer streams generated answers; nil disables the chat endpoint.
type Answerer interface {
	AnswerStream(ctx context.Context, question string, fn func(chat.Event)) error
}

// Options configures a Server.
type Options struct {
	Port int
	// ReindexSchedule is a 5-field cron expression; empty disables the
	// scheduled reindex.
	ReindexSchedule string
}

// Server serves search and chat over HTTP and WebSocket.
type Server struct {
	retriever Retriever
	answerer  Answerer
	// reindex rebuilds the index from the corpus; the store's generation
	// swap keeps live queries on the old index until the rebuild lands.
	reindex func(context.Context) error
	opts    Options
}

// New assembles a Server. retriever and opts.Port are required; answerer
// and reindex may be nil, disabling the chat endpoint and the schedule
// respectively.
func New(retr Retriever, answerer Answerer, reindex func(context.Context) error, opts Options) (*Server, error) {
	if retr == nil {
		return nil, fmt.Errorf("server: retriever is required")
	}
	if opts.Port <= 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("server: port %d out of range", opts.Port)
	}
	if opts.ReindexSchedule != "" && reindex == nil {
		return nil, fmt.Errorf("server: reindex schedule set but no reindex function given")
	}
	return &Server{retriever: retr, answerer: answerer, reindex: reindex, opts: opts}, nil
}

// Handler returns the HTTP routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully: the cron
// schedule stops first, listeners close, and in-flight requests drain.
func (s *Server) Run(ctx context.Context) error {
	var c *cron.Cron
	if s.opts.ReindexSchedule != "" {
		c = cron.New()
		if _, err := c.AddFunc(s.opts.ReindexSchedule, func() {
			log.Printf("[server] scheduled reindex starting")
			if err := s.reindex(ctx); err != nil {
				log.Printf("[server] scheduled reindex failed: %v", err)
				return
			}
			log.Printf("[server] scheduled reindex complete: %d vectors", s.retriever.Stats().Vectors)
		}); err != nil {
			return fmt.Errorf("server: invalid reindex schedule %q: %w", s.opts.ReindexSchedule, err)
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[server] listening on %s", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	}
}

type healthResponse struct {
	Status    string `json:"status"`
	Vectors   int    `json:"vectors"`
	Dimension int    `json:"dimension"`
	Structure string `json:"structure"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats := s.retriever.Stats()
	status := "ok"
	if !s.retriever.Ready() {
		status = "empty"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    status,
		Vectors:   stats.Vectors,
		Dimension: stats.Dimension,
		Structure: stats.Structure,
	})
}

type searchRequest struct {
	Query     string  `json:"query"`
	TopK      int     `json:"top_k"`
	Threshold float32 `json:"threshold"`
}

type searchResponse struct {
	Results []vecindex.QueryResult `json:"results"`
	Count   int                    `json:"count"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		http.Error(w, fmt.Sprintf("threshold %g out of range", req.Threshold), http.StatusBadRequest)
		return
	}

	results, err := s.retriever.Search(r.Context(), req.Query, req.TopK, req.Threshold)
	if err != nil {
		log.Printf("[server] search failed: %v", err)
		http.Error(w, "search failed", http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []vecindex.QueryResult{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results, Count: len(results)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] write response: %v", err)
	}
}
