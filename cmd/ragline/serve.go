package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ragline/internal/server"
)

// serveCmd runs the HTTP/WebSocket server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve search and chat over HTTP and WebSocket",
	Long: `Run ragline as a server: GET /healthz for status, POST /api/search for
retrieval, and GET /ws for streamed question answering. An optional cron
schedule rebuilds the index from the corpus while queries keep being
served from the previous index generation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.EnsureDataDirs(); err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		if err := a.ensureIndex(cmd.Context()); err != nil {
			return err
		}

		// Chat is optional in serve mode: without an LLM key the search
		// and health endpoints still work.
		var answerer server.Answerer
		if svc, err := a.chatService(); err == nil {
			answerer = svc
		} else {
			log.Printf("[ragline] chat disabled: %v", err)
		}

		srv, err := server.New(a.retriever, answerer, a.rebuildIndex, server.Options{
			Port:            cfg.Server.Port,
			ReindexSchedule: cfg.Server.ReindexSchedule,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return srv.Run(ctx)
	},
}
