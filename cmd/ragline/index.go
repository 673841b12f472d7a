package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// indexCmd rebuilds the vector index from the document corpus.
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the vector index from the document corpus",
	Long: `Load every markdown document from the configured corpus directory,
split it into chunks, embed the chunks, and persist the resulting vector
index. Any existing index is replaced.`,
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

		if err := a.rebuildIndex(cmd.Context()); err != nil {
			return err
		}

		stats := a.retriever.Stats()
		fmt.Printf("Indexed %d chunks (dimension %d, %s structure) -> %s\n",
			stats.Vectors, stats.Dimension, stats.Structure, cfg.Paths.Index)
		return nil
	},
}

// statsCmd prints statistics about the persisted index.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		if err := a.requireIndex(cmd.Context()); err != nil {
			return err
		}

		stats := a.retriever.Stats()
		fmt.Printf("Index:     %s\n", cfg.Paths.Index)
		fmt.Printf("Vectors:   %d\n", stats.Vectors)
		fmt.Printf("Dimension: %d\n", stats.Dimension)
		fmt.Printf("Structure: %s\n", stats.Structure)
		fmt.Printf("Embedder:  %s\n", stats.Embedder)
		return nil
	},
}
