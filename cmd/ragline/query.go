package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	queryTopK      int
	queryThreshold float32
)

// queryCmd retrieves chunks for a question without calling the LLM.
var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Retrieve the most relevant chunks for a question",
	Args:  cobra.MinimumNArgs(1),
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

		question := strings.Join(args, " ")
		if queryThreshold < 0 {
			queryThreshold = cfg.Retrieval.SimilarityThreshold
		}
		results, err := a.retriever.Search(cmd.Context(), question, queryTopK, queryThreshold)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println(styleDim.Render("No chunks above the similarity threshold."))
			return nil
		}

		for i, r := range results {
			header := fmt.Sprintf("%d. %s  score=%.4f", i+1, r.SourceFile, r.Score)
			if h := r.Metadata["heading"]; h != "" {
				header += "  [" + h + "]"
			}
			fmt.Println(styleResultHeader.Render(header))
			fmt.Println(indent(r.Content, "   "))
			fmt.Println()
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of chunks to return (0 = config default)")
	queryCmd.Flags().Float32VarP(&queryThreshold, "threshold", "t", -1, "minimum similarity score (-1 = config default, 0 = no filtering)")
}

func indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
