package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ragline/internal/chat"
)

// exitWords end the REPL.
var exitWords = map[string]bool{
	"quit": true,
	"exit": true,
	"q":    true,
	"退出":   true,
}

// chatCmd runs the interactive question-answering loop.
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive question answering over the knowledge base",
	Long: `Start an interactive loop: each question is answered from the indexed
corpus with a streamed LLM response. The persisted index is loaded if
present, otherwise it is built from the corpus first.`,
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
		svc, err := a.chatService()
		if err != nil {
			return err
		}
		if err := a.ensureIndex(cmd.Context()); err != nil {
			return err
		}

		stats := a.retriever.Stats()
		fmt.Println(styleBanner.Render("ragline - 本地知识库问答"))
		fmt.Println(styleDim.Render(fmt.Sprintf("%d chunks indexed | model %s | quit/exit/退出 to leave",
			stats.Vectors, cfg.LLM.Model)))
		fmt.Println()

		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for {
			fmt.Print(stylePrompt.Render("问题> "))
			if !scanner.Scan() {
				fmt.Println()
				return scanner.Err()
			}
			question := strings.TrimSpace(scanner.Text())
			if question == "" {
				continue
			}
			if exitWords[strings.ToLower(question)] {
				fmt.Println(styleDim.Render("再见！"))
				return nil
			}

			streamAnswer(cmd, svc, question)
			fmt.Println()
		}
	},
}

// streamAnswer runs one question through the chat service and renders its
// events. Errors are shown inline; the REPL keeps going.
func streamAnswer(cmd *cobra.Command, svc *chat.Service, question string) {
	err := svc.AnswerStream(cmd.Context(), question, func(e chat.Event) {
		switch e.Type {
		case chat.EventStart:
			fmt.Println(styleSources.Render(fmt.Sprintf("来源: %s (置信度 %.2f)",
				strings.Join(e.Sources, ", "), e.Confidence)))
		case chat.EventDelta:
			fmt.Print(e.Content)
		case chat.EventEnd:
			fmt.Println()
			fmt.Println(styleDim.Render(fmt.Sprintf("(%.2fs)", e.Elapsed.Seconds())))
		case chat.EventError:
			fmt.Println(styleError.Render(e.Content))
		}
	})
	if err != nil {
		fmt.Println(styleError.Render(fmt.Sprintf("error: %v", err)))
	}
}
