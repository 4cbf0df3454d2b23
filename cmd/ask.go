package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/refdesk/refdesk/internal/answer"
	"github.com/refdesk/refdesk/internal/assistant"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single question and exit",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "cleanup: %v\n", err)
		}
	}()

	question := strings.Join(args, " ")

	ans, err := a.Assistant.AskStream(ctx, "", question, func(_ context.Context, text string) error {
		fmt.Print(text)
		return nil
	})
	if err != nil {
		return fmt.Errorf("answering question: %w", err)
	}
	fmt.Println()

	printCitations(ans)
	return nil
}

// printCitations lists the sources the answer actually referenced.
func printCitations(ans *assistant.Answer) {
	if len(ans.Citations) == 0 {
		return
	}
	fmt.Println()
	fmt.Println("Sources:")
	for _, c := range ans.Citations {
		if c.Source != "" {
			fmt.Printf("  [%d] %s (%s)\n", c.Marker, c.Title, c.Source)
		} else {
			fmt.Printf("  [%d] %s\n", c.Marker, c.Title)
		}
	}
	if ans.Status == answer.StatusDegraded {
		fmt.Fprintln(os.Stderr, "note: answer service degraded")
	}
}
