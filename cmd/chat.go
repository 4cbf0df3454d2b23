package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/refdesk/refdesk/internal/answer"
	"github.com/refdesk/refdesk/internal/assistant"
)

// suggestedQuestions prime the session banner so first-time users know
// what the corpus can answer.
var suggestedQuestions = []string{
	"How do idempotency keys work?",
	"What happens when a refund fails?",
	"How long until a payout reaches a bank account?",
	"How do I respond to a dispute?",
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "cleanup: %v\n", err)
		}
	}()

	return chatLoop(ctx, a.Assistant, os.Stdin, os.Stdout)
}

// chatLoop runs the interactive session until EOF, /exit, or a signal.
func chatLoop(ctx context.Context, as *assistant.Assistant, in io.Reader, out io.Writer) error {
	printBanner(out)

	sessionID := ""
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			break
		}
		if ctx.Err() != nil {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/exit" || line == "/quit":
			return nil
		case line == "/new":
			if sessionID != "" {
				as.Sessions().End(sessionID)
			}
			sessionID = ""
			fmt.Fprintln(out, "Started a new conversation.")
			continue
		case line == "/help":
			printHelp(out)
			continue
		case strings.HasPrefix(line, "/"):
			fmt.Fprintf(out, "Unknown command %q. Type /help for commands.\n", line)
			continue
		}

		ans, err := as.AskStream(ctx, sessionID, line, func(_ context.Context, text string) error {
			fmt.Fprint(out, text)
			return nil
		})
		if err != nil {
			if errors.Is(err, answer.ErrUpstream) {
				return fmt.Errorf("model provider failed: %w", err)
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out)
		sessionID = ans.SessionID

		printAnswerFooter(out, ans)
	}

	return scanner.Err()
}

func printAnswerFooter(out io.Writer, ans *assistant.Answer) {
	for _, c := range ans.Citations {
		if c.Source != "" {
			fmt.Fprintf(out, "  [%d] %s (%s)\n", c.Marker, c.Title, c.Source)
		} else {
			fmt.Fprintf(out, "  [%d] %s\n", c.Marker, c.Title)
		}
	}
	switch ans.Status {
	case answer.StatusDegraded:
		fmt.Fprintln(out, "(service degraded, try again shortly)")
	case answer.StatusCancelled:
		fmt.Fprintln(out, "(cancelled)")
	}
	fmt.Fprintln(out)
}

func printBanner(out io.Writer) {
	fmt.Fprintln(out, "refdesk: payments platform documentation Q&A")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Try asking:")
	for _, q := range suggestedQuestions {
		fmt.Fprintf(out, "  - %s\n", q)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Type /help for commands, /exit to quit.")
	fmt.Fprintln(out)
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  /new       Start a new conversation")
	fmt.Fprintln(out, "  /help      Show this help")
	fmt.Fprintln(out, "  /exit      Quit")
}
