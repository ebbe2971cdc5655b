package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/fabfab/kb-agent/chat"
	"github.com/fabfab/kb-agent/session"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	sourceStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	promptStyle  = lipgloss.NewStyle().Bold(true)

	confidenceStyles = map[chat.Confidence]lipgloss.Style{
		chat.ConfidenceHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		chat.ConfidenceMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		chat.ConfidenceLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about the indexed documents",
	Long: `Answers one question when given as an argument. Without arguments, starts an
interactive session that keeps conversation history until you type "exit" or send EOF.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		if len(args) == 1 {
			resp, err := a.chat.Answer(ctx, args[0], nil)
			if err != nil {
				return err
			}
			renderResponse(cmd.OutOrStdout(), resp)
			return nil
		}
		return repl(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), a.chat, session.NewMemoryStore(a.cfg.History.MaxTurns))
	})
}

type answerer interface {
	Answer(ctx context.Context, question string, history []session.Turn) (chat.Response, error)
}

// repl reads questions line by line and answers them with the conversation so far.
func repl(ctx context.Context, in io.Reader, out io.Writer, svc answerer, store session.Store) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, promptStyle.Render("? "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		question := strings.TrimSpace(scanner.Text())
		switch question {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		resp, err := svc.Answer(ctx, question, store.Get(session.DefaultID))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		store.Append(session.DefaultID, question, resp.Answer)
		renderResponse(out, resp)
	}
}

func renderResponse(w io.Writer, resp chat.Response) {
	fmt.Fprintln(w, resp.Answer)
	fmt.Fprintln(w)

	style, ok := confidenceStyles[resp.Confidence]
	if !ok {
		style = lipgloss.NewStyle()
	}
	fmt.Fprintf(w, "%s %s\n", headingStyle.Render("Confidence:"), style.Render(string(resp.Confidence)))

	if len(resp.Sources) == 0 {
		return
	}
	fmt.Fprintln(w, headingStyle.Render("Sources:"))
	for i, src := range resp.Sources {
		fmt.Fprintf(w, "%d. %s\n", i+1, src.Source)
		fmt.Fprintf(w, "   %s\n", sourceStyle.Render(oneLine(src.Text)))
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
