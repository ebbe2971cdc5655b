package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var resetConfirm bool

// stdinIsTerminal is swapped in tests.
var stdinIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

var errResetAborted = errors.New("reset aborted")

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every indexed document",
	Long: `Irreversibly discards the vector collection and recreates it empty. The document
graph is purged too when Neo4j is configured.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetConfirm, "confirm", false, "skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetConfirm {
		if !stdinIsTerminal() {
			return fmt.Errorf("refusing to reset without --confirm when stdin is not a terminal")
		}
		if err := confirm(cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
			return err
		}
	}

	return withApp(func(ctx context.Context, a *app) error {
		if err := a.index.Reset(ctx); err != nil {
			return err
		}
		if a.graph != nil {
			if err := a.graph.Purge(ctx); err != nil {
				return fmt.Errorf("purge knowledge graph: %w", err)
			}
		}
		cmd.Println("knowledge base reset")
		return nil
	})
}

func confirm(in io.Reader, out io.Writer) error {
	fmt.Fprint(out, "This will permanently delete every indexed document. Continue? [y/N]: ")
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read confirmation: %w", err)
		}
		return errResetAborted
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	if answer != "y" && answer != "yes" {
		return errResetAborted
	}
	return nil
}
