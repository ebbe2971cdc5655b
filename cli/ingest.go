package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fabfab/kb-agent/ingestion"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>...",
	Short: "Index PDF and TXT files",
	Long: `Indexes the given files. Directories are walked recursively and every PDF or
TXT file inside is indexed; failures are reported per file.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		var failed int
		for _, path := range args {
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("stat %s: %w", path, err)
			}

			if info.IsDir() {
				results, err := a.ingestion.IngestDirectory(ctx, path)
				if err != nil {
					return err
				}
				for _, res := range results {
					printResult(cmd, res, 0)
				}
				continue
			}

			res, err := a.ingestion.IngestFile(ctx, path, "")
			if err != nil {
				failed++
				cmd.PrintErrf("%s: %v\n", path, err)
				continue
			}
			printResult(cmd, res, info.Size())
		}

		if failed > 0 {
			return fmt.Errorf("%d file(s) failed to index", failed)
		}
		return nil
	})
}

func printResult(cmd *cobra.Command, res ingestion.Result, size int64) {
	if size > 0 {
		cmd.Printf("indexed %s (%s, %d chunks)\n", res.Filename, humanize.Bytes(uint64(size)), res.Chunks)
		return
	}
	cmd.Printf("indexed %s (%d chunks)\n", res.Filename, res.Chunks)
}
