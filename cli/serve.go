package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fabfab/kb-agent/api"
	"github.com/fabfab/kb-agent/session"
	"github.com/fabfab/kb-agent/watcher"
)

const shutdownTimeout = 10 * time.Second

var (
	serveAddr     string
	serveWatchDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serves /upload, /query, /reset and /healthz. With --watch, files dropped into
the directory are indexed as well.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from HTTP_ADDR)")
	serveCmd.Flags().StringVar(&serveWatchDir, "watch", "", "directory to watch for new documents (default from WATCH_DIR)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		addr := serveAddr
		if addr == "" {
			addr = a.cfg.HTTPAddr
		}
		watchDir := serveWatchDir
		if watchDir == "" {
			watchDir = a.cfg.WatchDir
		}
		if a.cfg.ResetToken == "" {
			a.logger.Printf("RESET_TOKEN not set, /reset is disabled")
		}

		srv := api.New(a.ingestion, a.chat, a.index, session.NewMemoryStore(a.cfg.History.MaxTurns), a.graphPurger(),
			api.Options{ResetToken: a.cfg.ResetToken, MaxUploadBytes: a.cfg.MaxUploadBytes}, a.logger)
		httpServer := &http.Server{
			Addr:              addr,
			Handler:           srv,
			ReadHeaderTimeout: 10 * time.Second,
		}

		var w *watcher.Watcher
		if watchDir != "" {
			var err error
			if w, err = watcher.New(a.ingestion, watcher.DefaultSettle, a.logger); err != nil {
				return err
			}
			defer w.Close()
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			a.logger.Printf("listening on %s", addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})

		if w != nil {
			g.Go(func() error {
				return w.Run(gctx, watchDir)
			})
		}

		return g.Wait()
	})
}
