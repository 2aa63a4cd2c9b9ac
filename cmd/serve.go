package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/catalogsync/internal/prefs"
	"github.com/sells-group/catalogsync/internal/sched"
	"github.com/sells-group/catalogsync/internal/server"
)

// version is set at build time.
var version = "dev"

const shutdownTimeout = 10 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the session bridge server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		handler := server.New(env.Manager, server.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}).Handler()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return startServer(gctx, handler, resolvePort(servePort, cfg.Server.Port))
		})

		if cfg.Prefs.Watch && cfg.Prefs.Driver == "sqlite" {
			w, err := prefs.WatchFile(cfg.Prefs.Path, cfg.Sync.Debounce(), sched.NewReal(), func(ctx context.Context) {
				if err := env.Manager.Refresh(ctx); err != nil {
					zap.L().Warn("refresh preferences", zap.Error(err))
				}
			})
			if err != nil {
				return err
			}
			g.Go(func() error { return w.Run(gctx) })
		}

		return g.Wait()
	},
}

// resolvePort returns the flag port when set, else the configured one.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves handler on port until ctx is done, then shuts down
// gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- eris.Wrap(err, "server listen")
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return <-errCh
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
