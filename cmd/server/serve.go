package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/warp/debt-ledger/api"
	"github.com/warp/debt-ledger/auth"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API and the maintenance scheduler.

On SIGINT/SIGTERM the server stops accepting connections, waits up to 30s
for active requests, stops the scheduler and closes the store.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("port", 8080, "HTTP server port (env HTTP_PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, phone := range a.cfg.AdminPhones {
		if _, err := a.auth.EnsureUser(ctx, phone, "", auth.RoleAdmin); err != nil {
			return err
		}
	}

	handler := api.NewHandler(a.ledger, a.auth, a.log)
	handler.Ping = a.store.Ping
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: a.cfg.CORSOrigins,
		RequestTimeout: a.cfg.RequestTimeout,
	})

	scheduler := api.NewScheduler(a.ledger, a.auth, a.log)
	if a.cfg.SchedulerEnabled {
		if err := scheduler.Start(api.SchedulerConfig{
			SessionPurge:  a.cfg.SessionPurgeSchedule,
			OverdueDigest: a.cfg.OverdueDigestSchedule,
		}); err != nil {
			return err
		}
		defer scheduler.Stop()
	}

	server := &http.Server{
		Addr:         a.cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithFields(logrus.Fields{
			"addr":   server.Addr,
			"driver": a.store.Driver(),
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	a.log.Info("server stopped")
	return nil
}
