package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/cashback-settlement/internal/audit"
	"github.com/frahmantamala/cashback-settlement/internal/batch"
	"github.com/frahmantamala/cashback-settlement/internal/session"
	"github.com/frahmantamala/cashback-settlement/internal/transport"
	"github.com/frahmantamala/cashback-settlement/internal/transport/rest"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

func startHTTPServer() {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	app, err := newApplication(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()
	app.startNotifications()

	router := setupRoutes(app)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	app.logger.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		app.logger.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			app.logger.Error("Server shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			app.logger.Error("Server failed to start", "error", err)
			return
		}
	}

	app.logger.Info("Server stopped")
}

func setupRoutes(app *application) *chi.Mux {
	router := chi.NewRouter()
	base := transport.NewBaseHandler(app.logger)

	handlers := rest.Handlers{
		Health:  rest.NewHealthHandler(app.db.DB, app.redis),
		Batch:   batch.NewHandler(base, app.batches),
		Session: session.NewHandler(base, app.sessions, app.sweepRunner(), app.cfg.Verification.MaxUploadBytes),
		Audit:   audit.NewHandler(base, app.audit),
	}
	if app.cfg.Observability.Metrics.Enabled {
		handlers.Metrics = app.metrics.Handler()
		handlers.MetricsPath = app.cfg.Observability.Metrics.Path
	}

	rest.RegisterAllRoutes(router, handlers, app.tokens, app.logger)
	if app.memFiles != nil {
		router.Handle("/files/*", app.memFiles)
	}
	return router
}
