package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/vk/patchgridgo/internal/ctxlog"
)

// healthHandler answers liveness probes.
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// startServer runs the health and metrics HTTP server on addr. An empty addr
// disables it.
func (a *App) startServer(ctx context.Context, addr string) error {
	logger := ctxlog.FromContext(ctx)
	if addr == "" {
		logger.Debug("Metrics server not started: disabled.")
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.healthHandler)
	mux.Handle("/metrics", a.metrics.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	a.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	a.serverAddr = ln.Addr().String()

	go func() {
		logger.Info("🩺 Metrics server starting.", "address", "http://"+a.serverAddr)
		// Serve returns ErrServerClosed on graceful shutdown.
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed unexpectedly.", "error", err)
		}
	}()
	return nil
}

// closeServer shuts the server down, waiting up to five seconds for open
// requests.
func (a *App) closeServer(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	if a.httpServer == nil {
		logger.Debug("Metrics server was not running.")
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	logger.Info("🩺 Shutting down metrics server...")
	err := a.httpServer.Shutdown(shutdownCtx)
	a.httpServer = nil
	if err != nil {
		logger.Error("Metrics server shutdown failed.", "error", err)
		return err
	}
	logger.Debug("Metrics server shut down gracefully.")
	return nil
}
