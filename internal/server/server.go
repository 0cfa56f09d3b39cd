// Package server exposes supervisor state and commands over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/watchdogd/internal/metrics"
)

// NewHTTPServer wraps h with the timeouts every listener uses.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// commands wait for a stop to finish
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

// NewMetricsServer serves g on /metrics.
func NewMetricsServer(addr string, g prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HandlerFor(g))
	return NewHTTPServer(addr, mux)
}

// MountEcho routes the API under the router's base path of an echo instance.
func MountEcho(e *echo.Echo, r *Router) {
	h := echo.WrapHandler(r.Handler())
	base := r.BasePath()
	if base == "" {
		e.Any("/*", h)
		return
	}
	e.Any(base, h)
	e.Any(base+"/*", h)
}

// Serve listens on srv.Addr and serves until ctx is done, then shuts the
// server down within grace. Bind errors are returned directly.
func Serve(ctx context.Context, srv *http.Server, grace time.Duration, log *slog.Logger) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, srv, ln, grace, log)
}

// ServeListener is Serve on an existing listener.
func ServeListener(ctx context.Context, srv *http.Server, ln net.Listener, grace time.Duration, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.Info("http listener started", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		_ = srv.Close()
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("http listener stopped", "addr", ln.Addr().String())
	return nil
}
