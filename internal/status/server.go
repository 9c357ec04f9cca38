// internal/status/server.go
package status

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalnine/trapsender/internal/config"
	"github.com/signalnine/trapsender/internal/history"
)

// Server exposes health, metrics and exchange history over HTTP
type Server struct {
	cfg    config.StatusConfig
	logger *slog.Logger
	server *http.Server
}

// NewServer creates a status server. db may be nil when history is disabled.
func NewServer(cfg config.StatusConfig, db *history.DB, metrics *Metrics, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	}
	mux.Handle("/results", NewResultsHandler(db, cfg.APIKey, logger))

	return &Server{
		cfg:    cfg,
		logger: logger,
		server: &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Handler returns the routing handler, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	addr, errCh, err := s.start(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("status server listening", "addr", addr, "tls", s.cfg.TLSCert != "")
	return <-errCh
}

// RunAndGetAddr starts serving in the background and returns the bound
// address once the listener is up. The server stops when ctx is cancelled.
func (s *Server) RunAndGetAddr(ctx context.Context) (string, error) {
	addr, errCh, err := s.start(ctx)
	if err != nil {
		return "", err
	}
	go func() {
		if err := <-errCh; err != nil {
			s.logger.Error("status server stopped", "error", err)
		}
	}()
	return addr, nil
}

func (s *Server) start(ctx context.Context) (string, <-chan error, error) {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return "", nil, fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}

	if s.cfg.TLSCert != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCert, s.cfg.TLSKey)
		if err != nil {
			ln.Close()
			return "", nil, fmt.Errorf("load TLS cert: %w", err)
		}
		s.server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		ln = tls.NewListener(ln, s.server.TLSConfig)
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	done := make(chan error, 1)
	go func() {
		select {
		case <-ctx.Done():
			s.logger.Info("status server shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			done <- s.server.Shutdown(shutdownCtx)
		case err, ok := <-serveErr:
			if ok {
				done <- err
			} else {
				done <- nil
			}
		}
	}()

	return ln.Addr().String(), done, nil
}
