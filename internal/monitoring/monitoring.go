// Package monitoring serves the Prometheus scrape endpoint and a liveness
// probe on their own listener, separate from the validator-facing API.
package monitoring

import (
	"context"
	"net"
	"net/http"

	"github.com/quorsig/quorsig/pkg/lifecycle"
	"github.com/quorsig/quorsig/pkg/logger"
	"github.com/quorsig/quorsig/pkg/metrics"
)

type Server struct {
	addr string
	ln   net.Listener
	srv  *http.Server
}

func New(addr string) *Server { return &Server{addr: addr} }

func (s *Server) Name() string { return "monitoring" }

// Addr returns the bound address, useful when configured with port 0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

func (s *Server) Start(_ context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{Handler: mux}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.ErrorJ("monitoring", map[string]any{"result": "serve_error", "err": err.Error()})
		}
	}()
	logger.InfoJ("monitoring", map[string]any{"result": "ok", "addr": s.Addr()})
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

var _ lifecycle.Service = (*Server)(nil)
