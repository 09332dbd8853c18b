// quorsig-relay is a standalone websocket fan-out relay for committees whose
// nodes cannot reach each other directly. It forwards every frame to every
// other connected client and carries no protocol state; message authenticity
// is enforced end-to-end by the nodes themselves.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/quorsig/quorsig/internal/transport"
	"github.com/quorsig/quorsig/pkg/logger"
	"github.com/quorsig/quorsig/pkg/metrics"
)

func main() {
	var listen string
	flag.StringVar(&listen, "listen", "127.0.0.1:4740", "Listen address")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	hub := transport.NewRelayHub()
	mux := http.NewServeMux()
	mux.Handle("/", hub)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: listen, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	logger.InfoJ("relay", map[string]any{"result": "ok", "addr": listen})
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(err.Error())
		os.Exit(1)
	}
}
