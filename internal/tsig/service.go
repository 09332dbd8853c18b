package tsig

import (
	"context"
	"time"

	"github.com/quorsig/quorsig/pkg/lifecycle"
	"github.com/quorsig/quorsig/pkg/logger"
	"github.com/quorsig/quorsig/pkg/metrics"
)

// Service is the coordinator's lifecycle wrapper. Ceremony bootstrap lives in
// the node binary; the service only reports state and releases resources on
// shutdown.
type Service struct{ coord *Coordinator }

func NewService(c *Coordinator) *Service { return &Service{coord: c} }

func (s *Service) Name() string { return "tsig" }

// Coordinator exposes the wrapped coordinator to other services.
func (s *Service) Coordinator() *Coordinator { return s.coord }

func (s *Service) Start(ctx context.Context) error {
	begin := time.Now()
	state := s.coord.State()
	dur := time.Since(begin).Milliseconds()
	logger.InfoJ("service_op", map[string]any{
		"service": "tsig", "op": "start", "result": "ok",
		"state": string(state), "epoch": s.coord.Epoch(), "latency_ms": dur,
	})
	metrics.ObserveSummary("service_op_ms", map[string]string{"service": "tsig", "op": "start"}, float64(dur))
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	begin := time.Now()
	s.coord.Close()
	dur := time.Since(begin).Milliseconds()
	logger.InfoJ("service_op", map[string]any{
		"service": "tsig", "op": "stop", "result": "ok", "latency_ms": dur,
	})
	metrics.ObserveSummary("service_op_ms", map[string]string{"service": "tsig", "op": "stop"}, float64(dur))
	return nil
}

var _ lifecycle.Service = (*Service)(nil)
