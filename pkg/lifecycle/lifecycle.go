package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/quorsig/quorsig/pkg/logger"
	"github.com/quorsig/quorsig/pkg/metrics"
)

// Service is a long-lived component with ordered startup and shutdown.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager starts services in registration order and stops them in reverse.
type Manager struct {
	services []Service
	started  []Service
}

func New() *Manager { return &Manager{} }

func (m *Manager) Add(s Service) { m.services = append(m.services, s) }

// StartAll starts every registered service. On the first failure it stops the
// services already started, in reverse order, and returns the failure.
func (m *Manager) StartAll(ctx context.Context) error {
	for _, s := range m.services {
		begin := time.Now()
		if err := s.Start(ctx); err != nil {
			logger.ErrorJ("lifecycle", map[string]any{
				"event":   "start_failed",
				"service": s.Name(),
				"error":   err.Error(),
			})
			metrics.Inc("lifecycle_ops_total", map[string]string{"op": "start", "result": "error"})
			m.stopStarted(ctx)
			return fmt.Errorf("start %s: %w", s.Name(), err)
		}
		m.started = append(m.started, s)
		logger.InfoJ("lifecycle", map[string]any{
			"event":      "started",
			"service":    s.Name(),
			"latency_ms": time.Since(begin).Milliseconds(),
		})
		metrics.Inc("lifecycle_ops_total", map[string]string{"op": "start", "result": "ok"})
	}
	return nil
}

// StopAll stops started services in reverse order, collecting the first error.
func (m *Manager) StopAll(ctx context.Context) error {
	return m.stopStarted(ctx)
}

func (m *Manager) stopStarted(ctx context.Context) error {
	var firstErr error
	for i := len(m.started) - 1; i >= 0; i-- {
		s := m.started[i]
		begin := time.Now()
		if err := s.Stop(ctx); err != nil {
			logger.ErrorJ("lifecycle", map[string]any{
				"event":   "stop_failed",
				"service": s.Name(),
				"error":   err.Error(),
			})
			metrics.Inc("lifecycle_ops_total", map[string]string{"op": "stop", "result": "error"})
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", s.Name(), err)
			}
			continue
		}
		logger.InfoJ("lifecycle", map[string]any{
			"event":      "stopped",
			"service":    s.Name(),
			"latency_ms": time.Since(begin).Milliseconds(),
		})
		metrics.Inc("lifecycle_ops_total", map[string]string{"op": "stop", "result": "ok"})
	}
	m.started = nil
	return firstErr
}
