package transport

import (
	"context"

	"github.com/quorsig/quorsig/pkg/logger"
)

// New constructs the transport selected by cfg.Mode. Unknown modes degrade to
// NoopTransport so a bad config cannot keep the node from starting.
func New(cfg NetConfig) (Transport, error) {
	switch cfg.Mode {
	case ModeRelay:
		return NewRelay(cfg.RelayURL), nil
	case ModeP2P:
		return BuildP2P(cfg)
	case "", ModeNone:
		return &NoopTransport{}, nil
	default:
		logger.WarnJ("transport", map[string]any{"result": "unknown_mode", "mode": cfg.Mode})
		return &NoopTransport{}, nil
	}
}

// StartIfConfigured builds and starts the configured transport. A transport
// that fails to start degrades to NoopTransport; ceremony and signing runners
// then operate on local state only.
func StartIfConfigured(ctx context.Context, cfg NetConfig) (Transport, error) {
	t, err := New(cfg)
	if err != nil {
		logger.ErrorJ("transport", map[string]any{"result": "build_error", "mode": cfg.Mode, "err": err.Error()})
		return &NoopTransport{}, nil
	}
	if err := t.Start(ctx); err != nil {
		logger.ErrorJ("transport", map[string]any{"result": "start_error", "mode": cfg.Mode, "err": err.Error()})
		return &NoopTransport{}, nil
	}
	return t, nil
}
