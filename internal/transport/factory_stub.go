//go:build !p2p

package transport

import (
	"github.com/quorsig/quorsig/pkg/logger"
)

// BuildP2P returns a NoopTransport when built without the 'p2p' tag.
func BuildP2P(_ NetConfig) (Transport, error) {
	logger.Warn("p2p transport requested but 'p2p' build tag not enabled; using NoopTransport")
	return &NoopTransport{}, nil
}
