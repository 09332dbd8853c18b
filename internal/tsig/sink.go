package tsig

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/quorsig/quorsig/internal/tsig/curve"
	"github.com/quorsig/quorsig/pkg/logger"
)

// CeremonyRecord captures a completed key ceremony for downstream sinks.
type CeremonyRecord struct {
	SessionID    string   `json:"session_id"`
	Epoch        uint64   `json:"epoch"`
	Curve        curve.ID `json:"curve"`
	Threshold    uint32   `json:"threshold"`
	Participants uint32   `json:"participants"`
	Qualified    []uint32 `json:"qualified,omitempty"`
	MasterPublic []byte   `json:"master_public"`
	Rotation     bool     `json:"rotation"`
}

// ResultSink defines a non-blocking hook to export ceremony completions.
// Implementations must return quickly; errors should be internalized.
type ResultSink interface {
	Publish(CeremonyRecord)
}

// noopSink is the default sink: no-op.
type noopSink struct{}

func (noopSink) Publish(CeremonyRecord) {}

// WebhookSink posts CeremonyRecord to a configured endpoint; best-effort.
type WebhookSink struct {
	URL     string
	Timeout time.Duration
}

func (w WebhookSink) Publish(rec CeremonyRecord) {
	if w.URL == "" {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		logger.ErrorJ("tsig_sink", map[string]any{"result": "marshal_error", "err": err.Error()})
		return
	}
	client := &http.Client{Timeout: w.timeout()}
	req, err := http.NewRequest(http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		logger.ErrorJ("tsig_sink", map[string]any{"result": "request_error", "err": err.Error()})
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		logger.ErrorJ("tsig_sink", map[string]any{"result": "post_error", "err": err.Error()})
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		logger.ErrorJ("tsig_sink", map[string]any{"result": "remote_error", "code": resp.StatusCode})
		return
	}
	logger.InfoJ("tsig_sink", map[string]any{"result": "ok", "code": resp.StatusCode})
}

func (w WebhookSink) timeout() time.Duration {
	if w.Timeout > 0 {
		return w.Timeout
	}
	return 500 * time.Millisecond
}
