package tsig

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quorsig/quorsig/internal/tsig/curve"
)

func TestWebhookSink_Publish(t *testing.T) {
	got := make(chan CeremonyRecord, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method: %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type: %s", ct)
		}
		body, _ := io.ReadAll(r.Body)
		var rec CeremonyRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			t.Errorf("decode: %v", err)
		}
		got <- rec
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	snk := WebhookSink{URL: srv.URL, Timeout: 2 * time.Second}
	snk.Publish(CeremonyRecord{
		SessionID:    "s-1",
		Epoch:        3,
		Curve:        curve.Secp256k1,
		Threshold:    3,
		Participants: 5,
		Rotation:     true,
	})

	select {
	case rec := <-got:
		if rec.SessionID != "s-1" || rec.Epoch != 3 || !rec.Rotation {
			t.Fatalf("delivered record: %+v", rec)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not delivered")
	}
}

func TestWebhookSink_BestEffort(t *testing.T) {
	// Unreachable endpoint and failing remote must both be swallowed.
	WebhookSink{URL: "http://127.0.0.1:1"}.Publish(CeremonyRecord{SessionID: "s"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	WebhookSink{URL: srv.URL}.Publish(CeremonyRecord{SessionID: "s"})

	// An empty URL is the disabled state.
	WebhookSink{}.Publish(CeremonyRecord{SessionID: "s"})
}
