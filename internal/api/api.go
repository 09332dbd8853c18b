// Package api serves the validator-facing HTTP surface over the threshold
// coordinator: signing, verification, key and ceremony introspection. JSON
// in, JSON out; []byte fields are base64 per encoding/json.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/quorsig/quorsig/internal/tsig"
	"github.com/quorsig/quorsig/pkg/lifecycle"
	"github.com/quorsig/quorsig/pkg/logger"
	"github.com/quorsig/quorsig/pkg/metrics"
	"github.com/quorsig/quorsig/pkg/trace"
)

type Server struct {
	addr  string
	coord *tsig.Coordinator
	ln    net.Listener
	srv   *http.Server
}

func New(addr string, coord *tsig.Coordinator) *Server {
	return &Server{addr: addr, coord: coord}
}

func (s *Server) Name() string { return "api" }

// Addr returns the bound address, useful when configured with port 0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{Handler: s.Handler()}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.ErrorJ("api", map[string]any{"result": "serve_error", "err": err.Error()})
		}
	}()
	logger.InfoJ("api", map[string]any{"result": "ok", "addr": s.Addr()})
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Handler builds the route table; exported for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/v1/sign", wrapMetrics("sign", http.HandlerFunc(s.handleSign)))
	mux.Handle("/v1/verify", wrapMetrics("verify", http.HandlerFunc(s.handleVerify)))
	mux.Handle("/v1/pubkey", wrapMetrics("pubkey", http.HandlerFunc(s.handlePubkey)))
	mux.Handle("/v1/ceremony", wrapMetrics("ceremony", http.HandlerFunc(s.handleCeremony)))
	return mux
}

type signRequest struct {
	Message     []byte   `json:"message"`
	Signatories []uint32 `json:"signatories"`
}

type signResponse struct {
	Signature   []byte `json:"signature"`
	MessageHash []byte `json:"message_hash"`
	Epoch       uint64 `json:"epoch"`
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req signRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	if len(req.Message) == 0 {
		httpError(w, http.StatusBadRequest, "empty message")
		return
	}
	sig, err := s.coord.CreateThresholdSignature(r.Context(), req.Message, req.Signatories)
	if err != nil {
		httpError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, signResponse{Signature: sig.Value, MessageHash: sig.MessageHash, Epoch: s.coord.Epoch()})
}

type verifyRequest struct {
	Message   []byte `json:"message"`
	Signature []byte `json:"signature"`
	// History widens verification to retained pre-rotation keys.
	History bool `json:"history,omitempty"`
}

type verifyResponse struct {
	Valid bool   `json:"valid"`
	Epoch uint64 `json:"epoch,omitempty"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	if req.History {
		ok, epoch, err := s.coord.VerifyWithHistory(req.Message, req.Signature)
		if err != nil {
			httpError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, verifyResponse{Valid: ok, Epoch: epoch})
		return
	}
	ok, err := s.coord.VerifyThresholdSignature(req.Message, req.Signature)
	if err != nil {
		httpError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, verifyResponse{Valid: ok})
}

type pubkeyResponse struct {
	Curve        string `json:"curve"`
	MasterPublic []byte `json:"master_public"`
	Threshold    uint32 `json:"threshold"`
	Participants uint32 `json:"participants"`
	Epoch        uint64 `json:"epoch"`
	State        string `json:"state"`
}

func (s *Server) handlePubkey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	cfg := s.coord.Config()
	resp := pubkeyResponse{
		Curve:        string(cfg.Curve),
		Threshold:    cfg.Threshold,
		Participants: cfg.Participants,
		Epoch:        s.coord.Epoch(),
		State:        string(s.coord.State()),
	}
	if pub, err := s.coord.MasterPublicKey(); err == nil {
		resp.MasterPublic = pub
	}
	writeJSON(w, resp)
}

func (s *Server) handleCeremony(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	writeJSON(w, s.coord.CeremonyStatuses())
}

// statusFor maps the coordinator error taxonomy onto HTTP codes.
func statusFor(err error) int {
	var se *tsig.StateError
	if errors.As(err, &se) {
		return http.StatusConflict
	}
	var sig *tsig.SignatureError
	if errors.As(err, &sig) {
		switch sig.Reason {
		case tsig.SignatureInsufficientSignatories:
			return http.StatusUnprocessableEntity
		case tsig.SignatureCancelled:
			return http.StatusGatewayTimeout
		default:
			return http.StatusBadRequest
		}
	}
	var ce *tsig.CeremonyError
	if errors.As(err, &ce) {
		if ce.Reason == tsig.CeremonyTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusConflict
	}
	var cfg *tsig.ConfigurationError
	if errors.As(err, &cfg) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func wrapMetrics(op string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &respRec{ResponseWriter: w, code: 200}
		h.ServeHTTP(rr, r)
		metrics.Inc("api_requests_total", map[string]string{"op": op, "code": strconv.Itoa(rr.code)})
		metrics.ObserveSummary("api_latency_ms", map[string]string{"op": op}, float64(time.Since(start).Milliseconds()))
		tid := r.Header.Get("X-Trace-ID")
		if tid == "" {
			tid = trace.FromContext(r.Context())
		}
		logger.InfoJ("api_request", map[string]any{
			"op": op, "code": rr.code,
			"latency_ms": time.Since(start).Milliseconds(),
			"trace_id":   tid,
		})
	})
}

type respRec struct {
	http.ResponseWriter
	code int
}

func (r *respRec) WriteHeader(c int) { r.code = c; r.ResponseWriter.WriteHeader(c) }

var _ lifecycle.Service = (*Server)(nil)
