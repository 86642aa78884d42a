// Package configserver implements the control-plane side of the
// provisioning contract internal/provisioner and internal/trxlog speak
// from inside the enclave: GET /cert/token, POST /cert, POST
// /trx/logs. Error responses use the JSend envelope the teacher's
// coordinator API uses; success bodies are not enveloped (/cert/token
// and /cert return their objects directly, /trx/logs returns an empty
// 200).
package configserver

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cagemesh/fabric/internal/provisioner"
)

// Response is a JSend-compatible envelope.
type Response struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func successResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Response{Status: "success", Data: data})
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Status: "error", Message: message})
}

// Issuer mints certificate bundles for a validated attestation
// document. cmd/controlplane supplies the real implementation; tests
// supply a fake.
type Issuer interface {
	IssueCert(attestationDoc string, token string) (*provisioner.CertBundle, error)
}

// TrxSink receives flushed transaction log batches.
type TrxSink interface {
	AcceptTrxLogs(logs []json.RawMessage) error
}

// Server is the control-plane HTTP handler.
type Server struct {
	issuer Issuer
	sink   TrxSink
	log    *logrus.Entry

	mu     sync.Mutex
	tokens map[string]struct{}
}

// New builds a Server.
func New(issuer Issuer, sink TrxSink, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{issuer: issuer, sink: sink, log: log, tokens: make(map[string]struct{})}
}

// Routes registers this server's handlers on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc(provisioner.PathCertToken, s.handleCertToken)
	mux.HandleFunc(provisioner.PathCert, s.handleCert)
	mux.HandleFunc("/trx/logs", s.handleTrxLogs)
}

func (s *Server) handleCertToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	token := newToken()
	s.mu.Lock()
	s.tokens[token] = struct{}{}
	s.mu.Unlock()

	// internal/provisioner.Client decodes this directly into its own
	// {token} struct, matching the source's unwrapped
	// GetCertTokenResponseDataPlane — no JSend envelope here.
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"token": token})
}

func (s *Server) handleCert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		AttestationDoc string `json:"attestation_doc"`
		Token          string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	bundle, err := s.issuer.IssueCert(req.AttestationDoc, req.Token)
	if err != nil {
		s.log.WithError(err).Warn("configserver: cert issuance failed")
		errorResponse(w, http.StatusForbidden, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(bundle)
}

func (s *Server) handleTrxLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		TrxLogs []json.RawMessage `json:"trx_logs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.sink.AcceptTrxLogs(body.TrxLogs); err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusOK)
}

func newToken() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
