// Package cryptoapi implements C7, the in-enclave HTTP facade the
// workload calls instead of talking to E3 directly: POST /encrypt,
// POST /decrypt, GET /attestation-doc, and a liveness GET /health.
package cryptoapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"

	"github.com/cagemesh/fabric/internal/cagerr"
	"github.com/cagemesh/fabric/internal/e3"
	"github.com/cagemesh/fabric/internal/tenant"
)

// maxBodySize bounds the request body the facade will buffer before
// forwarding it to E3, guarding against a misbehaving workload.
const maxBodySize = 4 << 20

// API is C7.
type API struct {
	e3  *e3.Client
	ctx *tenant.CageContext
	doc []byte // pre-generated attestation document, served verbatim
	log *logrus.Entry
}

// New builds a chi router wired to client for the crypto calls and ctx
// for the outer envelope fields, serving attestationDoc verbatim from
// GET /attestation-doc.
func New(client *e3.Client, ctx *tenant.CageContext, attestationDoc []byte, log *logrus.Entry) http.Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	a := &API{e3: client, ctx: ctx, doc: attestationDoc, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/health", a.health)
	r.Post("/encrypt", a.encrypt)
	r.Post("/decrypt", a.decrypt)
	r.Get("/attestation-doc", a.attestationDoc)

	return r
}

func requestLogger(log *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, req)
			log.WithFields(logrus.Fields{
				"method":   req.Method,
				"path":     req.URL.Path,
				"duration": time.Since(start),
			}).Debug("cryptoapi: request")
		})
	}
}

type healthResponse struct {
	Status         string  `json:"status"`
	UptimeSeconds  uint64  `json:"uptime_seconds,omitempty"`
	MemUsedPercent float64 `json:"mem_used_percent,omitempty"`
	MemTotalBytes  uint64  `json:"mem_total_bytes,omitempty"`
}

// health reports liveness plus host resource usage (source of the
// gopsutil dependency), for operational visibility into the enclave
// process. A stats collection failure never fails the liveness check
// itself — it just omits the affected fields.
func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if a.ctx != nil {
		w.Header().Set("X-Cage-App", a.ctx.AppUUID)
	}

	resp := healthResponse{Status: "ok"}
	if uptime, err := host.Uptime(); err != nil {
		a.log.WithError(err).Debug("cryptoapi: host.Uptime failed")
	} else {
		resp.UptimeSeconds = uptime
	}
	if vm, err := mem.VirtualMemory(); err != nil {
		a.log.WithError(err).Debug("cryptoapi: mem.VirtualMemory failed")
	} else {
		resp.MemUsedPercent = vm.UsedPercent
		resp.MemTotalBytes = vm.Total
	}

	_ = json.NewEncoder(w).Encode(resp)
}

func (a *API) attestationDoc(w http.ResponseWriter, _ *http.Request) {
	if len(a.doc) == 0 {
		writeError(w, http.StatusServiceUnavailable, errors.New("attestation document not available"))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(a.doc)
}

func (a *API) encrypt(w http.ResponseWriter, r *http.Request) {
	a.forward(w, r, a.e3.Encrypt)
}

func (a *API) decrypt(w http.ResponseWriter, r *http.Request) {
	a.forward(w, r, a.e3.Decrypt)
}

// forward extracts the api-key header and JSON body, calls op against
// E3 and writes back the data field of E3's JSON response (null when
// the field is absent).
func (a *API) forward(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, apiKey string, data json.RawMessage) (json.RawMessage, error)) {
	apiKey := r.Header.Get("api-key")
	if apiKey == "" {
		writeError(w, http.StatusUnauthorized, cagerr.ErrMissingAPIKey)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(body) > maxBodySize {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
		return
	}

	var raw json.RawMessage
	if len(body) > 0 {
		if !json.Valid(body) {
			writeError(w, http.StatusBadRequest, errors.New("malformed json body"))
			return
		}
		raw = json.RawMessage(body)
	}

	resp, err := op(r.Context(), apiKey, raw)
	if err != nil {
		a.log.WithError(err).Warn("cryptoapi: e3 call failed")
		var fre *cagerr.FailedRequestError
		if errors.As(err, &fre) {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	var e3Resp struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(resp, &e3Resp); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if e3Resp.Data == nil {
		e3Resp.Data = json.RawMessage("null")
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(e3Resp.Data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
