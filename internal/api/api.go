// Package api implements the HTTP control-plane surface described in
// spec §6: start a discovery job, poll its status, fetch its results,
// and cancel it. It knows nothing about the discovery pipeline itself —
// every operation is delegated to an internal/transport.Transport, and
// errors are mapped from the internal/apperr taxonomy to HTTP status
// codes only at this boundary.
//
// Every response carries a success flag and an epoch-millisecond
// timestamp alongside either the domain payload or an error body; that
// envelope is the one contract this package owns end to end.
package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/fenwicklabs/discoveryd/internal/apperr"
	"github.com/fenwicklabs/discoveryd/internal/engine"
	"github.com/fenwicklabs/discoveryd/internal/transport"
)

// Handler serves the discovery control-plane routes.
type Handler struct {
	transport transport.Transport
}

// NewHandler builds a Handler over t.
func NewHandler(t transport.Transport) *Handler {
	return &Handler{transport: t}
}

// RegisterRoutes wires the discovery routes onto mux. Auth, rate
// limiting, and CORS are handled by the front end this package is
// mounted behind; health/readiness endpoints live there too.
func RegisterRoutes(mux *http.ServeMux, h *Handler) {
	mux.HandleFunc("POST /api/discovery/start", h.handleStart)
	mux.HandleFunc("GET /api/discovery/status/{jobId}", h.handleStatus)
	mux.HandleFunc("GET /api/discovery/results/{jobId}", h.handleResults)
	mux.HandleFunc("DELETE /api/discovery/job/{jobId}", h.handleCancel)
}

type startRequestBody struct {
	Name                string `json:"name"`
	TargetRange         string `json:"targetRange"`
	CredentialProfileID string `json:"credentialProfileId"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	owner := ownerOf(r)
	if owner == "" {
		writeError(w, apperr.New(apperr.InvalidArgument, "caller identity is required"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.InvalidArgument, "failed to read body", err))
		return
	}

	var req startRequestBody
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, apperr.Wrap(apperr.InvalidArgument, "invalid JSON", err))
		return
	}

	start := time.Now()
	jobID, err := h.transport.Start(r.Context(), engine.StartRequest{
		Name:                req.Name,
		TargetRange:         req.TargetRange,
		CredentialProfileID: req.CredentialProfileID,
		CreatorID:           owner,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	log.Printf("[api] started job %s for %s (%v)", jobID, owner, time.Since(start))
	writeSuccess(w, http.StatusCreated, map[string]interface{}{"jobId": jobID})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	owner := ownerOf(r)
	if owner == "" {
		writeError(w, apperr.New(apperr.InvalidArgument, "caller identity is required"))
		return
	}

	job, err := h.transport.Status(r.Context(), r.PathValue("jobId"), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{"job": job})
}

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	owner := ownerOf(r)
	if owner == "" {
		writeError(w, apperr.New(apperr.InvalidArgument, "caller identity is required"))
		return
	}

	devices, err := h.transport.Results(r.Context(), r.PathValue("jobId"), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{"devices": devices, "count": len(devices)})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	owner := ownerOf(r)
	if owner == "" {
		writeError(w, apperr.New(apperr.InvalidArgument, "caller identity is required"))
		return
	}

	if err := h.transport.Cancel(r.Context(), r.PathValue("jobId"), owner); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}

// ownerOf extracts the caller's owner id. Identity extraction (token
// validation, session lookup) is the out-of-scope front end's job; this
// header is the narrow contract this package expects from it.
func ownerOf(r *http.Request) string {
	return r.Header.Get("X-Owner-ID")
}

// statusForKind maps the core error taxonomy to HTTP status codes. This
// is the only place in the module that knows about both.
func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.InvalidArgument:
		return http.StatusBadRequest
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.SecretCorrupt:
		return http.StatusUnprocessableEntity
	case apperr.TransportFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	log.Printf("[api] error (%s): %v", kind, err)
	writeJSON(w, statusForKind(kind), map[string]interface{}{
		"success":   false,
		"timestamp": time.Now().UnixMilli(),
		"error":     string(kind),
		"message":   err.Error(),
	})
}

// writeSuccess writes the shared success envelope, merging payload's
// keys (e.g. jobId, job, devices) alongside success/timestamp. A nil
// payload (cancel has no body beyond the envelope) is fine.
func writeSuccess(w http.ResponseWriter, status int, payload map[string]interface{}) {
	body := map[string]interface{}{
		"success":   true,
		"timestamp": time.Now().UnixMilli(),
	}
	for k, v := range payload {
		body[k] = v
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
