package quota

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/synnefo-io/core/internal/apierr"
	"github.com/synnefo-io/core/pkg/log"
	"github.com/synnefo-io/core/pkg/metrics"
	"github.com/synnefo-io/core/pkg/types"
)

// Server exposes the Manager over HTTP/JSON (spec §6: "HTTP/JSON-ish; the
// shape matters, not the wire framing" — grounded on the teacher's decision
// to favor a readable wire format for internal RPC over hand-authored
// protobuf bindings; see DESIGN.md).
type Server struct {
	manager *Manager
}

func NewServer(m *Manager) *Server {
	return &Server{manager: m}
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/quota", s.instrument("GetQuota", s.handleGetQuota))
	mux.HandleFunc("/v1/quota/set", s.instrument("SetQuota", s.handleSetQuota))
	mux.HandleFunc("/v1/commissions/issue", s.instrument("IssueCommission", s.handleIssueCommission))
	mux.HandleFunc("/v1/commissions/resolve", s.instrument("ResolvePendingCommissions", s.handleResolve))
	mux.HandleFunc("/v1/commissions/pending", s.instrument("GetPendingCommissions", s.handlePending))
	mux.HandleFunc("/v1/commissions/get", s.instrument("GetCommission", s.handleGetCommission))
	return mux
}

func (s *Server) instrument(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(rw, r)
		timer.ObserveDurationVec(metrics.APIRequestDuration, method)
		metrics.APIRequestsTotal.WithLabelValues(method, strconv.Itoa(rw.status)).Inc()
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := apierr.Kind(err)
	status := http.StatusInternalServerError
	switch kind {
	case types.ErrNotFound, types.ErrVersionNotExists:
		status = http.StatusNotFound
	case types.ErrNotAllowed:
		status = http.StatusForbidden
	case types.ErrConflict:
		status = http.StatusConflict
	case types.ErrQuotaExceeded:
		status = http.StatusForbidden
	case types.ErrBadRequest, types.ErrInvalidHash:
		status = http.StatusBadRequest
	case types.ErrIllegalOperation:
		status = http.StatusMethodNotAllowed
	}
	log.Logger.Error().Err(err).Str("kind", string(kind)).Msg("quotaholder request failed")
	writeJSON(w, status, map[string]string{"kind": string(kind), "message": err.Error()})
}

type getQuotaRequest struct {
	Holders   []string        `json:"holders,omitempty"`
	Sources   []string        `json:"sources,omitempty"`
	Resources []types.Resource `json:"resources,omitempty"`
}

func (s *Server) handleGetQuota(w http.ResponseWriter, r *http.Request) {
	var req getQuotaRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	holdings, err := s.manager.GetQuota(QuotaFilter{Holders: req.Holders, Sources: req.Sources, Resources: req.Resources})
	if err != nil {
		writeError(w, err)
		return
	}
	list := make([]types.Holding, 0, len(holdings))
	for _, h := range holdings {
		list = append(list, h)
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleSetQuota(w http.ResponseWriter, r *http.Request) {
	var updates []QuotaLimitUpdate
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, apierr.BadRequest(err.Error()))
		return
	}
	if err := s.manager.SetQuota(updates); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type issueCommissionRequest struct {
	Client     string            `json:"client"`
	Name       string            `json:"name"`
	Provisions []types.Provision `json:"provisions"`
	Force      bool              `json:"force"`
}

func (s *Server) handleIssueCommission(w http.ResponseWriter, r *http.Request) {
	var req issueCommissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.BadRequest(err.Error()))
		return
	}
	serial, err := s.manager.IssueCommission(req.Client, req.Name, req.Provisions, req.Force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"serial": serial})
}

type resolveRequest struct {
	Client string  `json:"client"`
	Accept []int64 `json:"accept"`
	Reject []int64 `json:"reject"`
	Reason string  `json:"reason"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.BadRequest(err.Error()))
		return
	}
	outcome, err := s.manager.ResolvePendingCommissions(req.Client, req.Accept, req.Reject, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	client := r.URL.Query().Get("client")
	serials, err := s.manager.GetPendingCommissions(client)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, serials)
}

func (s *Server) handleGetCommission(w http.ResponseWriter, r *http.Request) {
	client := r.URL.Query().Get("client")
	serial, err := strconv.ParseInt(r.URL.Query().Get("serial"), 10, 64)
	if err != nil {
		writeError(w, apierr.BadRequest("invalid serial"))
		return
	}
	c, err := s.manager.GetCommission(client, serial)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
