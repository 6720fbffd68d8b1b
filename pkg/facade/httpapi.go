package facade

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/synnefo-io/core/internal/apierr"
	"github.com/synnefo-io/core/pkg/log"
	"github.com/synnefo-io/core/pkg/metrics"
	"github.com/synnefo-io/core/pkg/types"
)

// Server exposes a Facade over HTTP/JSON, grounded on pkg/quota/api.go's
// Server/Routes/writeError pattern — the same readable-wire-format choice,
// applied to the Pithos-like account/container/object surface instead of
// the quota RPC surface.
type Server struct {
	facade *Facade
}

func NewServer(f *Facade) *Server {
	return &Server{facade: f}
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{account}", s.instrument("ListAccount", s.handleListAccount))
	mux.HandleFunc("HEAD /{account}", s.instrument("HeadAccount", s.handleListAccount))
	mux.HandleFunc("PUT /{account}/{container}", s.instrument("PutContainer", s.handlePutContainer))
	mux.HandleFunc("POST /{account}/{container}", s.instrument("UpdateContainerPolicy", s.handleUpdateContainerPolicy))
	mux.HandleFunc("DELETE /{account}/{container}", s.instrument("DeleteContainer", s.handleDeleteContainer))
	mux.HandleFunc("GET /{account}/{container}", s.instrument("ListContainer", s.handleListContainer))
	mux.HandleFunc("HEAD /{account}/{container}/{name...}", s.instrument("HeadObject", s.handleHeadObject))
	mux.HandleFunc("GET /{account}/{container}/{name...}", s.instrument("GetObject", s.handleHeadObject))
	mux.HandleFunc("PUT /{account}/{container}/{name...}", s.instrument("UpdateObjectHashmap", s.handlePutObject))
	mux.HandleFunc("POST /{account}/{container}/{name...}", s.instrument("ObjectAction", s.handlePostObject))
	mux.HandleFunc("DELETE /{account}/{container}/{name...}", s.instrument("DeleteObject", s.handleDeleteObject))
	mux.HandleFunc("GET /public/{token}", s.instrument("GetPublicObject", s.handleGetPublicObject))
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
	log.WithComponent("facade").Error().Err(err).Str("kind", string(kind)).Msg("storage request failed")
	writeJSON(w, status, map[string]string{"kind": string(kind), "message": err.Error()})
}

func authenticatedUser(r *http.Request) string {
	if u := r.Header.Get("X-Auth-User"); u != "" {
		return u
	}
	return "anonymous"
}

func (s *Server) handleListAccount(w http.ResponseWriter, r *http.Request) {
	infos, err := s.facade.ListAccount(ListAccountArgs{
		Account:   r.PathValue("account"),
		Marker:    r.URL.Query().Get("marker"),
		Principal: authenticatedUser(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

type putContainerRequest struct {
	Quota      *int64           `json:"quota,omitempty"`
	Versioning types.Versioning `json:"versioning,omitempty"`
	Project    string           `json:"project,omitempty"`
}

func (s *Server) handlePutContainer(w http.ResponseWriter, r *http.Request) {
	var req putContainerRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apierr.BadRequest(err.Error()))
			return
		}
	}
	var policy *types.Policy
	if req.Quota != nil || req.Versioning != "" || req.Project != "" {
		p := s.facade.cfg.DefaultContainerPolicy()
		if req.Quota != nil {
			p.Quota = *req.Quota
		}
		if req.Versioning != "" {
			p.Versioning = req.Versioning
		}
		p.Project = req.Project
		policy = &p
	}
	result, err := s.facade.PutContainer(r.PathValue("account"), r.PathValue("container"), policy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type updateContainerPolicyRequest struct {
	Quota      int64            `json:"quota"`
	Versioning types.Versioning `json:"versioning"`
	Project    string           `json:"project"`
	Force      bool             `json:"force"`
}

func (s *Server) handleUpdateContainerPolicy(w http.ResponseWriter, r *http.Request) {
	var req updateContainerPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.BadRequest(err.Error()))
		return
	}
	result, err := s.facade.UpdateContainerPolicy(r.PathValue("account"), r.PathValue("container"),
		types.Policy{Quota: req.Quota, Versioning: req.Versioning, Project: req.Project}, req.Force, authenticatedUser(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeleteContainer(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var until time.Time
	if raw := q.Get("until"); raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, apierr.BadRequest("until must be a unix timestamp"))
			return
		}
		until = time.Unix(ts, 0).UTC()
	}
	err := s.facade.DeleteContainer(DeleteContainerArgs{
		Account:   r.PathValue("account"),
		Container: r.PathValue("container"),
		Until:     until,
		Delimiter: q.Get("delimiter"),
		Principal: authenticatedUser(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListContainer(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	result, err := s.facade.ListContainer(ListContainerArgs{
		Account:   r.PathValue("account"),
		Container: r.PathValue("container"),
		Prefix:    q.Get("prefix"),
		Delimiter: q.Get("delimiter"),
		Marker:    q.Get("marker"),
		Limit:     limit,
		Principal: authenticatedUser(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHeadObject(w http.ResponseWriter, r *http.Request) {
	v, err := s.facade.EnsureAvailable(CheckAvailabilityArgs{
		Account:   r.PathValue("account"),
		Container: r.PathValue("container"),
		Name:      r.PathValue("name"),
		Principal: authenticatedUser(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type putObjectRequest struct {
	Blocks   []string `json:"blocks"`
	Size     int64    `json:"size"`
	Checksum string   `json:"checksum,omitempty"`
	Force    bool     `json:"force,omitempty"`
}

func (s *Server) handlePutObject(w http.ResponseWriter, r *http.Request) {
	var req putObjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.BadRequest(err.Error()))
		return
	}
	result, err := s.facade.UpdateObjectHashmap(UpdateObjectHashmapArgs{
		Account:   r.PathValue("account"),
		Container: r.PathValue("container"),
		Name:      r.PathValue("name"),
		Blocks:    req.Blocks,
		Size:      req.Size,
		User:      authenticatedUser(r),
		UUID:      newUUID(),
		Checksum:  req.Checksum,
		Force:     req.Force,
		Principal: authenticatedUser(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if len(result.MissingBlocks) > 0 {
		writeJSON(w, http.StatusConflict, map[string]interface{}{"missing_blocks": result.MissingBlocks})
		return
	}
	writeJSON(w, http.StatusCreated, result.Version)
}

type postObjectRequest struct {
	Action      string   `json:"action"` // "register", "copy", "move", or "public"
	Blocks      []string `json:"blocks,omitempty"`
	Size        int64    `json:"size,omitempty"`
	Source      string   `json:"source,omitempty"` // "account/container/name"
	Destination string   `json:"destination,omitempty"`
	Public      bool     `json:"public,omitempty"`
}

func (s *Server) handlePostObject(w http.ResponseWriter, r *http.Request) {
	var req postObjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.BadRequest(err.Error()))
		return
	}
	account, container, name := r.PathValue("account"), r.PathValue("container"), r.PathValue("name")

	principal := authenticatedUser(r)

	switch req.Action {
	case "register":
		v, err := s.facade.RegisterObjectMap(RegisterObjectMapArgs{
			Account:   account,
			Container: container,
			Name:      name,
			Blocks:    req.Blocks,
			Size:      req.Size,
			User:      principal,
			UUID:      newUUID(),
			Principal: principal,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, v)
	case "copy", "move":
		srcAccount, srcContainer, srcName, ok := splitObjectPath(req.Source)
		if !ok {
			writeError(w, apierr.BadRequest("source must be account/container/name"))
			return
		}
		var v *types.Version
		var err error
		if req.Action == "copy" {
			v, err = s.facade.CopyObject(srcAccount, srcContainer, srcName, account, container, name, principal, principal)
		} else {
			v, err = s.facade.MoveObject(srcAccount, srcContainer, srcName, account, container, name, principal, principal)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, v)
	case "public":
		token, err := s.facade.UpdateObjectPublic(UpdateObjectPublicArgs{
			Account:   account,
			Container: container,
			Name:      name,
			Public:    req.Public,
			Principal: principal,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"public_token": token})
	default:
		writeError(w, apierr.BadRequest("unknown action "+req.Action))
	}
}

func (s *Server) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	err := s.facade.DeleteObject(r.PathValue("account"), r.PathValue("container"), r.PathValue("name"), authenticatedUser(r), authenticatedUser(r))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetPublicObject resolves a public token to its bound path and serves
// the object's current version, bypassing the normal permission check since
// the token itself is the authorization (spec §4.4 public_path).
func (s *Server) handleGetPublicObject(w http.ResponseWriter, r *http.Request) {
	path, err := s.facade.ResolvePublicToken(r.PathValue("token"))
	if err != nil {
		writeError(w, err)
		return
	}
	account, container, name, ok := splitObjectPath(path)
	if !ok {
		writeError(w, apierr.Internal(fmt.Errorf("public token bound to malformed path %q", path)))
		return
	}
	v, err := s.facade.EnsureAvailable(CheckAvailabilityArgs{Account: account, Container: container, Name: name})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func splitObjectPath(path string) (account, container, name string, ok bool) {
	parts := strings.SplitN(path, "/", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
