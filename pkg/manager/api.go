package manager

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/fleetops/pkg/errs"
	"github.com/cuemby/fleetops/pkg/log"
	"github.com/cuemby/fleetops/pkg/metrics"
	"github.com/cuemby/fleetops/pkg/storage"
	"github.com/cuemby/fleetops/pkg/types"
)

// Server is the manager's operator-facing HTTP API (spec §6): trigger
// an operation, list recent ones, cancel one, read a target's latest
// health snapshot, liveness, and Prometheus exposition. Grounded on
// the teacher's pkg/api/health.go for the stdlib net/http.ServeMux +
// http.Server shape; the write/trigger surface itself has no teacher
// analogue (Warren's API is gRPC) and is built directly from spec §6.
type Server struct {
	executor *OperationExecutor
	registry *Registry
	store    storage.Store
	mux      *http.ServeMux
}

// NewServer wires the operator API over an already-constructed
// executor, registry and store.
func NewServer(executor *OperationExecutor, registry *Registry, store storage.Store) *Server {
	s := &Server{executor: executor, registry: registry, store: store, mux: http.NewServeMux()}

	s.mux.HandleFunc("/operations/", s.handleOperations)
	s.mux.HandleFunc("/health/", s.handleHealth)
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.Handle("/metrics", metrics.Handler())

	return s
}

// Start runs the operator API on addr, blocking until it exits.
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.recover(s.mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// recover guards against a panic in any handler taking the whole
// process down, the one thing main's top-level recover does not cover
// once a request is in flight. Mirrors the teacher's interceptor
// pattern (pkg/api/interceptor.go) translated to plain net/http
// middleware in place of a gRPC unary interceptor.
func (s *Server) recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.WithComponent("api").Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("recovered from panic")
				writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

// handleOperations dispatches the three /operations/... routes by
// shape, since they share one prefix but differ in method and segment
// count: POST /operations/{type}/{target}, GET /operations/recent,
// POST /operations/{id}/cancel.
func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/operations/")
	segments := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(segments) == 1 && segments[0] == "recent" && r.Method == http.MethodGet:
		s.handleRecent(w, r)
	case len(segments) == 2 && segments[1] == "cancel" && r.Method == http.MethodPost:
		s.handleCancel(w, segments[0])
	case len(segments) == 2 && r.Method == http.MethodPost:
		s.handleTrigger(w, r, segments[0], segments[1])
	default:
		writeErr(w, http.StatusNotFound, fmt.Errorf("manager: no route for %s %s", r.Method, r.URL.Path))
	}
}

// handleTrigger starts opType against target manually. The request
// body is opaque per spec §6 and currently unused: every parameter an
// operation needs is resolved from the target's static configuration
// by Registry.BuildWork, the same way a scheduled firing would.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request, opTypeStr, target string) {
	opType := types.OperationType(opTypeStr)

	work, err := s.registry.BuildWork(opType, target)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.executor.ExecuteAsync(r.Context(), opType, target, false, work)
	if err != nil {
		if errors.Is(err, errs.ErrLockBusy) {
			writeErr(w, http.StatusConflict, err)
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"id": id})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	n := 20
	if raw := r.URL.Query().Get("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}

	ops, err := s.store.RecentOperations(n)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ops)
}

func (s *Server) handleCancel(w http.ResponseWriter, id string) {
	op, err := s.store.GetOperation(id)
	if err != nil {
		writeErr(w, http.StatusNotFound, fmt.Errorf("manager: operation %q not found", id))
		return
	}
	if err := s.executor.Cancel(id, op.Target); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimPrefix(r.URL.Path, "/health/")
	if target == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("manager: missing target"))
		return
	}

	status, err := s.store.LatestHealthStatus(target)
	if err != nil {
		writeErr(w, http.StatusNotFound, fmt.Errorf("manager: no health status for %q", target))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
