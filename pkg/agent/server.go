package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/fleetops/pkg/agent/operations"
	"github.com/cuemby/fleetops/pkg/config"
	"github.com/cuemby/fleetops/pkg/log"
	"github.com/cuemby/fleetops/pkg/metrics"
)

// Server is the agent's HTTP API: bearer-auth guarded endpoints for
// host-local service control, log maintenance, and the long-running
// maintenance operations (snapshot/restore/pruning/state-sync), backed
// by a JobManager for async polling and an OperationMap as a local
// defensive lock independent of the manager's own target locks (spec
// §4.7).
type Server struct {
	cfg  *config.AgentConfig
	jobs *JobManager
	ops  *OperationMap
	mux  *http.ServeMux
}

// NewServer wires a Server over cfg, ready to Start.
func NewServer(cfg *config.AgentConfig) *Server {
	s := &Server{
		cfg:  cfg,
		jobs: NewJobManager(),
		ops:  NewOperationMap(),
		mux:  http.NewServeMux(),
	}

	s.mux.HandleFunc("/command/execute", s.auth(s.handleCommandExecute))
	s.mux.HandleFunc("/service/status", s.auth(s.handleServiceStatus))
	s.mux.HandleFunc("/service/start", s.auth(s.handleServiceStart))
	s.mux.HandleFunc("/service/stop", s.auth(s.handleServiceStop))
	s.mux.HandleFunc("/service/uptime", s.auth(s.handleServiceUptime))
	s.mux.HandleFunc("/logs/truncate", s.auth(s.handleLogsTruncate))
	s.mux.HandleFunc("/logs/delete-all", s.auth(s.handleLogsDeleteAll))
	s.mux.HandleFunc("/pruning/execute", s.auth(s.handlePruningExecute))
	s.mux.HandleFunc("/snapshot/create", s.auth(s.handleSnapshotCreate))
	s.mux.HandleFunc("/snapshot/restore", s.auth(s.handleSnapshotRestore))
	s.mux.HandleFunc("/snapshot/check-triggers", s.auth(s.handleSnapshotCheckTriggers))
	s.mux.HandleFunc("/state-sync/execute", s.auth(s.handleStateSyncExecute))
	s.mux.HandleFunc("/operation/status/", s.auth(s.handleOperationStatus))

	return s
}

// Start runs the agent's HTTP server on addr, blocking until it exits.
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// JobCleanupLoop removes finished jobs older than the configured TTL
// every maxAge/4, until ctx is cancelled. Intended to run in its own
// goroutine from cmd/agent's main.
func (s *Server) JobCleanupLoop(ctx context.Context, maxAge time.Duration) {
	logger := log.WithComponent("agent")
	interval := maxAge / 4
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.jobs.CleanupOld(maxAge); n > 0 {
				logger.Info().Int("removed", n).Msg("cleaned up finished jobs")
			}
		}
	}
}

// auth wraps handler with the bearer-token check every endpoint
// requires (spec §6).
func (s *Server) auth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != s.cfg.APIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "unauthorized"})
			return
		}
		handler(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

// firstNonEmpty returns the first non-empty string, falling back to a
// per-host agent config default when the manager's request payload
// omits a field.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// === Synchronous handlers ===

func (s *Server) handleCommandExecute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string `json:"command"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	output, err := operations.RunShellCommand(r.Context(), req.Command)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "output": output})
}

func (s *Server) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServiceName string `json:"service_name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	status, err := operations.ServiceState(r.Context(), firstNonEmpty(req.ServiceName, s.cfg.ServiceName))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": status})
}

func (s *Server) handleServiceStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServiceName string `json:"service_name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := operations.StartService(r.Context(), firstNonEmpty(req.ServiceName, s.cfg.ServiceName)); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleServiceStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServiceName string `json:"service_name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := operations.StopService(r.Context(), firstNonEmpty(req.ServiceName, s.cfg.ServiceName)); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleServiceUptime(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServiceName string `json:"service_name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	uptime, err := operations.ServiceUptimeSeconds(r.Context(), firstNonEmpty(req.ServiceName, s.cfg.ServiceName))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "uptime_seconds": uptime})
}

func (s *Server) handleLogsTruncate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LogPath string `json:"log_path"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := operations.TruncateLog(r.Context(), req.LogPath); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleLogsDeleteAll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LogPath string `json:"log_path"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := operations.DeleteAllLogs(r.Context(), req.LogPath); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleSnapshotCheckTriggers greps logFile for any of triggerWords,
// nesting its result under `output` per spec §6 — the one sync
// endpoint whose payload is not flat, mirrored by
// manager.AgentClient.CheckSnapshotTriggers.
func (s *Server) handleSnapshotCheckTriggers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LogFile      string   `json:"log_file"`
		TriggerWords []string `json:"trigger_words"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	found, err := operations.CheckTriggers(r.Context(), req.LogFile, req.TriggerWords)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"output":  map[string]any{"triggers_found": found},
	})
}

// === Asynchronous handlers ===

// startJob registers a new job, runs work in its own goroutine, and
// immediately replies with a job_id (spec §4.4/§4.7). work's returned
// value is marshalled as the job's Result. opType labels the shared
// fleetops_operations_total/fleetops_operation_duration_seconds series
// the manager's own executor also reports to, so agent- and
// manager-side operation counts are comparable.
func (s *Server) startJob(w http.ResponseWriter, opType string, work func(ctx context.Context) (any, error)) {
	id := s.jobs.Start()
	go func() {
		timer := metrics.NewTimer()
		result, err := work(context.Background())
		var raw json.RawMessage
		status := "completed"
		if err != nil {
			status = "failed"
		} else {
			raw, _ = json.Marshal(result)
		}
		metrics.OperationsTotal.WithLabelValues(opType, status).Inc()
		timer.ObserveDurationVec(metrics.OperationDuration, opType)
		s.jobs.Finish(id, raw, err)
	}()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "job_id": id})
}

func (s *Server) handlePruningExecute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServiceName  string `json:"service_name"`
		PrunerBinary string `json:"pruner_binary"`
		DeployPath   string `json:"deploy_path"`
		KeepBlocks   int    `json:"keep_blocks"`
		KeepVersions int    `json:"keep_versions"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	target := firstNonEmpty(req.DeployPath, s.cfg.DeployPath)
	if err := s.ops.TryStart(target, "pruning"); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	pruneReq := operations.PruningRequest{
		ServiceName:  firstNonEmpty(req.ServiceName, s.cfg.ServiceName),
		PrunerBinary: firstNonEmpty(req.PrunerBinary, s.cfg.PrunerBinary),
		DeployPath:   target,
		KeepBlocks:   req.KeepBlocks,
		KeepVersions: req.KeepVersions,
	}
	s.startJob(w, "pruning", func(ctx context.Context) (any, error) {
		defer s.ops.End(target)
		if err := operations.Prune(ctx, pruneReq); err != nil {
			return nil, err
		}
		return map[string]any{"pruned": true}, nil
	})
}

func (s *Server) handleSnapshotCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Network     string `json:"network"`
		DeployPath  string `json:"deploy_path"`
		BackupPath  string `json:"backup_path"`
		ServiceName string `json:"service_name"`
		LogPath     string `json:"log_path"`
		Compress    bool   `json:"compress"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	target := firstNonEmpty(req.DeployPath, s.cfg.DeployPath)
	if err := s.ops.TryStart(target, "snapshot_create"); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	snapReq := operations.SnapshotRequest{
		ServiceName: firstNonEmpty(req.ServiceName, s.cfg.ServiceName),
		Network:     req.Network,
		DeployPath:  target,
		BackupPath:  firstNonEmpty(req.BackupPath, s.cfg.BackupPath),
		LogPath:     req.LogPath,
		Compress:    req.Compress,
	}
	s.startJob(w, "snapshot_create", func(ctx context.Context) (any, error) {
		defer s.ops.End(target)
		return operations.Create(ctx, snapReq, time.Now())
	})
}

func (s *Server) handleSnapshotRestore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeployPath  string `json:"deploy_path"`
		SnapshotDir string `json:"snapshot_dir"`
		ServiceName string `json:"service_name"`
		LogPath     string `json:"log_path"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	target := firstNonEmpty(req.DeployPath, s.cfg.DeployPath)
	if err := s.ops.TryStart(target, "snapshot_restore"); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	restoreReq := operations.RestoreRequest{
		ServiceName: firstNonEmpty(req.ServiceName, s.cfg.ServiceName),
		DeployPath:  target,
		SnapshotDir: req.SnapshotDir,
		LogPath:     req.LogPath,
	}
	s.startJob(w, "snapshot_restore", func(ctx context.Context) (any, error) {
		defer s.ops.End(target)
		if err := operations.Restore(ctx, restoreReq); err != nil {
			return nil, err
		}
		return map[string]any{"restored": true}, nil
	})
}

func (s *Server) handleStateSyncExecute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServiceName  string `json:"service_name"`
		HomeDir      string `json:"home_dir"`
		DaemonBinary string `json:"daemon_binary"`
		RPCServers   string `json:"rpc_servers"`
		TrustHeight  int64  `json:"trust_height"`
		TrustHash    string `json:"trust_hash"`
		TimeoutSecs  int    `json:"timeout_seconds"`
		LogPath      string `json:"log_path"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	target := firstNonEmpty(req.HomeDir, s.cfg.DeployPath)
	if err := s.ops.TryStart(target, "state_sync"); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	syncReq := operations.StateSyncRequest{
		ServiceName:  firstNonEmpty(req.ServiceName, s.cfg.ServiceName),
		DaemonBinary: req.DaemonBinary,
		HomeDir:      target,
		RPCServers:   req.RPCServers,
		TrustHeight:  req.TrustHeight,
		TrustHash:    req.TrustHash,
		TimeoutSecs:  req.TimeoutSecs,
		LogPath:      req.LogPath,
	}
	s.startJob(w, "state_sync", func(ctx context.Context) (any, error) {
		defer s.ops.End(target)
		if err := operations.StateSync(ctx, syncReq); err != nil {
			return nil, err
		}
		return map[string]any{"synced": true}, nil
	})
}

// handleOperationStatus implements GET /operation/status/{job_id},
// the poll target for all four async endpoints (spec §6). The output
// field is stringified JSON, matching manager.AgentClient's decode of
// result.Output as a string it then re-parses.
func (s *Server) handleOperationStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/operation/status/")
	if id == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("agent: missing job id"))
		return
	}
	job, ok := s.jobs.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "job not found"})
		return
	}

	body := map[string]any{
		"success":    true,
		"job_status": string(job.Status),
	}
	if job.Error != "" {
		body["error"] = job.Error
	}
	if len(job.Result) > 0 {
		body["output"] = string(job.Result)
	}
	writeJSON(w, http.StatusOK, body)
}
