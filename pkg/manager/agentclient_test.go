package manager

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/cuemby/fleetops/pkg/config"
	"github.com/stretchr/testify/require"
)

func serverConfigFor(t *testing.T, ts *httptest.Server) config.ServerConfig {
	t.Helper()
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return config.ServerConfig{Host: u.Hostname(), AgentPort: port, APIKey: "test-key"}
}

func TestAgentClientExecuteSynchronous(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"status":"running"}`))
	}))
	defer ts.Close()

	servers := map[string]config.ServerConfig{"node1": serverConfigFor(t, ts)}
	c := NewAgentClient(servers)

	result, err := c.Execute(context.Background(), "node1", "/service/status", map[string]string{"service_name": "x"})
	require.NoError(t, err)
	require.JSONEq(t, `{"success":true,"status":"running"}`, string(result))
}

func TestAgentClientServiceStatusHelper(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"status":"failed"}`))
	}))
	defer ts.Close()

	servers := map[string]config.ServerConfig{"node1": serverConfigFor(t, ts)}
	c := NewAgentClient(servers)

	status, err := c.ServiceStatus(context.Background(), "node1", "cosmosd")
	require.NoError(t, err)
	require.Equal(t, "failed", status.Status)
}

func TestAgentClientCheckSnapshotTriggersHelper(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"output":{"triggers_found":true}}`))
	}))
	defer ts.Close()

	servers := map[string]config.ServerConfig{"node1": serverConfigFor(t, ts)}
	c := NewAgentClient(servers)

	found, err := c.CheckSnapshotTriggers(context.Background(), "node1", "/data/out1.log", []string{"panic", "consensus failure"})
	require.NoError(t, err)
	require.True(t, found)
}

func TestAgentClientExecuteUnknownServer(t *testing.T) {
	c := NewAgentClient(map[string]config.ServerConfig{})
	_, err := c.Execute(context.Background(), "missing", "/service/start", nil)
	require.Error(t, err)
}

func TestAgentClientExecuteSurfacesFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"disk full"}`))
	}))
	defer ts.Close()

	servers := map[string]config.ServerConfig{"node1": serverConfigFor(t, ts)}
	c := NewAgentClient(servers)

	_, err := c.Execute(context.Background(), "node1", "/pruning/execute", nil)
	require.ErrorContains(t, err, "disk full")
}

func TestAgentClientExecuteLongRunningPollsToCompletion(t *testing.T) {
	pollCount := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/snapshot/create":
			_, _ = w.Write([]byte(`{"success":true,"job_id":"job-1"}`))
		case "/operation/status/job-1":
			pollCount++
			if pollCount < 2 {
				_, _ = w.Write([]byte(`{"success":true,"job_status":"Running"}`))
				return
			}
			_, _ = w.Write([]byte(`{"success":true,"job_status":"Completed","output":"{\"snapshot\":\"ok\"}"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	servers := map[string]config.ServerConfig{"node1": serverConfigFor(t, ts)}
	c := NewAgentClient(servers)
	c.pollIntervalOverrideForTests()

	result, err := c.Execute(context.Background(), "node1", "/snapshot/create", nil)
	require.NoError(t, err)
	require.Equal(t, 2, pollCount)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(result, &decoded))
	require.Equal(t, "ok", decoded["snapshot"])
}

func TestAgentClientExecuteLongRunningJobFailed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/snapshot/restore":
			_, _ = w.Write([]byte(`{"success":true,"job_id":"job-2"}`))
		case "/operation/status/job-2":
			_, _ = w.Write([]byte(`{"success":true,"job_status":"Failed","error":"checksum mismatch"}`))
		}
	}))
	defer ts.Close()

	servers := map[string]config.ServerConfig{"node1": serverConfigFor(t, ts)}
	c := NewAgentClient(servers)
	c.pollIntervalOverrideForTests()

	_, err := c.Execute(context.Background(), "node1", "/snapshot/restore", nil)
	require.ErrorContains(t, err, "checksum mismatch")
}

func TestAgentClientPrune(t *testing.T) {
	var body map[string]any
	mux := http.NewServeMux()
	pollCount := 0
	mux.HandleFunc("/pruning/execute", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"job_id":"job-prune"}`))
	})
	mux.HandleFunc("/operation/status/job-prune", func(w http.ResponseWriter, r *http.Request) {
		pollCount++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"job_status":"Completed"}`))
	})
	ts2 := httptest.NewServer(mux)
	defer ts2.Close()

	servers := map[string]config.ServerConfig{"node1": serverConfigFor(t, ts2)}
	c := NewAgentClient(servers)
	c.pollIntervalOverrideForTests()

	err := c.Prune(context.Background(), "node1", "noded", "nodedv2", "/deploy", 100, 2)
	require.NoError(t, err)
	require.Equal(t, 1, pollCount)
	require.Equal(t, "noded", body["service_name"])
	require.Equal(t, "nodedv2", body["pruner_binary"])
	require.Equal(t, "/deploy", body["deploy_path"])
	require.Equal(t, float64(100), body["keep_blocks"])
	require.Equal(t, float64(2), body["keep_versions"])
}

func TestAgentClientCreateSnapshot(t *testing.T) {
	var body map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/snapshot/create", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"job_id":"job-snap"}`))
	})
	mux.HandleFunc("/operation/status/job-snap", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"job_status":"Completed"}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	servers := map[string]config.ServerConfig{"node1": serverConfigFor(t, ts)}
	c := NewAgentClient(servers)
	c.pollIntervalOverrideForTests()

	err := c.CreateSnapshot(context.Background(), "node1", "pirin-1", "/deploy", "/backup", "noded", "/var/log/node.log", true)
	require.NoError(t, err)
	require.Equal(t, "pirin-1", body["network"])
	require.Equal(t, "/backup", body["backup_path"])
	require.Equal(t, true, body["compress"])
}

func TestAgentClientRestoreSnapshot(t *testing.T) {
	var body map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/snapshot/restore", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"job_id":"job-restore"}`))
	})
	mux.HandleFunc("/operation/status/job-restore", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"job_status":"Completed"}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	servers := map[string]config.ServerConfig{"node1": serverConfigFor(t, ts)}
	c := NewAgentClient(servers)
	c.pollIntervalOverrideForTests()

	err := c.RestoreSnapshot(context.Background(), "node1", "/deploy", "/backup/pirin-1_20260101_000000", "noded", "/var/log/node.log")
	require.NoError(t, err)
	require.Equal(t, "/backup/pirin-1_20260101_000000", body["snapshot_dir"])
}

func TestAgentClientRunStateSync(t *testing.T) {
	var body map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/state-sync/execute", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"job_id":"job-sync"}`))
	})
	mux.HandleFunc("/operation/status/job-sync", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"job_status":"Completed"}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	servers := map[string]config.ServerConfig{"node1": serverConfigFor(t, ts)}
	c := NewAgentClient(servers)
	c.pollIntervalOverrideForTests()

	err := c.RunStateSync(context.Background(), "node1", "noded", "/home/node", "nolusd", "https://rpc.example:443", 12000, "ABCDEF", 600, "/var/log/node.log")
	require.NoError(t, err)
	require.Equal(t, "nolusd", body["daemon_binary"])
	require.Equal(t, float64(12000), body["trust_height"])
	require.Equal(t, "ABCDEF", body["trust_hash"])
}

func TestAgentClientTruncateLog(t *testing.T) {
	var body map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/logs/truncate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer ts.Close()

	servers := map[string]config.ServerConfig{"node1": serverConfigFor(t, ts)}
	c := NewAgentClient(servers)

	err := c.TruncateLog(context.Background(), "node1", "/var/log/node.log")
	require.NoError(t, err)
	require.Equal(t, "/var/log/node.log", body["log_path"])
}
