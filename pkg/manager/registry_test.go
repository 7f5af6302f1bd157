package manager

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/fleetops/pkg/config"
	"github.com/cuemby/fleetops/pkg/types"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T, ts *httptest.Server) (*Registry, *config.ManagerConfig) {
	t.Helper()
	server := serverConfigFor(t, ts)
	cfg := &config.ManagerConfig{
		Servers: map[string]config.ServerConfig{"srv1": server},
		Nodes: map[string]config.NodeConfig{
			"node1": {
				Network:      "pirin-1",
				Server:       "srv1",
				RPCURL:       "http://node1:26657",
				ServiceName:  "noded",
				DeployPath:   "/deploy",
				BackupPath:   "/backup",
				LogPath:      "/var/log/node1.log",
				KeepBlocks:   1000,
				KeepVersions: 2,
			},
		},
		Hermes: map[string]config.RelayerConfig{
			"relayer1": {Server: "srv1", ServiceName: "hermes"},
		},
	}
	agents := NewAgentClient(cfg.Servers)
	return NewRegistry(cfg, agents, NewStateSyncCoordinator()), cfg
}

func TestRegistryResolve(t *testing.T) {
	registry, _ := testRegistry(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	server, ok := registry.Resolve("node1")
	require.True(t, ok)
	require.Equal(t, "srv1", server)

	server, ok = registry.Resolve("relayer1")
	require.True(t, ok)
	require.Equal(t, "srv1", server)

	_, ok = registry.Resolve("nope")
	require.False(t, ok)
}

func TestRegistryBuildWorkUnknownTarget(t *testing.T) {
	registry, _ := testRegistry(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	_, err := registry.BuildWork(types.OperationPruning, "ghost")
	require.Error(t, err)
}

func TestRegistryBuildWorkRejectsMismatchedOperation(t *testing.T) {
	registry, _ := testRegistry(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	_, err := registry.BuildWork(types.OperationHermesRestart, "node1")
	require.Error(t, err)

	_, err = registry.BuildWork(types.OperationPruning, "relayer1")
	require.Error(t, err)
}

func TestRegistryBuildWorkPruning(t *testing.T) {
	var hit bool
	mux := http.NewServeMux()
	mux.HandleFunc("/pruning/execute", func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"job_id":"job-1"}`))
	})
	mux.HandleFunc("/operation/status/job-1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"job_status":"Completed"}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	registry, _ := testRegistry(t, ts)
	registry.agents.pollIntervalOverrideForTests()

	work, err := registry.BuildWork(types.OperationPruning, "node1")
	require.NoError(t, err)
	require.NoError(t, work(context.Background()))
	require.True(t, hit)
}

func TestRegistryBuildWorkNodeRestart(t *testing.T) {
	var calls []string
	mux := http.NewServeMux()
	mux.HandleFunc("/service/stop", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "stop")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	mux.HandleFunc("/service/start", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "start")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	registry, _ := testRegistry(t, ts)

	work, err := registry.BuildWork(types.OperationNodeRestart, "node1")
	require.NoError(t, err)
	require.NoError(t, work(context.Background()))
	require.Equal(t, []string{"stop", "start"}, calls)
}

func TestRegistryBuildWorkHermesRestart(t *testing.T) {
	var calls []string
	mux := http.NewServeMux()
	mux.HandleFunc("/service/stop", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "stop")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	mux.HandleFunc("/service/start", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "start")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	registry, _ := testRegistry(t, ts)

	work, err := registry.BuildWork(types.OperationHermesRestart, "relayer1")
	require.NoError(t, err)
	require.NoError(t, work(context.Background()))
	require.Equal(t, []string{"stop", "start"}, calls)
}

func TestRegistryRestoreLatestSnapshot(t *testing.T) {
	var restoreBody string
	mux := http.NewServeMux()
	mux.HandleFunc("/command/execute", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"output":"pirin-1_20260201_000000\n"}`))
	})
	mux.HandleFunc("/snapshot/restore", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		restoreBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"job_id":"job-r"}`))
	})
	mux.HandleFunc("/operation/status/job-r", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"job_status":"Completed"}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	registry, _ := testRegistry(t, ts)
	registry.agents.pollIntervalOverrideForTests()

	err := registry.RestoreLatestSnapshot(context.Background(), "node1", "srv1")
	require.NoError(t, err)
	require.Contains(t, restoreBody, "pirin-1_20260201_000000")
}

func TestRegistryRestoreLatestSnapshotNotANode(t *testing.T) {
	registry, _ := testRegistry(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	err := registry.RestoreLatestSnapshot(context.Background(), "relayer1", "srv1")
	require.Error(t, err)
}

func TestRegistryRestoreLatestSnapshotNoneFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/command/execute", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"output":""}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	registry, _ := testRegistry(t, ts)
	err := registry.RestoreLatestSnapshot(context.Background(), "node1", "srv1")
	require.Error(t, err)
}

func TestRegistryStateSync(t *testing.T) {
	rpcMux := http.NewServeMux()
	rpcMux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"sync_info":{"latest_block_height":"5000"}}}`))
	})
	rpcMux.HandleFunc("/block", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"block_id":{"hash":"TRUSTHASH"}}}`))
	})
	rpcServer := httptest.NewServer(rpcMux)
	defer rpcServer.Close()

	var syncBody string
	agentMux := http.NewServeMux()
	agentMux.HandleFunc("/state-sync/execute", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		syncBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"job_id":"job-s"}`))
	})
	agentMux.HandleFunc("/operation/status/job-s", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"job_status":"Completed"}`))
	})
	agentServer := httptest.NewServer(agentMux)
	defer agentServer.Close()

	registry, cfg := testRegistry(t, agentServer)
	registry.agents.pollIntervalOverrideForTests()

	node := cfg.Nodes["node1"]
	node.RPCURL = rpcServer.URL
	node.TrustHeightOffset = 2000
	cfg.Nodes["node1"] = node

	work, err := registry.BuildWork(types.OperationStateSync, "node1")
	require.NoError(t, err)
	require.NoError(t, work(context.Background()))
	require.Contains(t, syncBody, "TRUSTHASH")
	require.Contains(t, syncBody, "nolusd")
}
