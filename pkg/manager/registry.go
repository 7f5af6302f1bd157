package manager

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cuemby/fleetops/pkg/config"
	"github.com/cuemby/fleetops/pkg/types"
)

// Registry binds the manager's static fleet configuration (servers,
// nodes, relayers) to the AgentClient calls each operation type needs,
// so the scheduler and the operator HTTP API share one place that
// knows how to turn "snapshot_creation on node-a" into an actual
// agent request. Grounded on original_source/manager/src/services/
// operation_executor.rs, which plays the same role against the Rust
// http_manager.
type Registry struct {
	cfg       *config.ManagerConfig
	agents    *AgentClient
	statesync *StateSyncCoordinator
}

// NewRegistry constructs a Registry over a loaded ManagerConfig.
func NewRegistry(cfg *config.ManagerConfig, agents *AgentClient, statesync *StateSyncCoordinator) *Registry {
	return &Registry{cfg: cfg, agents: agents, statesync: statesync}
}

// Resolve implements TargetResolver by looking a target up first
// among nodes, then relayers.
func (r *Registry) Resolve(target string) (string, bool) {
	if node, ok := r.cfg.Nodes[target]; ok {
		return node.Server, true
	}
	if relayer, ok := r.cfg.Hermes[target]; ok {
		return relayer.Server, true
	}
	return "", false
}

// Nodes exposes the configured nodes for iteration (scheduler
// registration, health probing).
func (r *Registry) Nodes() map[string]config.NodeConfig { return r.cfg.Nodes }

// Relayers exposes the configured relayers for iteration.
func (r *Registry) Relayers() map[string]config.RelayerConfig { return r.cfg.Hermes }

// BuildWork returns the work closure ExecuteAsync should run in the
// background for opType against target, resolving all agent-call
// parameters from the target's static configuration. Used both by
// scheduled cron jobs (cmd/manager wiring) and the operator HTTP API's
// manual trigger endpoint.
func (r *Registry) BuildWork(opType types.OperationType, target string) (func(context.Context) error, error) {
	if node, ok := r.cfg.Nodes[target]; ok {
		return r.buildNodeWork(opType, target, node)
	}
	if relayer, ok := r.cfg.Hermes[target]; ok {
		return r.buildRelayerWork(opType, target, relayer)
	}
	return nil, fmt.Errorf("manager: unknown target %q", target)
}

func (r *Registry) buildNodeWork(opType types.OperationType, target string, node config.NodeConfig) (func(context.Context) error, error) {
	switch opType {
	case types.OperationPruning:
		return func(ctx context.Context) error {
			return r.agents.Prune(ctx, node.Server, node.ServiceName, "", node.DeployPath, node.KeepBlocks, node.KeepVersions)
		}, nil

	case types.OperationSnapshotCreation:
		return func(ctx context.Context) error {
			return r.agents.CreateSnapshot(ctx, node.Server, node.Network, node.DeployPath, node.BackupPath, node.ServiceName, node.LogPath, true)
		}, nil

	case types.OperationSnapshotRestore:
		return func(ctx context.Context) error {
			return r.RestoreLatestSnapshot(ctx, target, node.Server)
		}, nil

	case types.OperationStateSync:
		return func(ctx context.Context) error {
			return r.runStateSync(ctx, node)
		}, nil

	case types.OperationNodeRestart:
		return func(ctx context.Context) error {
			if err := r.agents.StopService(ctx, node.Server, node.ServiceName); err != nil {
				return fmt.Errorf("manager: stop %s: %w", target, err)
			}
			return r.agents.StartService(ctx, node.Server, node.ServiceName)
		}, nil

	case types.OperationLogTruncation:
		return func(ctx context.Context) error {
			return r.agents.TruncateLog(ctx, node.Server, node.LogPath)
		}, nil

	default:
		return nil, fmt.Errorf("manager: operation type %q is not valid for node target %q", opType, target)
	}
}

func (r *Registry) buildRelayerWork(opType types.OperationType, target string, relayer config.RelayerConfig) (func(context.Context) error, error) {
	switch opType {
	case types.OperationHermesRestart:
		return func(ctx context.Context) error {
			if err := r.agents.StopService(ctx, relayer.Server, relayer.ServiceName); err != nil {
				return fmt.Errorf("manager: stop relayer %s: %w", target, err)
			}
			return r.agents.StartService(ctx, relayer.Server, relayer.ServiceName)
		}, nil

	default:
		return nil, fmt.Errorf("manager: operation type %q is not valid for relayer target %q", opType, target)
	}
}

// runStateSync resolves trust height/hash from the node's own RPC
// before delegating to the agent, per spec §4.7 step 1.
func (r *Registry) runStateSync(ctx context.Context, node config.NodeConfig) error {
	offset := node.TrustHeightOffset
	if offset <= 0 {
		offset = 2000
	}

	height, hash, err := r.statesync.FetchTrustParams(ctx, node.RPCURL, offset)
	if err != nil {
		return fmt.Errorf("manager: resolve trust params: %w", err)
	}

	rpcServers := node.StateSyncRPCServers
	if rpcServers == "" {
		rpcServers = node.RPCURL
	}
	timeout := node.MaxSyncTimeoutSecond
	if timeout <= 0 {
		timeout = 600
	}

	return r.agents.RunStateSync(ctx, node.Server, node.ServiceName, node.DeployPath,
		DetermineDaemonBinary(node.Network), rpcServers, height, hash, timeout, node.LogPath)
}

// RestoreLatestSnapshot resolves target's most recent snapshot
// directory (lexicographic order matches chronological order, per
// operations.snapshotDirName's `<network>_<YYYYMMDD>_<HHMMSS>` naming)
// and restores it. Satisfies health.RestoreFunc for auto-restore, and
// backs the manual/scheduled snapshot_restore operation type.
func (r *Registry) RestoreLatestSnapshot(ctx context.Context, target, server string) error {
	node, ok := r.cfg.Nodes[target]
	if !ok {
		return fmt.Errorf("manager: %q is not a node", target)
	}

	dirName, err := r.latestSnapshotDir(ctx, server, node.BackupPath)
	if err != nil {
		return fmt.Errorf("manager: find latest snapshot: %w", err)
	}

	return r.agents.RestoreSnapshot(ctx, server, node.DeployPath, filepath.Join(node.BackupPath, dirName), node.ServiceName, node.LogPath)
}

func (r *Registry) latestSnapshotDir(ctx context.Context, server, backupPath string) (string, error) {
	out, err := r.agents.RunCommand(ctx, server, fmt.Sprintf("ls -1 '%s' | sort | tail -n 1", backupPath))
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(out)
	if name == "" {
		return "", fmt.Errorf("no snapshots found in %s", backupPath)
	}
	return name, nil
}
