package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/fleetops/pkg/alert"
	"github.com/cuemby/fleetops/pkg/config"
	"github.com/cuemby/fleetops/pkg/health"
	"github.com/cuemby/fleetops/pkg/log"
	"github.com/cuemby/fleetops/pkg/manager"
	"github.com/cuemby/fleetops/pkg/scheduler"
	"github.com/cuemby/fleetops/pkg/storage"
	"github.com/cuemby/fleetops/pkg/types"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "fleetops-manager",
	Short:   "fleetops-manager is the fleet control plane for blockchain nodes and relayers",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fleetops-manager version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "/etc/fleetops/manager.toml", "Path to manager config file")

	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the manager: scheduler, health monitor, and operator API",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		logger := log.WithComponent("manager")

		cfg, err := config.LoadManagerConfig(configPath)
		if err != nil {
			return fmt.Errorf("load manager config: %w", err)
		}

		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		locks := scheduler.NewMaintenanceTracker()
		alerts := alert.NewService(cfg.WebhookURL)
		agents := manager.NewAgentClient(cfg.Servers)
		statesync := manager.NewStateSyncCoordinator()
		registry := manager.NewRegistry(cfg, agents, statesync)

		executor := manager.NewOperationExecutor(store, locks, alerts, registry.Resolve)
		if n, err := executor.CleanupStuck(); err != nil {
			logger.Error().Err(err).Msg("crash-recovery sweep failed")
		} else if n > 0 {
			logger.Warn().Int("count", n).Msg("crash-recovery sweep marked stuck operations failed")
		}

		logMonitor := health.NewLogMonitor(agents, alerts)
		autoRestore := health.NewAutoRestoreMonitor(agents, executor, alerts, registry.RestoreLatestSnapshot)
		rpcTimeout := time.Duration(cfg.RPCTimeoutSeconds) * time.Second
		monitor := health.NewMonitor(store, locks, alerts, logMonitor, autoRestore, agents, rpcTimeout)

		sched := scheduler.NewScheduler(executor)
		registerScheduledJobs(sched, registry, cfg, logger)
		sched.Start()

		healthCtx, cancelHealth := context.WithCancel(context.Background())
		go runHealthLoop(healthCtx, monitor, registry, cfg, logger)

		apiServer := manager.NewServer(executor, registry, store)
		errCh := make(chan error, 1)
		go func() {
			logger.Info().Str("addr", cfg.ListenAddr).Msg("manager API listening")
			if err := apiServer.Start(cfg.ListenAddr); err != nil {
				errCh <- fmt.Errorf("manager API server: %w", err)
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
		case err := <-errCh:
			logger.Error().Err(err).Msg("manager exiting on error")
			sched.Stop()
			cancelHealth()
			return err
		}

		sched.Stop()
		cancelHealth()
		return nil
	},
}

// scheduleSpec is one (schedule, target, type) tuple pulled from node
// or relayer configuration.
type scheduleSpec struct {
	schedule string
	target   string
	opType   types.OperationType
}

// registerScheduledJobs registers one cron entry per node/relayer
// maintenance schedule configured, routing every firing through the
// same Registry.BuildWork the operator API's manual trigger uses.
func registerScheduledJobs(sched *scheduler.Scheduler, registry *manager.Registry, cfg *config.ManagerConfig, logger zerolog.Logger) {
	var specs []scheduleSpec

	for name, node := range cfg.Nodes {
		if node.PruningEnabled && node.PruningSchedule != "" {
			specs = append(specs, scheduleSpec{node.PruningSchedule, name, types.OperationPruning})
		}
		if node.SnapshotsEnabled && node.SnapshotSchedule != "" {
			specs = append(specs, scheduleSpec{node.SnapshotSchedule, name, types.OperationSnapshotCreation})
		}
		if node.StateSyncEnabled && node.StateSyncSchedule != "" {
			specs = append(specs, scheduleSpec{node.StateSyncSchedule, name, types.OperationStateSync})
		}
	}
	for name, relayer := range cfg.Hermes {
		if relayer.RestartSchedule != "" {
			specs = append(specs, scheduleSpec{relayer.RestartSchedule, name, types.OperationHermesRestart})
		}
	}

	for _, spec := range specs {
		work, err := registry.BuildWork(spec.opType, spec.target)
		if err != nil {
			logger.Error().Err(err).Str("target", spec.target).Str("type", string(spec.opType)).Msg("skipping schedule registration")
			continue
		}
		if err := sched.Register(scheduler.JobSpec{Schedule: spec.schedule, Target: spec.target, Type: spec.opType, Work: work}); err != nil {
			logger.Error().Err(err).Str("target", spec.target).Str("type", string(spec.opType)).Msg("failed to register scheduled job")
		}
	}
}

// runHealthLoop polls every node and relayer on cfg's check interval
// until ctx is cancelled.
func runHealthLoop(ctx context.Context, monitor *health.Monitor, registry *manager.Registry, cfg *config.ManagerConfig, logger zerolog.Logger) {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			nodes, logCfg, restoreCfg := buildNodeTargets(registry)
			monitor.CheckAllNodes(ctx, nodes, logCfg, restoreCfg)

			relayers := buildRelayerTargets(registry)
			if len(relayers) > 0 {
				monitor.CheckAllRelayers(ctx, relayers)
			}
		}
	}
}

func buildNodeTargets(registry *manager.Registry) (map[string]health.NodeTarget, map[string]health.LogMonitorNodeConfig, map[string]health.AutoRestoreNodeConfig) {
	nodes := make(map[string]health.NodeTarget)
	logCfg := make(map[string]health.LogMonitorNodeConfig)
	restoreCfg := make(map[string]health.AutoRestoreNodeConfig)

	for name, node := range registry.Nodes() {
		nodes[name] = health.NodeTarget{
			Network: node.Network,
			Server:  node.Server,
			RPCURL:  node.RPCURL,
			Enabled: node.Enabled,
		}
		logCfg[name] = health.LogMonitorNodeConfig{
			Enabled:      node.LogMonitoringEnabled,
			Server:       node.Server,
			LogPath:      node.LogPath,
			Patterns:     node.LogMonitorPatterns,
			ContextLines: 2,
		}
		restoreCfg[name] = health.AutoRestoreNodeConfig{
			Enabled:      node.AutoRestoreEnabled,
			Server:       node.Server,
			LogPath:      node.LogPath,
			TriggerWords: node.TriggerWords,
		}
	}
	return nodes, logCfg, restoreCfg
}

func buildRelayerTargets(registry *manager.Registry) map[string]health.RelayerTarget {
	relayers := make(map[string]health.RelayerTarget)
	for name, relayer := range registry.Relayers() {
		relayers[name] = health.RelayerTarget{Server: relayer.Server, ServiceName: relayer.ServiceName}
	}
	return relayers
}
