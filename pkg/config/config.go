// Package config loads the TOML configuration for the manager and
// agent binaries and validates it at startup. Parsing itself is a
// thin wrapper around go-toml/v2; the validation rules below are the
// part that actually matters.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// ServerConfig describes one host running an agent.
type ServerConfig struct {
	Host      string `toml:"host"`
	AgentPort int    `toml:"agent_port"`
	APIKey    string `toml:"api_key"`
}

// NodeConfig describes one full node managed on a server.
type NodeConfig struct {
	Network              string `toml:"network"`
	Server               string `toml:"server"`
	RPCURL               string `toml:"rpc_url"`
	ServiceName          string `toml:"service_name"`
	DeployPath           string `toml:"deploy_path"`
	LogPath              string `toml:"log_path"`
	Enabled              bool   `toml:"enabled"`
	PruningEnabled       bool   `toml:"pruning_enabled"`
	PruningSchedule      string `toml:"pruning_schedule"`
	KeepBlocks           int    `toml:"keep_blocks"`
	KeepVersions         int    `toml:"keep_versions"`
	SnapshotsEnabled     bool   `toml:"snapshots_enabled"`
	SnapshotSchedule     string `toml:"snapshot_schedule"`
	BackupPath           string `toml:"backup_path"`
	StateSyncEnabled     bool   `toml:"state_sync_enabled"`
	StateSyncSchedule    string `toml:"state_sync_schedule"`
	StateSyncRPCServers  string `toml:"state_sync_rpc_servers"`
	TrustHeightOffset    int64  `toml:"trust_height_offset"`
	MaxSyncTimeoutSecond int    `toml:"max_sync_timeout_seconds"`
	AutoRestoreEnabled   bool   `toml:"auto_restore_enabled"`
	TriggerWords         []string `toml:"trigger_words"`
	LogMonitoringEnabled bool   `toml:"log_monitoring_enabled"`
	LogMonitorPatterns   []string `toml:"log_monitor_patterns"`
}

// RelayerConfig describes one Hermes-style relayer process.
type RelayerConfig struct {
	Server          string `toml:"server"`
	ServiceName     string `toml:"service_name"`
	RestartSchedule string `toml:"restart_schedule"`
}

// ManagerConfig is the manager binary's full configuration.
type ManagerConfig struct {
	ListenAddr         string                   `toml:"listen_addr"`
	DataDir            string                   `toml:"data_dir"`
	WebhookURL         string                   `toml:"webhook_url"`
	RPCTimeoutSeconds  int                      `toml:"rpc_timeout_seconds"`
	CheckIntervalSecs  int                      `toml:"check_interval_seconds"`
	MaintenanceCutoffH int                      `toml:"maintenance_cutoff_hours"`
	Servers            map[string]ServerConfig  `toml:"servers"`
	Nodes              map[string]NodeConfig    `toml:"nodes"`
	Hermes             map[string]RelayerConfig `toml:"hermes"`
}

// Validate rejects a ManagerConfig that would make the rest of the
// system misbehave rather than fail loudly at startup (spec §7:
// ConfigError surfaces at startup and aborts).
func (c *ManagerConfig) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	if c.RPCTimeoutSeconds <= 0 {
		c.RPCTimeoutSeconds = 10
	}
	if c.CheckIntervalSecs <= 0 {
		c.CheckIntervalSecs = 60
	}
	if c.MaintenanceCutoffH <= 0 {
		c.MaintenanceCutoffH = 48
	}
	for name, n := range c.Nodes {
		if _, ok := c.Servers[n.Server]; !ok {
			return fmt.Errorf("config: node %q references unknown server %q", name, n.Server)
		}
	}
	for name, h := range c.Hermes {
		if _, ok := c.Servers[h.Server]; !ok {
			return fmt.Errorf("config: relayer %q references unknown server %q", name, h.Server)
		}
	}
	return nil
}

// LoadManagerConfig reads and validates a manager TOML file.
func LoadManagerConfig(path string) (*ManagerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg ManagerConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// AgentConfig is the agent binary's configuration: the API key it
// expects, and the host-local paths/unit names it is allowed to act on.
type AgentConfig struct {
	ListenAddr   string `toml:"listen_addr"`
	APIKey       string `toml:"api_key"`
	DeployPath   string `toml:"deploy_path"`
	BackupPath   string `toml:"backup_path"`
	ServiceName  string `toml:"service_name"`
	PrunerBinary string `toml:"pruner_binary"`
	JobTTLHours  int    `toml:"job_ttl_hours"`
}

// Validate applies agent-side startup checks.
func (c *AgentConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("config: api_key is required")
	}
	if c.DeployPath == "" {
		return fmt.Errorf("config: deploy_path is required")
	}
	if c.JobTTLHours <= 0 {
		c.JobTTLHours = 24
	}
	return nil
}

// LoadAgentConfig reads and validates an agent TOML file.
func LoadAgentConfig(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg AgentConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
