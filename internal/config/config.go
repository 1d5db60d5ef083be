package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Bus holds the pub/sub connection settings shared by all three roles.
type Bus struct {
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

func (b *Bus) applyDefaults() {
	if b.SubjectPrefix == "" {
		b.SubjectPrefix = "pony.events"
	}
}

// Orchestrator configures the central API process.
type Orchestrator struct {
	ListenAddr  string `toml:"listen_addr"`
	Token       string `toml:"token"`
	DatabaseURL string `toml:"database_url"`
	GraphiteURL string `toml:"graphite_url"`
	LogLevel    string `toml:"log_level"`
	Bus         Bus    `toml:"bus"`

	HealthInterval Duration `toml:"health_interval"` // default 60s
	HealthTimeout  Duration `toml:"health_timeout"`  // default 90s
	QuotaInterval  Duration `toml:"quota_interval"`  // default 5m
}

func (c *Orchestrator) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.Token == "" {
		return fmt.Errorf("token is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	if c.Bus.URL == "" {
		return fmt.Errorf("bus.url is required")
	}
	c.Bus.applyDefaults()
	return nil
}

// AgentWireguard is the agent's local WireGuard interface description; it
// becomes the node's wireguard inbound when set.
type AgentWireguard struct {
	Interface string   `toml:"interface"`
	Privkey   string   `toml:"privkey"`
	Pubkey    string   `toml:"pubkey"`
	Network   string   `toml:"network"` // CIDR, e.g. "10.0.0.1/24"
	Port      uint16   `toml:"port"`
	DNS       []string `toml:"dns"`
}

// Agent configures the node-local reconciler.
type Agent struct {
	Env             string          `toml:"env"`
	Label           string          `toml:"label"`
	OrchestratorURL string          `toml:"orchestrator_url"`
	Token           string          `toml:"token"`
	XrayConfigPath  string          `toml:"xray_config_path"`
	XrayAPIAddr     string          `toml:"xray_api_addr"`
	CarbonAddr      string          `toml:"carbon_addr"`
	MetricsAddr     string          `toml:"metrics_addr"`
	DebugAddr       string          `toml:"debug_addr"`
	DebugToken      string          `toml:"debug_token"`
	LogLevel        string          `toml:"log_level"`
	Bus             Bus             `toml:"bus"`
	Wireguard       *AgentWireguard `toml:"wireguard"`

	StatInterval      Duration `toml:"stat_interval"`      // default 30s
	TelemetryInterval Duration `toml:"telemetry_interval"` // default 15s
}

func (c *Agent) Validate() error {
	if c.Env == "" || len(c.Env) > 50 {
		return fmt.Errorf("env is required and must be at most 50 characters")
	}
	if c.OrchestratorURL == "" {
		return fmt.Errorf("orchestrator_url is required")
	}
	if c.XrayConfigPath == "" {
		return fmt.Errorf("xray_config_path is required")
	}
	if c.XrayAPIAddr == "" {
		return fmt.Errorf("xray_api_addr is required")
	}
	if c.CarbonAddr == "" {
		return fmt.Errorf("carbon_addr is required")
	}
	if c.Bus.URL == "" {
		return fmt.Errorf("bus.url is required")
	}
	c.Bus.applyDefaults()
	return nil
}

// Sidecar configures the Hysteria2 auth sidecar.
type Sidecar struct {
	Env              string   `toml:"env"`
	ListenAddr       string   `toml:"listen_addr"`
	MetricsAddr      string   `toml:"metrics_addr"`
	OrchestratorURL  string   `toml:"orchestrator_url"`
	Token            string   `toml:"token"`
	SnapshotPath     string   `toml:"snapshot_path"`
	LogLevel         string   `toml:"log_level"`
	Bus              Bus      `toml:"bus"`
	SnapshotInterval Duration `toml:"snapshot_interval"` // default 60s
}

func (c *Sidecar) Validate() error {
	if c.Env == "" {
		return fmt.Errorf("env is required")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.OrchestratorURL == "" {
		return fmt.Errorf("orchestrator_url is required")
	}
	if c.SnapshotPath == "" {
		return fmt.Errorf("snapshot_path is required")
	}
	if c.Bus.URL == "" {
		return fmt.Errorf("bus.url is required")
	}
	c.Bus.applyDefaults()
	return nil
}

// Load decodes the TOML file at path into cfg.
func Load(path string, cfg any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
