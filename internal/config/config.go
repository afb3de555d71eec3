// Package config loads the bridge configuration. Defaults are embedded in
// code; a TOML file at ~/.devbridge.toml (or a --config override) adjusts
// them. The serve mode can watch the file and reload on change.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the complete TOML configuration structure.
type Config struct {
	Discovery  DiscoveryConfig  `toml:"discovery"`
	Automation AutomationConfig `toml:"automation"`
	Bridge     BridgeConfig     `toml:"bridge"`
	HTTP       HTTPConfig       `toml:"http"`
	Log        LogConfig        `toml:"log"`
}

type DiscoveryConfig struct {
	Ports            []int    `toml:"ports"`
	Signatures       []string `toml:"signatures"`
	DefaultPort      int      `toml:"default_port"`
	EndpointPath     string   `toml:"endpoint_path"`
	ProbeTimeoutMs   int      `toml:"probe_timeout_ms"`
	OverallTimeoutMs int      `toml:"overall_timeout_ms"`
	CacheTTLMs       int      `toml:"cache_ttl_ms"`
}

type AutomationConfig struct {
	Backend          string `toml:"backend"`
	Headless         bool   `toml:"headless"`
	StartupTimeoutMs int    `toml:"startup_timeout_ms"`
	InstallTimeoutMs int    `toml:"install_timeout_ms"`
}

type BridgeConfig struct {
	RequestTimeoutMs int `toml:"request_timeout_ms"`
}

type HTTPConfig struct {
	Port int `toml:"port"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Discovery: DiscoveryConfig{
			Ports:            []int{3000, 3001, 3002, 3003, 4000, 5173, 8080},
			Signatures:       []string{"next dev", "next-server"},
			DefaultPort:      3000,
			EndpointPath:     "/_next/mcp",
			ProbeTimeoutMs:   1000,
			OverallTimeoutMs: 5000,
			CacheTTLMs:       30000,
		},
		Automation: AutomationConfig{
			Backend:          "chrome-devtools",
			Headless:         false,
			StartupTimeoutMs: 10000,
			InstallTimeoutMs: 120000,
		},
		Bridge: BridgeConfig{
			RequestTimeoutMs: 30000,
		},
		HTTP: HTTPConfig{
			Port: 7777,
		},
		Log: LogConfig{
			Level: "warn",
		},
	}
}

// UserConfigPath returns the default user config location.
func UserConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".devbridge.toml"), nil
}

// Load reads the config at path, falling back to defaults when the path is
// empty or the file is missing. Partial files are merged over defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		userPath, err := UserConfigPath()
		if err != nil {
			return cfg, nil
		}
		path = userPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}
	setDefaults(cfg)
	return cfg, nil
}

// setDefaults fills in zero values left by a partial config file.
func setDefaults(cfg *Config) {
	def := Default()
	if len(cfg.Discovery.Ports) == 0 {
		cfg.Discovery.Ports = def.Discovery.Ports
	}
	if len(cfg.Discovery.Signatures) == 0 {
		cfg.Discovery.Signatures = def.Discovery.Signatures
	}
	if cfg.Discovery.DefaultPort == 0 {
		cfg.Discovery.DefaultPort = def.Discovery.DefaultPort
	}
	if cfg.Discovery.EndpointPath == "" {
		cfg.Discovery.EndpointPath = def.Discovery.EndpointPath
	}
	if cfg.Discovery.ProbeTimeoutMs == 0 {
		cfg.Discovery.ProbeTimeoutMs = def.Discovery.ProbeTimeoutMs
	}
	if cfg.Discovery.OverallTimeoutMs == 0 {
		cfg.Discovery.OverallTimeoutMs = def.Discovery.OverallTimeoutMs
	}
	if cfg.Discovery.CacheTTLMs == 0 {
		cfg.Discovery.CacheTTLMs = def.Discovery.CacheTTLMs
	}
	if cfg.Automation.Backend == "" {
		cfg.Automation.Backend = def.Automation.Backend
	}
	if cfg.Automation.StartupTimeoutMs == 0 {
		cfg.Automation.StartupTimeoutMs = def.Automation.StartupTimeoutMs
	}
	if cfg.Automation.InstallTimeoutMs == 0 {
		cfg.Automation.InstallTimeoutMs = def.Automation.InstallTimeoutMs
	}
	if cfg.Bridge.RequestTimeoutMs == 0 {
		cfg.Bridge.RequestTimeoutMs = def.Bridge.RequestTimeoutMs
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = def.HTTP.Port
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
}

// Duration accessors. Stored as milliseconds in TOML.

func (c *DiscoveryConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMs) * time.Millisecond
}

func (c *DiscoveryConfig) OverallTimeout() time.Duration {
	return time.Duration(c.OverallTimeoutMs) * time.Millisecond
}

func (c *DiscoveryConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMs) * time.Millisecond
}

func (c *AutomationConfig) StartupTimeout() time.Duration {
	return time.Duration(c.StartupTimeoutMs) * time.Millisecond
}

func (c *AutomationConfig) InstallTimeout() time.Duration {
	return time.Duration(c.InstallTimeoutMs) * time.Millisecond
}

func (c *BridgeConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}
