// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the android-trace agent.
type Config struct {
	ServiceName string          `yaml:"service_name" env:"ATRACE_SERVICE_NAME"`
	LogLevel    string          `yaml:"log_level" env:"ATRACE_LOG_LEVEL"`
	Runtime     RuntimeConfig   `yaml:"runtime"`
	Hook        HookConfig      `yaml:"hook"`
	Transport   TransportConfig `yaml:"transport"`
	Control     ControlConfig   `yaml:"control"`
	Health      HealthConfig    `yaml:"health"`
	Redaction   RedactionConfig `yaml:"redaction"`
}

// RuntimeConfig describes the target program.
type RuntimeConfig struct {
	Scripts        []string      `yaml:"scripts"`
	Entrypoint     string        `yaml:"entrypoint"`
	LoadTimeout    time.Duration `yaml:"load_timeout"`
	ClassCacheSize int           `yaml:"class_cache_size"`
}

// HookConfig selects what gets hooked at startup.
type HookConfig struct {
	Include          string   `yaml:"include"`
	Exclude          string   `yaml:"exclude"`
	Classes          []string `yaml:"classes"`
	EnumerateOnStart bool     `yaml:"enumerate_on_start"`
	MemberDiscovery  string   `yaml:"member_discovery"` // "declared" or "chain"
	MaxValueLength   int      `yaml:"max_value_length"`
}

// TransportConfig configures event batching and the exporters.
type TransportConfig struct {
	BufferSize    int             `yaml:"buffer_size"`
	BatchSize     int             `yaml:"batch_size"`
	FlushInterval time.Duration   `yaml:"flush_interval"`
	Stdout        StdoutConfig    `yaml:"stdout"`
	OTLP          OTLPConfig      `yaml:"otlp"`
	WebSocket     WebSocketConfig `yaml:"websocket"`
}

type StdoutConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"` // "text" or "json"
}

type OTLPConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	Compression string            `yaml:"compression"` // "gzip" or "none"
}

// WebSocketConfig serves the live event stream on the health server.
type WebSocketConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ControlConfig configures the datagram control socket.
type ControlConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SocketPath string `yaml:"socket_path"`
}

// HealthConfig configures the health HTTP server.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port" env:"ATRACE_HEALTH_PORT"` // e.g. ":8686"
}

// RedactionConfig configures redaction of captured values.
type RedactionConfig struct {
	Enabled bool            `yaml:"enabled"`
	Rules   []RedactionRule `yaml:"rules"`
}

// RedactionRule is a user-defined redaction pattern.
type RedactionRule struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName: "android-trace",
		LogLevel:    "info",
		Runtime: RuntimeConfig{
			Entrypoint:     "main",
			LoadTimeout:    10 * time.Second,
			ClassCacheSize: 512,
		},
		Hook: HookConfig{
			MemberDiscovery: "declared",
			MaxValueLength:  1024,
		},
		Transport: TransportConfig{
			BufferSize:    10000,
			BatchSize:     256,
			FlushInterval: time.Second,
			Stdout: StdoutConfig{
				Enabled: true,
				Format:  "json",
			},
			OTLP: OTLPConfig{
				Enabled:     false,
				Endpoint:    "localhost:4317",
				Insecure:    true,
				Compression: "gzip",
			},
			WebSocket: WebSocketConfig{
				Enabled: true,
				Path:    "/events",
			},
		},
		Control: ControlConfig{
			Enabled:    true,
			SocketPath: "/var/run/android-trace/control.sock",
		},
		Health: HealthConfig{
			Enabled: true,
			Port:    ":8686",
		},
		Redaction: RedactionConfig{
			Enabled: true,
		},
	}
}

// LoadDir loads section YAML files from a directory and merges them into a
// single Config. Expected files:
//   - base.yaml      → service_name, log_level, runtime, control, health, redaction
//   - hook.yaml      → hook
//   - transport.yaml → transport
//
// Missing files are silently ignored (defaults apply).
func LoadDir(dir string) (*Config, error) {
	cfg := DefaultConfig()

	for _, f := range []string{"base.yaml", "hook.yaml", "transport.yaml"} {
		if err := loadFileInto(filepath.Join(dir, f), cfg); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// loadFileInto reads a YAML file and unmarshals it into an existing Config,
// overwriting only the fields present in the file.
func loadFileInto(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// ApplyEnvOverrides reads ATRACE_* environment variables and applies them
// to the config, overriding YAML values.
func (c *Config) ApplyEnvOverrides() {
	envOverrides := map[string]func(string){
		"ATRACE_SERVICE_NAME":        func(v string) { c.ServiceName = v },
		"ATRACE_LOG_LEVEL":           func(v string) { c.LogLevel = v },
		"ATRACE_HEALTH_PORT":         func(v string) { c.Health.Port = v },
		"ATRACE_HOOK_INCLUDE":        func(v string) { c.Hook.Include = v },
		"ATRACE_HOOK_EXCLUDE":        func(v string) { c.Hook.Exclude = v },
		"ATRACE_HOOK_CLASSES":        func(v string) { c.Hook.Classes = splitList(v) },
		"ATRACE_RUNTIME_SCRIPTS":     func(v string) { c.Runtime.Scripts = splitList(v) },
		"ATRACE_OTLP_ENDPOINT":       func(v string) { c.Transport.OTLP.Endpoint = v },
		"ATRACE_CONTROL_SOCKET_PATH": func(v string) { c.Control.SocketPath = v },
	}

	boolOverrides := map[string]*bool{
		"ATRACE_OTLP_ENABLED":       &c.Transport.OTLP.Enabled,
		"ATRACE_STDOUT_ENABLED":     &c.Transport.Stdout.Enabled,
		"ATRACE_WEBSOCKET_ENABLED":  &c.Transport.WebSocket.Enabled,
		"ATRACE_CONTROL_ENABLED":    &c.Control.Enabled,
		"ATRACE_HEALTH_ENABLED":     &c.Health.Enabled,
		"ATRACE_REDACTION_ENABLED":  &c.Redaction.Enabled,
		"ATRACE_ENUMERATE_ON_START": &c.Hook.EnumerateOnStart,
	}

	intOverrides := map[string]*int{
		"ATRACE_HOOK_MAX_VALUE_LENGTH": &c.Hook.MaxValueLength,
		"ATRACE_TRANSPORT_BATCH_SIZE":  &c.Transport.BatchSize,
	}

	for envKey, setter := range envOverrides {
		if val := os.Getenv(envKey); val != "" {
			setter(val)
		}
	}

	for envKey, target := range boolOverrides {
		if val := os.Getenv(envKey); val != "" {
			*target = parseBool(val)
		}
	}

	for envKey, target := range intOverrides {
		if val := os.Getenv(envKey); val != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
				*target = n
			}
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Hook.Include != "" {
		if _, err := regexp.Compile(c.Hook.Include); err != nil {
			return fmt.Errorf("hook.include: %w", err)
		}
	}
	if c.Hook.Exclude != "" {
		if _, err := regexp.Compile(c.Hook.Exclude); err != nil {
			return fmt.Errorf("hook.exclude: %w", err)
		}
	}
	if len(c.Hook.Classes) > 0 && c.Hook.Include == "" {
		return fmt.Errorf("hook.include is required when hook.classes is set")
	}
	switch c.Hook.MemberDiscovery {
	case "", "declared", "chain":
	default:
		return fmt.Errorf("hook.member_discovery must be 'declared' or 'chain'")
	}

	if c.Transport.BufferSize <= 0 {
		return fmt.Errorf("transport.buffer_size must be positive")
	}
	if c.Transport.BatchSize <= 0 {
		return fmt.Errorf("transport.batch_size must be positive")
	}
	if c.Transport.FlushInterval < time.Millisecond {
		return fmt.Errorf("transport.flush_interval must be at least 1ms")
	}
	if c.Transport.Stdout.Enabled && c.Transport.Stdout.Format != "text" && c.Transport.Stdout.Format != "json" {
		return fmt.Errorf("transport.stdout.format must be 'text' or 'json'")
	}
	if c.Transport.OTLP.Enabled && c.Transport.OTLP.Endpoint == "" {
		return fmt.Errorf("transport.otlp.endpoint is required when OTLP is enabled")
	}
	if c.Transport.WebSocket.Enabled {
		if !strings.HasPrefix(c.Transport.WebSocket.Path, "/") {
			return fmt.Errorf("transport.websocket.path must start with '/'")
		}
		if !c.Health.Enabled {
			return fmt.Errorf("transport.websocket requires the health server")
		}
	}

	if c.Control.Enabled && c.Control.SocketPath == "" {
		return fmt.Errorf("control.socket_path is required when control is enabled")
	}

	for i, r := range c.Redaction.Rules {
		if r.Name == "" {
			return fmt.Errorf("redaction.rules[%d].name is required", i)
		}
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("redaction.rules[%d] (%s): %w", i, r.Name, err)
		}
	}

	return nil
}
