// Package fbpconfig loads and hot-reloads the daemon's configuration: the
// engine's topic prefix and arena size, the port's role and timeouts, and
// the admin API's listen address. Shaped after the teacher's per-module
// config structs (tagged for json/yaml/env), extended with a toml decoder
// and a fsnotify-backed watch loop.
package fbpconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// EngineConfig configures one pubsub.Engine.
type EngineConfig struct {
	Prefix    string `json:"prefix" yaml:"prefix" toml:"prefix" env:"FBP_ENGINE_PREFIX"`
	ArenaSize int    `json:"arenaSize" yaml:"arenaSize" toml:"arena_size" env:"FBP_ENGINE_ARENA_SIZE"`
}

// PortConfig configures one port.Port. NegotiateTimeoutMs is loaded and
// validated but not passed to the port, whose handshake timeout is a fixed
// 1000 ms.
type PortConfig struct {
	Role               string `json:"role" yaml:"role" toml:"role" env:"FBP_PORT_ROLE"` // "upstream" or "downstream"
	NegotiateTimeoutMs int    `json:"negotiateTimeoutMs" yaml:"negotiateTimeoutMs" toml:"negotiate_timeout_ms" env:"FBP_PORT_NEGOTIATE_TIMEOUT_MS"`
}

// AdminConfig configures the introspection HTTP API.
type AdminConfig struct {
	ListenAddr string `json:"listenAddr" yaml:"listenAddr" toml:"listen_addr" env:"FBP_ADMIN_LISTEN_ADDR"`
	Enabled    bool   `json:"enabled" yaml:"enabled" toml:"enabled" env:"FBP_ADMIN_ENABLED"`
}

// Config is the daemon's full configuration tree.
type Config struct {
	Engine EngineConfig `json:"engine" yaml:"engine" toml:"engine"`
	Port   PortConfig   `json:"port" yaml:"port" toml:"port"`
	Admin  AdminConfig  `json:"admin" yaml:"admin" toml:"admin"`
}

// Default returns the configuration a bare `fbpd serve` runs with absent a
// config file.
func Default() Config {
	return Config{
		Engine: EngineConfig{Prefix: "h/", ArenaSize: 1 << 16},
		Port:   PortConfig{Role: "upstream", NegotiateTimeoutMs: 1000},
		Admin:  AdminConfig{ListenAddr: ":8420", Enabled: true},
	}
}

func (c Config) validate() error {
	var errs error
	if c.Engine.ArenaSize <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("engine.arenaSize must be positive, got %d", c.Engine.ArenaSize))
	}
	switch c.Port.Role {
	case "upstream", "downstream":
	default:
		errs = multierr.Append(errs, fmt.Errorf("port.role must be \"upstream\" or \"downstream\", got %q", c.Port.Role))
	}
	if c.Port.NegotiateTimeoutMs <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("port.negotiateTimeoutMs must be positive, got %d", c.Port.NegotiateTimeoutMs))
	}
	return errs
}

// Load reads path, picking a decoder by file extension (.yaml/.yml or
// .toml), applies env-tag overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("fbpconfig: read %s: %w", path, err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("fbpconfig: parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("fbpconfig: parse %s: %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("fbpconfig: unsupported config extension %q", ext)
	}
	applyEnvOverrides(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides reads the env tags declared above directly, rather than
// via reflection, since the field set is small and static.
func applyEnvOverrides(c *Config) {
	if v, ok := os.LookupEnv("FBP_ENGINE_PREFIX"); ok {
		c.Engine.Prefix = v
	}
	if v, ok := os.LookupEnv("FBP_ENGINE_ARENA_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.ArenaSize = n
		}
	}
	if v, ok := os.LookupEnv("FBP_PORT_ROLE"); ok {
		c.Port.Role = v
	}
	if v, ok := os.LookupEnv("FBP_PORT_NEGOTIATE_TIMEOUT_MS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port.NegotiateTimeoutMs = n
		}
	}
	if v, ok := os.LookupEnv("FBP_ADMIN_LISTEN_ADDR"); ok {
		c.Admin.ListenAddr = v
	}
	if v, ok := os.LookupEnv("FBP_ADMIN_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Admin.Enabled = b
		}
	}
}
