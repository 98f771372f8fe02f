package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces environment overrides, e.g. MYSQLQUERY_POOL_SIZE
const EnvPrefix = "MYSQLQUERY"

var validate = validator.New()

// Load reads path (YAML) on top of the defaults, then applies environment
// overrides. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Write stores cfg as YAML, refusing to overwrite unless force is set
func Write(path string, cfg *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}

	b, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setDefaults registers every scalar key so AutomaticEnv can override keys
// absent from the file
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.api_addr", d.Server.APIAddr)
	v.SetDefault("server.mcp_addr", d.Server.MCPAddr)
	v.SetDefault("server.mcp_transport", d.Server.MCPTransport)

	v.SetDefault("pool.size", d.Pool.Size)
	v.SetDefault("pool.max_overflow", d.Pool.MaxOverflow)
	v.SetDefault("pool.acquire_timeout", d.Pool.AcquireTimeout)
	v.SetDefault("pool.recycle", d.Pool.Recycle)
	v.SetDefault("pool.idle_timeout", d.Pool.IdleTimeout)
	v.SetDefault("pool.connect_timeout", d.Pool.ConnectTimeout)
	v.SetDefault("pool.read_timeout", d.Pool.ReadTimeout)
	v.SetDefault("pool.write_timeout", d.Pool.WriteTimeout)
	v.SetDefault("pool.idle_ttl", d.Pool.IdleTTL)
	v.SetDefault("pool.sweep_interval", d.Pool.SweepInterval)

	v.SetDefault("query.snapshot", d.Query.Snapshot)
	v.SetDefault("query.max_page_size", d.Query.MaxPageSize)

	v.SetDefault("history.path", d.History.Path)
	v.SetDefault("history.max_entries", d.History.MaxEntries)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)
	v.SetDefault("log.file", d.Log.File)
}
