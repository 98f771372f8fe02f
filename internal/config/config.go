// Package config loads service settings from YAML and MYSQLQUERY_* variables.
package config

import (
	"time"

	"github.com/kaz/mysqlquery/internal/logger"
	"github.com/kaz/mysqlquery/internal/pool"
	"github.com/kaz/mysqlquery/internal/profile"
	"github.com/kaz/mysqlquery/internal/query"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Pool        PoolConfig        `mapstructure:"pool" yaml:"pool"`
	Query       QueryConfig       `mapstructure:"query" yaml:"query"`
	History     HistoryConfig     `mapstructure:"history" yaml:"history"`
	Log         logger.Config     `mapstructure:"log" yaml:"log"`
	Connections []profile.Profile `mapstructure:"connections" yaml:"connections" validate:"dive"`
}

type ServerConfig struct {
	APIAddr      string `mapstructure:"api_addr" yaml:"api_addr"`
	MCPAddr      string `mapstructure:"mcp_addr" yaml:"mcp_addr"`
	MCPTransport string `mapstructure:"mcp_transport" yaml:"mcp_transport" validate:"oneof=sse stdio none"`
}

type PoolConfig struct {
	Size           int           `mapstructure:"size" yaml:"size" validate:"min=1"`
	MaxOverflow    int           `mapstructure:"max_overflow" yaml:"max_overflow" validate:"min=0"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout" validate:"gt=0"`
	Recycle        time.Duration `mapstructure:"recycle" yaml:"recycle" validate:"min=0"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"min=0"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout" validate:"min=0"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"min=0"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"min=0"`
	IdleTTL        time.Duration `mapstructure:"idle_ttl" yaml:"idle_ttl" validate:"min=0"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval" validate:"min=0"`
}

// Options converts the section to registry options
func (p PoolConfig) Options() pool.Options {
	return pool.Options{
		Size:           p.Size,
		MaxOverflow:    p.MaxOverflow,
		AcquireTimeout: p.AcquireTimeout,
		Recycle:        p.Recycle,
		IdleTimeout:    p.IdleTimeout,
		ConnectTimeout: p.ConnectTimeout,
		ReadTimeout:    p.ReadTimeout,
		WriteTimeout:   p.WriteTimeout,
		IdleTTL:        p.IdleTTL,
		SweepInterval:  p.SweepInterval,
	}
}

type QueryConfig struct {
	Snapshot    bool `mapstructure:"snapshot" yaml:"snapshot"`
	MaxPageSize int  `mapstructure:"max_page_size" yaml:"max_page_size" validate:"min=1,max=100"`
}

type HistoryConfig struct {
	Path       string `mapstructure:"path" yaml:"path"`
	MaxEntries int    `mapstructure:"max_entries" yaml:"max_entries" validate:"min=0"`
}

// Default returns the settings used when nothing is configured
func Default() *Config {
	po := pool.DefaultOptions()
	return &Config{
		Server: ServerConfig{
			APIAddr:      ":9000",
			MCPAddr:      ":9001",
			MCPTransport: "sse",
		},
		Pool: PoolConfig{
			Size:           po.Size,
			MaxOverflow:    po.MaxOverflow,
			AcquireTimeout: po.AcquireTimeout,
			Recycle:        po.Recycle,
			IdleTimeout:    po.IdleTimeout,
			ConnectTimeout: po.ConnectTimeout,
			ReadTimeout:    po.ReadTimeout,
			WriteTimeout:   po.WriteTimeout,
			IdleTTL:        po.IdleTTL,
			SweepInterval:  po.SweepInterval,
		},
		Query: QueryConfig{
			MaxPageSize: query.MaxPageSize,
		},
		History: HistoryConfig{
			Path:       "data/history.db",
			MaxEntries: 1000,
		},
		Log: logger.Config{
			Level: "info",
		},
		Connections: []profile.Profile{},
	}
}
