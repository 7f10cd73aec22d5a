// Package config loads the daemon settings with viper.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load, e.g.
// CALLBACK_SERVER_PROTOCOL for server.protocol.
const EnvPrefix = "CALLBACK"

// Protocols the daemon can serve.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"
	ProtocolBoth = "both"
)

// Config is the full daemon configuration. Keys are named by their
// mapstructure tags, nested with dots (server.protocol).
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Broker   BrokerConfig   `mapstructure:"broker"`
}

// ServerConfig selects the app protocol and its listen addresses.
type ServerConfig struct {
	Protocol    string `mapstructure:"protocol"`
	GRPCAddress string `mapstructure:"grpc_address"`
	HTTPAddress string `mapstructure:"http_address"`
}

// ServesGRPC reports whether the gRPC app protocol is enabled.
func (s ServerConfig) ServesGRPC() bool {
	return s.Protocol == ProtocolGRPC || s.Protocol == ProtocolBoth
}

// ServesHTTP reports whether the HTTP app protocol is enabled.
func (s ServerConfig) ServesHTTP() bool {
	return s.Protocol == ProtocolHTTP || s.Protocol == ProtocolBoth
}

// DispatchConfig bounds the router's worker pool and bulk fan-out.
type DispatchConfig struct {
	MaxConcurrency  int `mapstructure:"max_concurrency"`
	BulkConcurrency int `mapstructure:"bulk_concurrency"`
}

// LogConfig sets the process logger. An empty File logs to stdout only.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// BrokerConfig enables the in-process watermill pub/sub. Topic handlers
// registered under PubsubName also consume from it.
type BrokerConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	PubsubName string `mapstructure:"pubsub_name"`
	BufferSize int64  `mapstructure:"buffer_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.protocol", ProtocolGRPC)
	v.SetDefault("server.grpc_address", ":50051")
	v.SetDefault("server.http_address", ":3000")
	v.SetDefault("dispatch.max_concurrency", 10)
	v.SetDefault("dispatch.bulk_concurrency", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.address", ":9090")
	v.SetDefault("broker.enabled", false)
	v.SetDefault("broker.pubsub_name", "pubsub")
	v.SetDefault("broker.buffer_size", 64)
}

// Load reads configuration from defaults, the optional file at path and the
// environment, in increasing order of precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the daemon cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Server.Protocol {
	case ProtocolGRPC, ProtocolHTTP, ProtocolBoth:
	default:
		errs = append(errs, fmt.Errorf("server.protocol: unknown protocol %q", c.Server.Protocol))
	}
	if c.Server.ServesGRPC() && c.Server.GRPCAddress == "" {
		errs = append(errs, errors.New("server.grpc_address is required"))
	}
	if c.Server.ServesHTTP() && c.Server.HTTPAddress == "" {
		errs = append(errs, errors.New("server.http_address is required"))
	}
	if c.Dispatch.BulkConcurrency < 1 {
		errs = append(errs, errors.New("dispatch.bulk_concurrency must be at least 1"))
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		errs = append(errs, errors.New("metrics.address is required when metrics are enabled"))
	}
	if c.Broker.Enabled && c.Broker.PubsubName == "" {
		errs = append(errs, errors.New("broker.pubsub_name is required when the broker is enabled"))
	}
	return errors.Join(errs...)
}
