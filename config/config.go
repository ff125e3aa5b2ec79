// Package config loads driftsync's server/client configuration via
// spf13/viper, grounded on smartramana-developer-mesh's
// pkg/common/config.Load: environment variables (with "." replaced by
// "_") layered over an optional YAML file, unmarshalled into plain
// structs.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig configures the demo sync server, cmd/driftsyncd.
type ServerConfig struct {
	ListenAddress     string        `mapstructure:"listen_address"`
	DatabaseURL       string        `mapstructure:"database_url"`
	JWTSecret         string        `mapstructure:"jwt_secret"`
	SchemaVersion     int           `mapstructure:"schema_version"`
	MaxConnPerUser    int           `mapstructure:"max_conn_per_user"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
}

// ClientConfig configures the demo sync client, cmd/driftsync-cli.
type ClientConfig struct {
	ServerURL       string        `mapstructure:"server_url"`
	JWTToken        string        `mapstructure:"jwt_token"`
	DatabasePath    string        `mapstructure:"database_path"`
	SyncIntervalMS  int           `mapstructure:"sync_interval_ms"`
	BatchSize       int           `mapstructure:"batch_size"`
	ConflictPolicy  string        `mapstructure:"conflict_policy"`
	RealtimeEnabled bool          `mapstructure:"realtime_enabled"`
	ReconnectDelay  time.Duration `mapstructure:"reconnect_delay"`
}

func newViper(configFile, envPrefix string) *viper.Viper {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func readIfPresent(v *viper.Viper, configFile string) error {
	if configFile == "" {
		return nil
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", configFile, err)
	}
	return nil
}

// LoadServerConfig loads a ServerConfig from DRIFTSYNC_* env vars layered
// over an optional YAML file.
func LoadServerConfig(configFile string) (ServerConfig, error) {
	v := newViper(configFile, "driftsync")
	v.SetDefault("listen_address", ":8080")
	v.SetDefault("schema_version", 1)
	v.SetDefault("max_conn_per_user", 4)
	v.SetDefault("heartbeat_interval", 30*time.Second)
	v.SetDefault("connection_timeout", 0)
	// Keys without a default are invisible to Unmarshal under AutomaticEnv.
	v.SetDefault("database_url", "")
	v.SetDefault("jwt_secret", "")

	if err := readIfPresent(v, configFile); err != nil {
		return ServerConfig{}, err
	}
	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("unmarshal server config: %w", err)
	}
	return cfg, nil
}

// LoadClientConfig loads a ClientConfig from DRIFTSYNC_* env vars layered
// over an optional YAML file.
func LoadClientConfig(configFile string) (ClientConfig, error) {
	v := newViper(configFile, "driftsync")
	v.SetDefault("database_path", "driftsync-client.db")
	v.SetDefault("sync_interval_ms", 30000)
	v.SetDefault("batch_size", 50)
	v.SetDefault("conflict_policy", "last_write_wins")
	v.SetDefault("realtime_enabled", true)
	v.SetDefault("reconnect_delay", time.Second)
	// Keys without a default are invisible to Unmarshal under AutomaticEnv.
	v.SetDefault("server_url", "")
	v.SetDefault("jwt_token", "")

	if err := readIfPresent(v, configFile); err != nil {
		return ClientConfig{}, err
	}
	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("unmarshal client config: %w", err)
	}
	return cfg, nil
}
