/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment key LoadConfig reads, e.g.
// DB_CONNECTION_CONFIG_HOST or DB_BULK_CONFIG_CHUNK_SIZE.
const EnvPrefix = "DB"

// LoadConfig reads a yaml/json/toml file (optional when path is empty) and
// applies environment overrides on top of the built-in defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.BulkConfig = cfg.BulkConfig.WithDefaults()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	conn := DefaultConnectionConfig()
	v.SetDefault("connection_config.type", "sqlite")
	v.SetDefault("connection_config.host", "")
	v.SetDefault("connection_config.port", 0)
	v.SetDefault("connection_config.username", "")
	v.SetDefault("connection_config.password", "")
	v.SetDefault("connection_config.dbname", "")
	v.SetDefault("connection_config.sslmode", "")
	v.SetDefault("connection_config.charset", "")
	v.SetDefault("connection_config.max_idle_conns", conn.MaxIdleConns)
	v.SetDefault("connection_config.max_open_conns", conn.MaxOpenConns)
	v.SetDefault("connection_config.conn_max_lifetime", conn.ConnMaxLifetime)
	v.SetDefault("connection_config.conn_max_idle_time", conn.ConnMaxIdleTime)
	v.SetDefault("connection_config.connect_timeout", conn.ConnectTimeout)
	v.SetDefault("connection_config.read_timeout", conn.ReadTimeout)
	v.SetDefault("connection_config.write_timeout", conn.WriteTimeout)
	v.SetDefault("connection_config.enable_reconnect", conn.EnableReconnect)
	v.SetDefault("connection_config.reconnect_interval", conn.ReconnectInterval)
	v.SetDefault("connection_config.max_reconnect_tries", conn.MaxReconnectTries)
	v.SetDefault("connection_config.health_check_interval", conn.HealthCheckInterval)
	v.SetDefault("connection_config.enable_query_log", conn.EnableQueryLog)
	v.SetDefault("connection_config.slow_query_time", conn.SlowQueryTime)

	v.SetDefault("data_migrate_config.enable_migrate_on_startup", false)

	bulk := DefaultBulkConfig()
	v.SetDefault("bulk_config.chunk_size", bulk.ChunkSize)
	v.SetDefault("bulk_config.max_attempts", bulk.MaxAttempts)
	v.SetDefault("bulk_config.initial_interval", bulk.InitialInterval)
	v.SetDefault("bulk_config.max_interval", bulk.MaxInterval)
}

// SaveConfig writes cfg as yaml, creating parent directories as needed.
// Durations are written as strings ("50ms") so LoadConfig can read them back.
func SaveConfig(cfg *Config, path string) error {
	if cfg == nil {
		return fmt.Errorf("database configuration cannot be empty")
	}
	data, err := yaml.Marshal(toYAML(cfg))
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func toYAML(cfg *Config) map[string]any {
	c := cfg.ConnectionConfig
	b := cfg.BulkConfig
	return map[string]any{
		"connection_config": map[string]any{
			"type":                  c.Type,
			"host":                  c.Host,
			"port":                  c.Port,
			"username":              c.Username,
			"password":              c.Password,
			"dbname":                c.DBName,
			"sslmode":               c.SSLMode,
			"charset":               c.Charset,
			"max_idle_conns":        c.MaxIdleConns,
			"max_open_conns":        c.MaxOpenConns,
			"conn_max_lifetime":     c.ConnMaxLifetime.String(),
			"conn_max_idle_time":    c.ConnMaxIdleTime.String(),
			"connect_timeout":       c.ConnectTimeout.String(),
			"read_timeout":          c.ReadTimeout.String(),
			"write_timeout":         c.WriteTimeout.String(),
			"enable_reconnect":      c.EnableReconnect,
			"reconnect_interval":    c.ReconnectInterval.String(),
			"max_reconnect_tries":   c.MaxReconnectTries,
			"health_check_interval": c.HealthCheckInterval.String(),
			"enable_query_log":      c.EnableQueryLog,
			"slow_query_time":       c.SlowQueryTime.String(),
		},
		"data_migrate_config": map[string]any{
			"enable_migrate_on_startup": cfg.DataMigrateConfig.EnableMigrateOnStartup,
		},
		"bulk_config": map[string]any{
			"chunk_size":       b.ChunkSize,
			"max_attempts":     b.MaxAttempts,
			"initial_interval": b.InitialInterval.String(),
			"max_interval":     b.MaxInterval.String(),
		},
	}
}
