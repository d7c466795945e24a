// Package config loads the mstream TOML configuration file into the
// runtime types the service registry, schema cache, and job lifecycle
// manager are wired from.
package config

import (
	"os"
	"time"

	"go.flowcatalyst.tech/internal/connector"
	"go.flowcatalyst.tech/internal/connector/job"
)

// Config is the fully resolved runtime configuration: every `env:VAR_NAME`
// reference has already been substituted and every TOML table converted to
// its connector-domain type.
type Config struct {
	SystemMongo      SystemMongoConfig
	Services         []connector.ServiceDescriptor
	Connectors       []connector.ConnectorSpec
	Checkpoints      CheckpointConfig
	JobLifecycle     JobLifecycleConfig
	ServiceLifecycle ServiceLifecycleConfig
	Logs             LogsConfig
}

// SystemMongoConfig connects the process to the Mongo database backing its
// own system collections (stream_checkpoints, schema_cache, connector_jobs)
// — distinct from any `[[services]]` entry a connector reads from or writes
// to, which the job registry dials independently.
type SystemMongoConfig struct {
	URI      string
	Database string
}

// CheckpointConfig selects and configures the checkpoint manager's storage
// backend.
type CheckpointConfig struct {
	Backend    string // "mongo" (default) or "redis"
	Collection string
	RedisAddr  string
}

// JobLifecycleConfig configures the startup reconciliation policy and the
// persistence collection the job lifecycle manager reconciles against, per
// spec.md §4.8.
type JobLifecycleConfig struct {
	Collection string
	Policy     job.ReconciliationPolicy
}

// ServiceLifecycleConfig configures how long the whole graceful shutdown
// sequence may take.
type ServiceLifecycleConfig struct {
	ShutdownTimeout time.Duration
}

// LogsConfig configures the ambient text logger every cmd/*/main.go wires
// up at startup.
type LogsConfig struct {
	Level  string
	Format string
}

func defaultConfig() Config {
	return Config{
		SystemMongo: SystemMongoConfig{
			URI:      "mongodb://localhost:27017/?replicaSet=rs0&directConnection=true",
			Database: "mstream",
		},
		Checkpoints: CheckpointConfig{
			Backend:    "mongo",
			Collection: "stream_checkpoints",
		},
		JobLifecycle: JobLifecycleConfig{
			Collection: "connector_jobs",
			Policy:     job.ReconcileKeep,
		},
		ServiceLifecycle: ServiceLifecycleConfig{
			ShutdownTimeout: 30 * time.Second,
		},
		Logs: LogsConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the default configuration, overlaid with MSTREAM_LOG_LEVEL,
// MSTREAM_MONGO_URI and MSTREAM_MONGO_DATABASE. LoadWithFile returns it
// as is when no config file is found.
func Load() (*Config, error) {
	cfg := defaultConfig()
	cfg.Logs.Level = getEnv("MSTREAM_LOG_LEVEL", cfg.Logs.Level)
	cfg.SystemMongo.URI = getEnv("MSTREAM_MONGO_URI", cfg.SystemMongo.URI)
	cfg.SystemMongo.Database = getEnv("MSTREAM_MONGO_DATABASE", cfg.SystemMongo.Database)
	return &cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}
