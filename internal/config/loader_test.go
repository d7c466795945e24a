package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"go.flowcatalyst.tech/internal/connector"
	"go.flowcatalyst.tech/internal/connector/job"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mstream-config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadFromFileParsesServicesAndConnectors(t *testing.T) {
	path := writeConfig(t, `
[[services]]
name = "mongo1"
provider = "mongodb"
connection_string = "mongodb://localhost:27017"
db_name = "orders"

[[services]]
name = "kafka1"
provider = "kafka"
"bootstrap.servers" = "localhost:9092"

[[connectors]]
name = "orders-pipe"
enabled = true
checkpoint_enable = true

[connectors.batch]
kind = "count"
size = 100

[connectors.source]
service = "mongo1"
resource = "orders"
output_encoding = "bson"

[[connectors.sinks]]
service = "kafka1"
resource = "orders-out"
output_encoding = "json"
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	require.Len(t, cfg.Services, 2)
	require.Equal(t, "mongo1", cfg.Services[0].Name)
	require.Equal(t, connector.ProviderMongo, cfg.Services[0].Provider)
	require.Equal(t, "mongodb://localhost:27017", cfg.Services[0].Params["connection_string"])

	require.Equal(t, connector.ProviderKafka, cfg.Services[1].Provider)
	require.Equal(t, "localhost:9092", cfg.Services[1].Params["bootstrap.servers"])

	require.Len(t, cfg.Connectors, 1)
	spec := cfg.Connectors[0]
	require.Equal(t, "orders-pipe", spec.Name)
	require.True(t, spec.Enabled)
	require.True(t, spec.CheckpointEnable)
	require.Equal(t, 100, spec.Batch.Size)
	require.Equal(t, "mongo1", spec.Source.Ref.ServiceName)
	require.Len(t, spec.Sinks, 1)
	require.Equal(t, connector.EncodingJSON, spec.Sinks[0].OutputEncoding)
}

func TestLoadFromFileResolvesEnvReferences(t *testing.T) {
	require.NoError(t, os.Setenv("MSTREAM_TEST_URI", "mongodb://secret-host/"))
	defer os.Unsetenv("MSTREAM_TEST_URI")

	path := writeConfig(t, `
[[services]]
name = "mongo1"
provider = "mongodb"
connection_string = "env:MSTREAM_TEST_URI"

[[connectors]]
name = "c1"

[connectors.source]
service = "mongo1"
resource = "orders"
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "mongodb://secret-host/", cfg.Services[0].Params["connection_string"])
}

func TestLoadFromFileAppliesSystemDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
[system.checkpoints]
backend = "redis"
redis_addr = "localhost:6379"

[system.job_lifecycle]
reconciliation_policy = "force_from_file"

[system.service_lifecycle]
shutdown_timeout_sec = 5
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	require.Equal(t, "redis", cfg.Checkpoints.Backend)
	require.Equal(t, "localhost:6379", cfg.Checkpoints.RedisAddr)
	require.Equal(t, job.ReconcileForceFromFile, cfg.JobLifecycle.Policy)
	require.Equal(t, 5e9, float64(cfg.ServiceLifecycle.ShutdownTimeout))
}

func TestLoadFromFileRejectsServiceMissingProvider(t *testing.T) {
	path := writeConfig(t, `
[[services]]
name = "broken"
`)

	_, err := LoadFromFile(path)
	require.Error(t, err)
}

func TestLoadWithFileFallsBackToDefaultsWithoutAFile(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(cwd)

	os.Unsetenv("MSTREAM_CONFIG")

	cfg, err := LoadWithFile()
	require.NoError(t, err)
	require.Empty(t, cfg.Connectors)
	require.Equal(t, "stream_checkpoints", cfg.Checkpoints.Collection)
}
