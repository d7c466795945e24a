package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"go.flowcatalyst.tech/internal/connector"
	"go.flowcatalyst.tech/internal/connector/job"
)

// TOMLConfig represents the on-disk mstream-config.toml structure, per
// spec.md §6.
type TOMLConfig struct {
	Services   []map[string]interface{} `toml:"services"`
	Connectors []tomlConnector          `toml:"connectors"`
	System     tomlSystemConfig         `toml:"system"`
}

type tomlConnector struct {
	Name             string                     `toml:"name"`
	Enabled          bool                       `toml:"enabled"`
	CheckpointEnable bool                       `toml:"checkpoint_enable"`
	Batch            *tomlBatchPolicy           `toml:"batch"`
	Source           tomlEndpoint               `toml:"source"`
	Schemas          map[string]tomlResourceRef `toml:"schemas"`
	Middlewares      []tomlEndpoint             `toml:"middlewares"`
	Sinks            []tomlEndpoint             `toml:"sinks"`
}

type tomlBatchPolicy struct {
	Kind string `toml:"kind"`
	Size int    `toml:"size"`
}

type tomlEndpoint struct {
	Service        string `toml:"service"`
	Resource       string `toml:"resource"`
	InputEncoding  string `toml:"input_encoding"`
	OutputEncoding string `toml:"output_encoding"`
	SchemaID       string `toml:"schema_id"`
}

type tomlResourceRef struct {
	Service  string `toml:"service"`
	Resource string `toml:"resource"`
}

type tomlSystemConfig struct {
	Mongo            tomlSystemMongoConfig      `toml:"mongo"`
	Checkpoints      tomlCheckpointConfig       `toml:"checkpoints"`
	JobLifecycle     tomlJobLifecycleConfig     `toml:"job_lifecycle"`
	ServiceLifecycle tomlServiceLifecycleConfig `toml:"service_lifecycle"`
	Logs             tomlLogsConfig             `toml:"logs"`
}

type tomlSystemMongoConfig struct {
	URI      string `toml:"uri"`
	Database string `toml:"database"`
}

type tomlCheckpointConfig struct {
	Backend    string `toml:"backend"`
	Collection string `toml:"collection"`
	RedisAddr  string `toml:"redis_addr"`
}

type tomlJobLifecycleConfig struct {
	Collection           string `toml:"collection"`
	ReconciliationPolicy string `toml:"reconciliation_policy"`
}

type tomlServiceLifecycleConfig struct {
	ShutdownTimeoutSec int `toml:"shutdown_timeout_sec"`
}

type tomlLogsConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ConfigPaths lists the paths to search for the config file when
// MSTREAM_CONFIG is not set.
var ConfigPaths = []string{
	"mstream-config.toml",
	"./config/mstream-config.toml",
	"/etc/mstream/mstream-config.toml",
}

// LoadFromFile loads and resolves configuration from a TOML file, with
// every `env:VAR_NAME` string substituted from the process environment at
// load time, per spec.md §6.
func LoadFromFile(path string) (*Config, error) {
	var tc TOMLConfig
	if _, err := toml.DecodeFile(path, &tc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return tomlConfigToConfig(&tc)
}

// LoadWithFile looks for a TOML config file via MSTREAM_CONFIG or
// ConfigPaths. Without one it returns Load's result. With one it returns
// the file's values over the built-in defaults; MSTREAM_LOG_LEVEL, when
// set, overrides the file's log level, while MSTREAM_MONGO_URI and
// MSTREAM_MONGO_DATABASE are not applied on top of a file.
func LoadWithFile() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	configPath := os.Getenv("MSTREAM_CONFIG")
	if configPath == "" {
		for _, path := range ConfigPaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}
	}
	if configPath == "" {
		return cfg, nil
	}

	fileCfg, err := LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	if level, ok := os.LookupEnv("MSTREAM_LOG_LEVEL"); ok {
		fileCfg.Logs.Level = level
	}
	return fileCfg, nil
}

func tomlConfigToConfig(tc *TOMLConfig) (*Config, error) {
	cfg := defaultConfig()

	services := make([]connector.ServiceDescriptor, 0, len(tc.Services))
	for _, raw := range tc.Services {
		desc, err := serviceFromTOML(raw)
		if err != nil {
			return nil, err
		}
		services = append(services, desc)
	}
	cfg.Services = services

	connectors := make([]connector.ConnectorSpec, 0, len(tc.Connectors))
	for _, tconn := range tc.Connectors {
		spec, err := connectorFromTOML(tconn)
		if err != nil {
			return nil, err
		}
		connectors = append(connectors, spec)
	}
	cfg.Connectors = connectors

	if tc.System.Mongo.URI != "" {
		cfg.SystemMongo.URI = resolveEnvRef(tc.System.Mongo.URI)
	}
	if tc.System.Mongo.Database != "" {
		cfg.SystemMongo.Database = resolveEnvRef(tc.System.Mongo.Database)
	}

	if tc.System.Checkpoints.Backend != "" {
		cfg.Checkpoints.Backend = resolveEnvRef(tc.System.Checkpoints.Backend)
	}
	if tc.System.Checkpoints.Collection != "" {
		cfg.Checkpoints.Collection = resolveEnvRef(tc.System.Checkpoints.Collection)
	}
	if tc.System.Checkpoints.RedisAddr != "" {
		cfg.Checkpoints.RedisAddr = resolveEnvRef(tc.System.Checkpoints.RedisAddr)
	}

	if tc.System.JobLifecycle.Collection != "" {
		cfg.JobLifecycle.Collection = resolveEnvRef(tc.System.JobLifecycle.Collection)
	}
	if tc.System.JobLifecycle.ReconciliationPolicy != "" {
		cfg.JobLifecycle.Policy = job.ReconciliationPolicy(resolveEnvRef(tc.System.JobLifecycle.ReconciliationPolicy))
	}

	if tc.System.ServiceLifecycle.ShutdownTimeoutSec > 0 {
		cfg.ServiceLifecycle.ShutdownTimeout = time.Duration(tc.System.ServiceLifecycle.ShutdownTimeoutSec) * time.Second
	}

	if tc.System.Logs.Level != "" {
		cfg.Logs.Level = resolveEnvRef(tc.System.Logs.Level)
	}
	if tc.System.Logs.Format != "" {
		cfg.Logs.Format = resolveEnvRef(tc.System.Logs.Format)
	}

	return &cfg, nil
}

func serviceFromTOML(raw map[string]interface{}) (connector.ServiceDescriptor, error) {
	name, _ := raw["name"].(string)
	providerStr, _ := raw["provider"].(string)
	if name == "" {
		return connector.ServiceDescriptor{}, fmt.Errorf("service entry missing name")
	}
	if providerStr == "" {
		return connector.ServiceDescriptor{}, fmt.Errorf("service %q missing provider", name)
	}

	params := make(map[string]string)
	for k, v := range raw {
		if k == "name" || k == "provider" {
			continue
		}
		flattenTOMLValue(k, v, params)
	}

	return connector.ServiceDescriptor{
		Name:     resolveEnvRef(name),
		Provider: connector.Provider(providerStr),
		Params:   params,
	}, nil
}

// flattenTOMLValue walks a decoded TOML value, recursing into nested tables
// (e.g. pubsub's `auth = { kind = ... }`, udf's `engine = { kind = ... }`)
// and resolving `env:VAR_NAME` references on every leaf string, generalized
// from getEnv's "read one named value" idiom to "substitute every string
// found while walking an arbitrary decoded config value".
func flattenTOMLValue(prefix string, v interface{}, out map[string]string) {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, nested := range val {
			flattenTOMLValue(prefix+"."+k, nested, out)
		}
	case string:
		out[prefix] = resolveEnvRef(val)
	case bool:
		out[prefix] = strconv.FormatBool(val)
	case int64:
		out[prefix] = strconv.FormatInt(val, 10)
	case float64:
		out[prefix] = strconv.FormatFloat(val, 'f', -1, 64)
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				parts = append(parts, resolveEnvRef(s))
			} else {
				parts = append(parts, fmt.Sprint(item))
			}
		}
		out[prefix] = strings.Join(parts, ",")
	default:
		out[prefix] = fmt.Sprint(val)
	}
}

func connectorFromTOML(tc tomlConnector) (connector.ConnectorSpec, error) {
	spec := connector.ConnectorSpec{
		Name:             resolveEnvRef(tc.Name),
		Enabled:          tc.Enabled,
		CheckpointEnable: tc.CheckpointEnable,
		Source:           endpointFromTOML(tc.Source),
	}

	if tc.Batch != nil {
		spec.Batch = &connector.BatchPolicy{Kind: tc.Batch.Kind, Size: tc.Batch.Size}
	}

	if len(tc.Schemas) > 0 {
		spec.Schemas = make(map[connector.SchemaID]connector.ResourceReference, len(tc.Schemas))
		for id, ref := range tc.Schemas {
			spec.Schemas[connector.SchemaID(id)] = connector.ResourceReference{
				ServiceName: resolveEnvRef(ref.Service),
				Resource:    resolveEnvRef(ref.Resource),
			}
		}
	}

	for _, mw := range tc.Middlewares {
		spec.Middlewares = append(spec.Middlewares, endpointFromTOML(mw))
	}
	for _, sk := range tc.Sinks {
		spec.Sinks = append(spec.Sinks, endpointFromTOML(sk))
	}

	return spec, nil
}

func endpointFromTOML(te tomlEndpoint) connector.EndpointSpec {
	return connector.EndpointSpec{
		Ref: connector.ResourceReference{
			ServiceName: resolveEnvRef(te.Service),
			Resource:    resolveEnvRef(te.Resource),
		},
		InputEncoding:  connector.Encoding(te.InputEncoding),
		OutputEncoding: connector.Encoding(te.OutputEncoding),
		SchemaID:       connector.SchemaID(te.SchemaID),
	}
}

// resolveEnvRef substitutes a string of the form "env:VAR_NAME" with the
// named environment variable's value, per spec.md §6. Any other string
// passes through unchanged.
func resolveEnvRef(raw string) string {
	const prefix = "env:"
	if !strings.HasPrefix(raw, prefix) {
		return raw
	}
	return os.Getenv(strings.TrimPrefix(raw, prefix))
}

// WriteExampleConfig writes a sample mstream-config.toml to path.
func WriteExampleConfig(path string) error {
	example := `# mstream connector configuration
# Secrets may be substituted from the environment: any string value of the
# form "env:VAR_NAME" is resolved at load time.

[[services]]
name = "orders-mongo"
provider = "mongodb"
connection_string = "env:MSTREAM_MONGO_URI"
db_name = "orders"
write_mode = "insert"

[[services]]
name = "orders-kafka"
provider = "kafka"
"bootstrap.servers" = "localhost:9092"
offset_seek_back_seconds = "300"

[[services]]
name = "orders-pubsub"
provider = "pubsub"
auth = { kind = "service_account" }

[[services]]
name = "mask-script"
provider = "udf"
engine = { kind = "rhai" }
script_path = "./scripts/mask.js"

[[connectors]]
name = "orders-to-kafka"
enabled = true
checkpoint_enable = true

[connectors.batch]
kind = "count"
size = 200

[connectors.source]
service = "orders-mongo"
resource = "orders"
output_encoding = "bson"

[[connectors.middlewares]]
service = "mask-script"
resource = "mask.js"
output_encoding = "json"

[[connectors.sinks]]
service = "orders-kafka"
resource = "orders-out"
output_encoding = "json"

[system.mongo]
uri = "mongodb://localhost:27017/?replicaSet=rs0&directConnection=true"
database = "mstream"

[system.checkpoints]
backend = "mongo"
collection = "stream_checkpoints"

[system.job_lifecycle]
collection = "connector_jobs"
reconciliation_policy = "keep"

[system.service_lifecycle]
shutdown_timeout_sec = 30

[system.logs]
level = "info"
format = "text"
`
	return os.WriteFile(path, []byte(example), 0644)
}
