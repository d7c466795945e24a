// Package connector defines the shared types that flow through the mstream
// connector engine: services, encodings, schemas, records, and the per-job
// specification and state that the job lifecycle manager operates on.
package connector

import "time"

// Provider identifies the kind of system a ServiceDescriptor connects to.
type Provider string

const (
	ProviderMongo  Provider = "mongodb"
	ProviderKafka  Provider = "kafka"
	ProviderPubSub Provider = "pubsub"
	ProviderHTTP   Provider = "http"
	ProviderUDF    Provider = "udf"
)

// ServiceDescriptor names an external system a connector can read from or
// write to. It is immutable for the lifetime of any job that references it.
type ServiceDescriptor struct {
	Name     string
	Provider Provider
	Params   map[string]string
}

// ResourceReference identifies a source/sink/schema endpoint within a
// service: a collection, topic, subscription, URL path, or script filename,
// depending on the service's provider.
type ResourceReference struct {
	ServiceName string
	Resource    string
}

// Encoding is the wire representation of a payload.
type Encoding string

const (
	EncodingBSON  Encoding = "bson"
	EncodingJSON  Encoding = "json"
	EncodingAvro  Encoding = "avro"
	EncodingOther Encoding = "other"
)

// SchemaID is a user-chosen name local to a connector, resolved to a
// ResourceReference that the schema cache can fetch.
type SchemaID string

// SchemaRecord is a parsed Avro schema plus its original source text.
// Immutable after first load.
type SchemaRecord struct {
	ID       SchemaID
	Ref      ResourceReference
	Text     string
	Fields   []string // field names retained by the schema, for masking
	LoadedAt time.Time
}

// CheckpointToken is opaque per-source progress state: a Mongo resume
// token, a serialized (topic, partition, offset) triple, or nil for sources
// that do not support checkpointing.
type CheckpointToken []byte

// SourceEvent is a single raw record produced by a source adapter.
type SourceEvent struct {
	PayloadBytes   []byte
	PayloadEncoding Encoding
	Attributes     map[string]string
	SourceTS       time.Time
	Checkpoint     CheckpointToken
}

// PipelineRecord is the internal record type that flows through the driver.
// It may represent one SourceEvent or a folded batch of N events.
type PipelineRecord struct {
	DecodedValue []byte
	Encoding     Encoding
	Attributes   map[string]string
	SourceTS     time.Time
	Checkpoints  []CheckpointToken // in source order; only the last is durable
}

// LastCheckpoint returns the highest-in-source-order checkpoint carried by
// the record, or nil if the record carries none.
func (r *PipelineRecord) LastCheckpoint() CheckpointToken {
	if len(r.Checkpoints) == 0 {
		return nil
	}
	return r.Checkpoints[len(r.Checkpoints)-1]
}

// BatchPolicy configures the Batcher. Count is currently the only
// supported kind.
type BatchPolicy struct {
	Kind string // "count"
	Size int
}

// EndpointSpec describes one step (source, middleware, or sink) in terms of
// the resource it binds to and the encoding contract it produces.
type EndpointSpec struct {
	Ref            ResourceReference
	InputEncoding  Encoding // optional; empty means "inherit"
	OutputEncoding Encoding
	SchemaID       SchemaID // optional
}

// ConnectorSpec is the declarative description of one source-to-sink
// pipeline instance (a "job").
type ConnectorSpec struct {
	Name             string
	Enabled          bool
	Batch            *BatchPolicy
	CheckpointEnable bool
	Source           EndpointSpec
	Schemas          map[SchemaID]ResourceReference
	Middlewares      []EndpointSpec
	Sinks            []EndpointSpec
}

// JobState is a position in the job lifecycle state machine.
type JobState string

const (
	JobStopped  JobState = "stopped"
	JobStarting JobState = "starting"
	JobRunning  JobState = "running"
	JobFailed   JobState = "failed"
	JobStopping JobState = "stopping"
)

// JobMetricsSnapshot is a point-in-time read of a job's lock-free counters
// plus derived values, surfaced by the job lifecycle manager's list()
// operation.
type JobMetricsSnapshot struct {
	EventsProcessed int64
	BytesProcessed  int64
	TotalErrors     int64
	LastProcessedAt time.Time
	LastSourceTS    time.Time
	CurrentLag      time.Duration
	Throughput      float64 // not computed by the job supervisor; always zero
}

// JobRecord is the in-process read model backing list(); it is not a wire
// format.
type JobRecord struct {
	Name      string
	State     JobState
	LastError string
	Metrics   JobMetricsSnapshot
}
