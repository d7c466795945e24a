// Package sink implements the connector engine's sink adapters: Mongo,
// Kafka, Pub/Sub, and HTTP. Each accepts a single record or a batched
// record and returns an Acknowledgement once the write is durable at the
// destination.
package sink

import (
	"context"

	"go.flowcatalyst.tech/internal/connector"
)

// Acknowledgement confirms a sink accepted a record. Detail carries a
// sink-specific description of the write (for the HTTP sink, the response
// body).
type Acknowledgement struct {
	Detail string
}

// Sink writes one PipelineRecord (which may represent a batch) to a
// destination and blocks until the write is acknowledged, or returns an
// error classified per spec.md §7. Each sink retries KindTransient errors
// itself through its RetryPolicy; the driver does not retry, so any error
// a sink returns fails the job.
type Sink interface {
	Write(ctx context.Context, record *connector.PipelineRecord) (Acknowledgement, error)
}
