// Package driver binds one connector's source, batcher, middleware chain,
// sink fan-out, and checkpoint store into the single pipeline loop the job
// supervisor runs. Grounded on the deleted internal/stream/watcher.go's
// run loop, generalized from "Mongo change stream -> Mongo sink" to the
// full {Mongo, Kafka, Pub/Sub, HTTP} x {Mongo, Kafka, Pub/Sub, HTTP}
// source/sink matrix, with an inserted middleware chain and schema cache.
package driver

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"go.flowcatalyst.tech/internal/common/metrics"
	"go.flowcatalyst.tech/internal/connector"
	"go.flowcatalyst.tech/internal/connector/batch"
	"go.flowcatalyst.tech/internal/connector/checkpoint"
	"go.flowcatalyst.tech/internal/connector/middleware"
	"go.flowcatalyst.tech/internal/connector/schema"
	"go.flowcatalyst.tech/internal/connector/sink"
	"go.flowcatalyst.tech/internal/connector/source"
)

// Metrics names the per-job counter set. Driver does not populate it: its
// per-record counts reach the job supervisor through OnRecord, and its
// Prometheus series go through the metrics package.
type Metrics struct {
	EventsProcessed int64
	BytesProcessed  int64
	TotalErrors     int64
	LastProcessedAt time.Time
	LastSourceTS    time.Time
}

// Driver runs one ConnectorSpec's pipeline: source -> batch -> middlewares
// -> sink fan-out -> checkpoint commit, in a single goroutine owned by the
// caller (the job supervisor).
type Driver struct {
	Spec            connector.ConnectorSpec
	SourceAdapter   source.Adapter
	Middlewares     []middleware.Middleware
	Sinks           []sink.Sink
	CheckpointStore checkpoint.Store
	SchemaCache     *schema.Cache
	ServiceProvider map[string]connector.Provider

	// OnRecord, when set, is invoked after a record (or batch) is
	// successfully delivered to every sink, so a job supervisor can update
	// its lock-free counters without the driver depending on the job
	// package.
	OnRecord func(events int, bytes int, sourceTS time.Time)

	batcher *batch.Batcher
}

// Run opens the source from the last committed checkpoint (if any) and
// processes events until ctx is canceled or a non-retryable error occurs.
// A fatal-source or internal-invariant error returns without advancing the
// checkpoint past the last successfully committed record, per spec.md §7.
func (d *Driver) Run(ctx context.Context) error {
	if d.Spec.Batch != nil {
		d.batcher = batch.NewBatcher(*d.Spec.Batch)
	}

	var resumeFrom connector.CheckpointToken
	if d.Spec.CheckpointEnable {
		cp, err := d.CheckpointStore.Load(ctx, d.Spec.Name)
		if err != nil {
			return connector.Transient("driver.checkpoint_load", err)
		}
		if cp != nil {
			resumeFrom = cp.Token
		}
	}

	stream, err := d.SourceAdapter.Open(ctx, d.Spec.Source, resumeFrom)
	if err != nil {
		return connector.FatalSource("driver.source_open", err)
	}
	defer stream.Close(ctx)

	for {
		select {
		case <-ctx.Done():
			return d.drainBatch(ctx)
		default:
		}

		event, err := stream.Next(ctx)
		if err != nil {
			metrics.ConnectorErrors.WithLabelValues(d.Spec.Name, "source").Inc()
			if err := d.drainBatch(ctx); err != nil {
				return err
			}
			return err
		}
		if event == nil {
			// No event currently available (Mongo's idle TryNext poll,
			// Pub/Sub's cancellation/closed-channel paths): nothing to
			// process this iteration.
			continue
		}

		rec, err := d.toPipelineRecord(ctx, event)
		if err != nil {
			metrics.ConnectorErrors.WithLabelValues(d.Spec.Name, "decode").Inc()
			return err
		}

		batched := rec
		if d.batcher != nil {
			batched, err = d.batcher.Add(rec)
			if err != nil {
				return err
			}
			if batched == nil {
				continue
			}
		}

		if err := d.process(ctx, batched); err != nil {
			return err
		}
	}
}

func (d *Driver) drainBatch(ctx context.Context) error {
	if d.batcher == nil {
		return nil
	}
	rec, err := d.batcher.Flush()
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	return d.process(ctx, rec)
}

func (d *Driver) toPipelineRecord(ctx context.Context, event *connector.SourceEvent) (*connector.PipelineRecord, error) {
	sch, err := d.resolveSchema(ctx, d.Spec.Source)
	if err != nil {
		return nil, err
	}

	value, err := connector.Convert(event.PayloadBytes, event.PayloadEncoding, d.Spec.Source.OutputEncoding, sch)
	if err != nil {
		return nil, err
	}

	return &connector.PipelineRecord{
		DecodedValue: value,
		Encoding:     d.Spec.Source.OutputEncoding,
		Attributes:   event.Attributes,
		SourceTS:     event.SourceTS,
		Checkpoints:  []connector.CheckpointToken{event.Checkpoint},
	}, nil
}

// process runs the middleware chain in declared order, fans the result out
// to every sink concurrently, and commits the checkpoint only once every
// sink has acknowledged.
func (d *Driver) process(ctx context.Context, rec *connector.PipelineRecord) error {
	flushStart := time.Now()
	if d.batcher != nil {
		metrics.ConnectorBatchSize.WithLabelValues(d.Spec.Name).Observe(float64(len(rec.Checkpoints)))
	}
	defer func() {
		metrics.ConnectorBatchFlushDuration.WithLabelValues(d.Spec.Name).Observe(time.Since(flushStart).Seconds())
	}()

	payload, attrs := rec.DecodedValue, rec.Attributes

	for i, mw := range d.Middlewares {
		var err error
		payload, attrs, err = mw.Transform(ctx, payload, attrs)
		if err != nil {
			metrics.ConnectorErrors.WithLabelValues(d.Spec.Name, "middleware").Inc()
			return err
		}
		rec.Encoding = d.Spec.Middlewares[i].OutputEncoding
	}
	rec.DecodedValue = payload
	rec.Attributes = attrs

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range d.Sinks {
		i, s := i, s
		g.Go(func() error {
			sinkRec, err := d.prepareForSink(gctx, rec, d.Spec.Sinks[i])
			if err != nil {
				return err
			}
			_, err = s.Write(gctx, sinkRec)
			if err != nil {
				metrics.ConnectorErrors.WithLabelValues(d.Spec.Name, "sink").Inc()
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	metrics.ConnectorEventsProcessed.WithLabelValues(d.Spec.Name, "delivered").Inc()
	metrics.ConnectorBytesProcessed.WithLabelValues(d.Spec.Name).Add(float64(len(rec.DecodedValue)))
	if !rec.SourceTS.IsZero() {
		metrics.ConnectorLagSeconds.WithLabelValues(d.Spec.Name).Set(time.Since(rec.SourceTS).Seconds())
	}
	if d.OnRecord != nil {
		events := len(rec.Checkpoints)
		if events == 0 {
			events = 1
		}
		d.OnRecord(events, len(rec.DecodedValue), rec.SourceTS)
	}

	if d.Spec.CheckpointEnable {
		if token := rec.LastCheckpoint(); token != nil {
			if err := d.CheckpointStore.Save(ctx, d.Spec.Name, token, rec.SourceTS); err != nil {
				return connector.Transient("driver.checkpoint_save", err)
			}
			metrics.ConnectorCheckpointSaves.WithLabelValues(d.Spec.Name).Inc()
		}
	}
	return nil
}

func (d *Driver) prepareForSink(ctx context.Context, rec *connector.PipelineRecord, ep connector.EndpointSpec) (*connector.PipelineRecord, error) {
	if ep.OutputEncoding == "" || ep.OutputEncoding == rec.Encoding {
		return rec, nil
	}
	sch, err := d.resolveSchema(ctx, ep)
	if err != nil {
		return nil, err
	}
	converted, err := connector.Convert(rec.DecodedValue, rec.Encoding, ep.OutputEncoding, sch)
	if err != nil {
		return nil, err
	}
	out := *rec
	out.DecodedValue = converted
	out.Encoding = ep.OutputEncoding
	return &out, nil
}

func (d *Driver) resolveSchema(ctx context.Context, ep connector.EndpointSpec) (*connector.SchemaRecord, error) {
	if ep.SchemaID == "" {
		return nil, nil
	}
	ref, ok := d.Spec.Schemas[ep.SchemaID]
	if !ok {
		return nil, connector.SchemaMissing("driver.resolve_schema")
	}
	provider, ok := d.ServiceProvider[ref.ServiceName]
	if !ok {
		return nil, connector.InternalInvariant("driver.resolve_schema", errUnknownService(ref.ServiceName))
	}
	return d.SchemaCache.Get(ctx, provider, ep.SchemaID, ref)
}

type errUnknownService string

func (e errUnknownService) Error() string { return "unknown service " + string(e) }
