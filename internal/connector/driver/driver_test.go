package driver

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.flowcatalyst.tech/internal/connector"
	"go.flowcatalyst.tech/internal/connector/checkpoint"
	"go.flowcatalyst.tech/internal/connector/sink"
	"go.flowcatalyst.tech/internal/connector/source"
)

type fakeStream struct {
	events []*connector.SourceEvent
	idx    int
	closed bool
}

func (f *fakeStream) Next(ctx context.Context) (*connector.SourceEvent, error) {
	if f.idx >= len(f.events) {
		return nil, io.EOF
	}
	e := f.events[f.idx]
	f.idx++
	return e, nil
}

func (f *fakeStream) Close(ctx context.Context) error {
	f.closed = true
	return nil
}

type fakeAdapter struct {
	stream *fakeStream
}

func (a *fakeAdapter) Open(ctx context.Context, spec connector.EndpointSpec, cp connector.CheckpointToken) (source.Stream, error) {
	return a.stream, nil
}

type fakeSink struct {
	mu      sync.Mutex
	written []*connector.PipelineRecord
}

func (s *fakeSink) Write(ctx context.Context, rec *connector.PipelineRecord) (sink.Acknowledgement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, rec)
	return sink.Acknowledgement{}, nil
}

func newSpec(batchSize int) connector.ConnectorSpec {
	var bp *connector.BatchPolicy
	if batchSize > 0 {
		bp = &connector.BatchPolicy{Kind: "count", Size: batchSize}
	}
	return connector.ConnectorSpec{
		Name:             "test-connector",
		Enabled:          true,
		Batch:            bp,
		CheckpointEnable: true,
		Source:           connector.EndpointSpec{OutputEncoding: connector.EncodingJSON},
		Sinks:            []connector.EndpointSpec{{}},
	}
}

func TestDriverRunProcessesAllEventsAndCommitsCheckpoint(t *testing.T) {
	events := []*connector.SourceEvent{
		{PayloadBytes: []byte(`{"a":1}`), PayloadEncoding: connector.EncodingJSON, SourceTS: time.Unix(1700000000, 0), Checkpoint: connector.CheckpointToken{1}},
		{PayloadBytes: []byte(`{"a":2}`), PayloadEncoding: connector.EncodingJSON, SourceTS: time.Unix(1700000001, 0), Checkpoint: connector.CheckpointToken{2}},
	}
	adapter := &fakeAdapter{stream: &fakeStream{events: events}}
	sk := &fakeSink{}
	store := checkpoint.NewMemoryStore()

	d := &Driver{
		Spec:            newSpec(0),
		SourceAdapter:   adapter,
		Sinks:           []sink.Sink{sk},
		CheckpointStore: store,
	}

	err := d.Run(context.Background())
	require.ErrorIs(t, err, io.EOF)
	require.Len(t, sk.written, 2)

	cp, err := store.Load(context.Background(), "test-connector")
	require.NoError(t, err)
	require.NotNil(t, cp)
	require.Equal(t, connector.CheckpointToken{2}, cp.Token)
}

func TestDriverBatchesBeforeSinking(t *testing.T) {
	events := []*connector.SourceEvent{
		{PayloadBytes: []byte(`{"a":1}`), PayloadEncoding: connector.EncodingJSON, Checkpoint: connector.CheckpointToken{1}},
		{PayloadBytes: []byte(`{"a":2}`), PayloadEncoding: connector.EncodingJSON, Checkpoint: connector.CheckpointToken{2}},
	}
	adapter := &fakeAdapter{stream: &fakeStream{events: events}}
	sk := &fakeSink{}
	store := checkpoint.NewMemoryStore()

	d := &Driver{
		Spec:            newSpec(2),
		SourceAdapter:   adapter,
		Sinks:           []sink.Sink{sk},
		CheckpointStore: store,
	}

	err := d.Run(context.Background())
	require.ErrorIs(t, err, io.EOF)
	require.Len(t, sk.written, 1)
	require.Len(t, sk.written[0].Checkpoints, 2)
}

type failingSink struct{}

func (failingSink) Write(ctx context.Context, rec *connector.PipelineRecord) (sink.Acknowledgement, error) {
	return sink.Acknowledgement{}, connector.SinkPermanent("sink.fake", errors.New("boom"))
}

func TestDriverPropagatesSinkErrorWithoutCommittingCheckpoint(t *testing.T) {
	events := []*connector.SourceEvent{
		{PayloadBytes: []byte(`{"a":1}`), PayloadEncoding: connector.EncodingJSON, Checkpoint: connector.CheckpointToken{1}},
	}
	adapter := &fakeAdapter{stream: &fakeStream{events: events}}
	store := checkpoint.NewMemoryStore()

	d := &Driver{
		Spec:            newSpec(0),
		SourceAdapter:   adapter,
		Sinks:           []sink.Sink{failingSink{}},
		CheckpointStore: store,
	}

	err := d.Run(context.Background())
	require.Error(t, err)
	require.False(t, connector.IsRetryable(err))

	cp, err := store.Load(context.Background(), "test-connector")
	require.NoError(t, err)
	require.Nil(t, cp)
}
