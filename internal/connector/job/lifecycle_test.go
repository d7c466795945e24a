package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.flowcatalyst.tech/internal/connector"
	"go.flowcatalyst.tech/internal/connector/checkpoint"
	"go.flowcatalyst.tech/internal/connector/driver"
	"go.flowcatalyst.tech/internal/connector/sink"
	"go.flowcatalyst.tech/internal/connector/source"
)

type blockingStream struct {
	ctx context.Context
}

func (s *blockingStream) Next(ctx context.Context) (*connector.SourceEvent, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (s *blockingStream) Close(ctx context.Context) error { return nil }

type blockingAdapter struct{}

func (blockingAdapter) Open(ctx context.Context, spec connector.EndpointSpec, cp connector.CheckpointToken) (source.Stream, error) {
	return &blockingStream{ctx: ctx}, nil
}

type nopSink struct{}

func (nopSink) Write(ctx context.Context, rec *connector.PipelineRecord) (sink.Acknowledgement, error) {
	return sink.Acknowledgement{}, nil
}

func buildTestDriver(spec connector.ConnectorSpec) (*driver.Driver, error) {
	return &driver.Driver{
		Spec:            spec,
		SourceAdapter:   blockingAdapter{},
		Sinks:           []sink.Sink{nopSink{}},
		CheckpointStore: checkpoint.NewMemoryStore(),
	}, nil
}

func testSpec(name string) connector.ConnectorSpec {
	return connector.ConnectorSpec{
		Name:    name,
		Enabled: true,
		Source:  connector.EndpointSpec{OutputEncoding: connector.EncodingJSON},
		Sinks:   []connector.EndpointSpec{{}},
	}
}

func TestManagerCreateStartsJob(t *testing.T) {
	m := NewManager(buildTestDriver, nil)

	require.NoError(t, m.Create(context.Background(), testSpec("job-a")))

	require.Eventually(t, func() bool {
		list := m.List()
		return len(list) == 1 && list[0].State == connector.JobRunning
	}, time.Second, 10*time.Millisecond)
}

func TestManagerStopTransitionsToStopped(t *testing.T) {
	m := NewManager(buildTestDriver, nil)
	require.NoError(t, m.Create(context.Background(), testSpec("job-b")))

	require.Eventually(t, func() bool {
		return m.List()[0].State == connector.JobRunning
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, m.Stop(context.Background(), "job-b"))

	list := m.List()
	require.Len(t, list, 1)
	require.Equal(t, connector.JobStopped, list[0].State)
}

func TestManagerRestartPreservesSpec(t *testing.T) {
	m := NewManager(buildTestDriver, nil)
	require.NoError(t, m.Create(context.Background(), testSpec("job-c")))

	require.Eventually(t, func() bool {
		return m.List()[0].State == connector.JobRunning
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, m.Restart(context.Background(), "job-c"))

	require.Eventually(t, func() bool {
		return m.List()[0].State == connector.JobRunning
	}, time.Second, 10*time.Millisecond)
}

func TestManagerCreateRejectsInvalidSpec(t *testing.T) {
	m := NewManager(buildTestDriver, nil)
	err := m.Create(context.Background(), connector.ConnectorSpec{Name: ""})
	require.Error(t, err)
}

func TestManagerCreateDuplicateNameFails(t *testing.T) {
	m := NewManager(buildTestDriver, nil)
	require.NoError(t, m.Create(context.Background(), testSpec("job-d")))
	err := m.Create(context.Background(), testSpec("job-d"))
	require.Error(t, err)
}

type failingDriverAdapter struct{}

func (failingDriverAdapter) Open(ctx context.Context, spec connector.EndpointSpec, cp connector.CheckpointToken) (source.Stream, error) {
	return nil, errors.New("source unavailable")
}

func TestSupervisorTransitionsToFailedOnSourceError(t *testing.T) {
	spec := testSpec("job-e")
	d := &driver.Driver{
		Spec:            spec,
		SourceAdapter:   failingDriverAdapter{},
		Sinks:           []sink.Sink{nopSink{}},
		CheckpointStore: checkpoint.NewMemoryStore(),
	}
	sup := newSupervisor(spec, d)
	sup.start(context.Background())

	require.Eventually(t, func() bool {
		return sup.record().State == connector.JobFailed
	}, time.Second, 10*time.Millisecond)

	rec := sup.record()
	require.Contains(t, rec.LastError, "source unavailable")
}
