package job

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.flowcatalyst.tech/internal/connector"
	"go.flowcatalyst.tech/internal/connector/driver"
)

// supervisor owns one connector job's goroutine tree: a single run loop
// driving the pipeline driver, with cooperative cancellation and a
// WaitGroup-based stop, grounded on internal/outbox/processor.go's
// run/stop lifecycle and the deleted internal/stream/watcher.go's
// Start/Stop idiom.
type supervisor struct {
	spec   connector.ConnectorSpec
	driver *driver.Driver

	mu        sync.Mutex
	state     connector.JobState
	lastError string

	cancel context.CancelFunc
	wg     sync.WaitGroup

	eventsProcessed atomic.Int64
	bytesProcessed  atomic.Int64
	totalErrors     atomic.Int64
	lastProcessedAt atomic.Int64 // unix nanos
	lastSourceTS    atomic.Int64 // unix nanos
}

func newSupervisor(spec connector.ConnectorSpec, d *driver.Driver) *supervisor {
	s := &supervisor{spec: spec, driver: d, state: connector.JobStopped}
	d.OnRecord = func(events, bytes int, sourceTS time.Time) {
		s.eventsProcessed.Add(int64(events))
		s.bytesProcessed.Add(int64(bytes))
		s.lastProcessedAt.Store(time.Now().UnixNano())
		if !sourceTS.IsZero() {
			s.lastSourceTS.Store(sourceTS.UnixNano())
		}
	}
	return s
}

// start launches the supervisor's run loop. Safe to call only from Stopped
// or Failed.
func (s *supervisor) start(parent context.Context) {
	s.mu.Lock()
	s.state = connector.JobStarting
	s.lastError = ""
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)
}

func (s *supervisor) run(ctx context.Context) {
	defer s.wg.Done()

	s.setState(connector.JobRunning)

	err := s.driver.Run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		s.state = connector.JobStopped
		return
	}
	if err != nil {
		s.state = connector.JobFailed
		s.lastError = err.Error()
		s.totalErrors.Add(1)
		slog.Error("connector job failed", "job", s.spec.Name, "error", err)
		return
	}
	s.state = connector.JobStopped
}

// stop signals cooperative cancellation and waits (bounded by ctx) for the
// run loop to exit. The canceled context is the one in-flight middleware
// and sink calls use, so an in-flight record may be abandoned; its
// checkpoint is then not advanced.
func (s *supervisor) stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == connector.JobStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = connector.JobStopping
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *supervisor) setState(state connector.JobState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *supervisor) record() connector.JobRecord {
	s.mu.Lock()
	state, lastErr := s.state, s.lastError
	s.mu.Unlock()

	lastProcessed := fromUnixNano(s.lastProcessedAt.Load())
	lastSourceTS := fromUnixNano(s.lastSourceTS.Load())

	var lag time.Duration
	if !lastSourceTS.IsZero() {
		lag = time.Since(lastSourceTS)
	}

	return connector.JobRecord{
		Name:      s.spec.Name,
		State:     state,
		LastError: lastErr,
		Metrics: connector.JobMetricsSnapshot{
			EventsProcessed: s.eventsProcessed.Load(),
			BytesProcessed:  s.bytesProcessed.Load(),
			TotalErrors:     s.totalErrors.Load(),
			LastProcessedAt: lastProcessed,
			LastSourceTS:    lastSourceTS,
			CurrentLag:      lag,
		},
	}
}

func fromUnixNano(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}
