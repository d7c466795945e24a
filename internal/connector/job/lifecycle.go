package job

import (
	"context"
	"fmt"
	"sync"

	"go.flowcatalyst.tech/internal/common/metrics"
	"go.flowcatalyst.tech/internal/connector"
	"go.flowcatalyst.tech/internal/connector/driver"
)

// ReconciliationPolicy selects how the manager resolves its job set against
// a persisted lifecycle store at startup, per spec.md §4.8.
type ReconciliationPolicy string

const (
	ReconcileForceFromFile ReconciliationPolicy = "force_from_file"
	ReconcileSeedFromFile  ReconciliationPolicy = "seed_from_file"
	ReconcileKeep          ReconciliationPolicy = "keep"
)

// PersistedState is the lifecycle store abstraction the manager reconciles
// against at startup. Grounded on internal/config's file-vs-env merge
// policy (LoadWithFile/mergeConfigs), generalized from config merging to
// job-set reconciliation.
type PersistedState interface {
	LoadAll(ctx context.Context) ([]connector.ConnectorSpec, error)
	Truncate(ctx context.Context) error
	Upsert(ctx context.Context, spec connector.ConnectorSpec) error
	Remove(ctx context.Context, name string) error
}

// DriverFactory builds a Driver for a validated ConnectorSpec, wiring in
// the source adapter, middleware chain, and sinks the spec names. Supplied
// by the binary's main wiring code, which has access to the service
// registry and schema cache.
type DriverFactory func(spec connector.ConnectorSpec) (*driver.Driver, error)

// Manager is the Job Lifecycle Manager named in spec.md §2/§4.8: it holds
// the desired-vs-actual state of every job and owns each job's supervisor.
type Manager struct {
	mu          sync.Mutex
	supervisors map[string]*supervisor
	specs       map[string]connector.ConnectorSpec

	buildDriver DriverFactory
	store       PersistedState
}

func NewManager(buildDriver DriverFactory, store PersistedState) *Manager {
	return &Manager{
		supervisors: make(map[string]*supervisor),
		specs:       make(map[string]connector.ConnectorSpec),
		buildDriver: buildDriver,
		store:       store,
	}
}

// Reconcile applies a startup reconciliation policy against the persisted
// lifecycle store and a file-loaded set of specs, per spec.md §4.8.
func (m *Manager) Reconcile(ctx context.Context, policy ReconciliationPolicy, fileSpecs []connector.ConnectorSpec) error {
	if m.store == nil {
		return nil
	}

	switch policy {
	case ReconcileForceFromFile:
		if err := m.store.Truncate(ctx); err != nil {
			return fmt.Errorf("reconcile force_from_file: truncate: %w", err)
		}
		for _, spec := range fileSpecs {
			if err := m.store.Upsert(ctx, spec); err != nil {
				return fmt.Errorf("reconcile force_from_file: upsert %s: %w", spec.Name, err)
			}
		}
		return m.loadFromStore(ctx)

	case ReconcileSeedFromFile:
		existing, err := m.store.LoadAll(ctx)
		if err != nil {
			return fmt.Errorf("reconcile seed_from_file: load: %w", err)
		}
		if len(existing) == 0 {
			for _, spec := range fileSpecs {
				if err := m.store.Upsert(ctx, spec); err != nil {
					return fmt.Errorf("reconcile seed_from_file: upsert %s: %w", spec.Name, err)
				}
			}
		}
		return m.loadFromStore(ctx)

	case ReconcileKeep:
		return m.loadFromStore(ctx)

	default:
		return fmt.Errorf("unknown reconciliation policy %q", policy)
	}
}

func (m *Manager) loadFromStore(ctx context.Context) error {
	specs, err := m.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		if err := m.Create(ctx, spec); err != nil {
			return fmt.Errorf("reconcile: create %s: %w", spec.Name, err)
		}
	}
	return nil
}

// Create validates spec, stores desired state = Running, and spawns its
// supervisor. If enabled is false, the job is registered but left Stopped.
func (m *Manager) Create(ctx context.Context, spec connector.ConnectorSpec) error {
	if err := connector.ValidateSpec(&spec); err != nil {
		return err
	}

	d, err := m.buildDriver(spec)
	if err != nil {
		return connector.InternalInvariant("job.create", err)
	}

	sup := newSupervisor(spec, d)

	m.mu.Lock()
	if _, exists := m.supervisors[spec.Name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("job %q already exists", spec.Name)
	}
	m.supervisors[spec.Name] = sup
	m.specs[spec.Name] = spec
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Upsert(ctx, spec); err != nil {
			return fmt.Errorf("job %q: persist spec: %w", spec.Name, err)
		}
	}

	if spec.Enabled {
		sup.start(context.Background())
	}
	m.reportState(spec.Name, sup)
	return nil
}

// Stop signals cooperative cancellation to a running job's supervisor and
// waits for it to exit, bounded by ctx.
func (m *Manager) Stop(ctx context.Context, name string) error {
	sup, ok := m.lookup(name)
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	err := sup.stop(ctx)
	m.reportState(name, sup)
	return err
}

// Restart stops then starts a job, preserving its spec, per spec.md §4.8.
func (m *Manager) Restart(ctx context.Context, name string) error {
	sup, ok := m.lookup(name)
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	if err := sup.stop(ctx); err != nil {
		return err
	}
	sup.start(context.Background())
	m.reportState(name, sup)
	return nil
}

// Remove stops (if running) and forgets a job entirely, removing it from
// the persisted lifecycle store.
func (m *Manager) Remove(ctx context.Context, name string) error {
	sup, ok := m.lookup(name)
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	if err := sup.stop(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.supervisors, name)
	delete(m.specs, name)
	m.mu.Unlock()

	metrics.ConnectorJobState.DeleteLabelValues(name)

	if m.store != nil {
		return m.store.Remove(ctx, name)
	}
	return nil
}

// List returns a snapshot of every registered job's (name, state, metrics).
func (m *Manager) List() []connector.JobRecord {
	m.mu.Lock()
	names := make([]string, 0, len(m.supervisors))
	sups := make([]*supervisor, 0, len(m.supervisors))
	for name, sup := range m.supervisors {
		names = append(names, name)
		sups = append(sups, sup)
	}
	m.mu.Unlock()

	out := make([]connector.JobRecord, 0, len(names))
	for _, sup := range sups {
		out = append(out, sup.record())
	}
	return out
}

// StopAll cooperatively stops every running job; used by the PhasePipeline
// shutdown hook.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	sups := make([]*supervisor, 0, len(m.supervisors))
	for _, sup := range m.supervisors {
		sups = append(sups, sup)
	}
	m.mu.Unlock()

	var firstErr error
	for _, sup := range sups {
		if err := sup.stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Manager) lookup(name string) (*supervisor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sup, ok := m.supervisors[name]
	return sup, ok
}

func (m *Manager) reportState(name string, sup *supervisor) {
	rec := sup.record()
	metrics.ConnectorJobState.WithLabelValues(name).Set(jobStateValue(rec.State))
}

func jobStateValue(state connector.JobState) float64 {
	switch state {
	case connector.JobStopped:
		return metrics.JobStateStopped
	case connector.JobStarting:
		return metrics.JobStateStarting
	case connector.JobRunning:
		return metrics.JobStateRunning
	case connector.JobStopping:
		return metrics.JobStateStopping
	case connector.JobFailed:
		return metrics.JobStateFailed
	default:
		return metrics.JobStateFailed
	}
}
