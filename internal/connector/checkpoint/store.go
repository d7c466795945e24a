// Package checkpoint implements the connector engine's CheckpointStore
// abstraction: a narrow load/save interface over the last acknowledged
// source cursor for a job, with Mongo, Redis, and in-memory backends.
package checkpoint

import (
	"context"
	"time"

	"go.flowcatalyst.tech/internal/connector"
)

// Checkpoint is the persisted value for one job: the opaque token plus the
// bookkeeping timestamps spec.md §6 requires in the document format.
type Checkpoint struct {
	Token     connector.CheckpointToken
	UpdatedAt time.Time
	SourceTS  time.Time
}

// Store is the narrow abstraction named in spec.md §9 ("define a narrow
// CheckpointStore interface... so alternative backends can be added
// without touching the driver"). Absent persistent configuration, a no-op
// implementation satisfies it (see NopStore below).
type Store interface {
	Load(ctx context.Context, job string) (*Checkpoint, error)
	Save(ctx context.Context, job string, token connector.CheckpointToken, sourceTS time.Time) error
}

// NopStore discards checkpoints. cmd/mstream gives it to every connector
// whose checkpoint_enable flag is false; an absent [system.checkpoints]
// section selects the mongo backend, not NopStore.
type NopStore struct{}

func (NopStore) Load(ctx context.Context, job string) (*Checkpoint, error) { return nil, nil }
func (NopStore) Save(ctx context.Context, job string, token connector.CheckpointToken, sourceTS time.Time) error {
	return nil
}
