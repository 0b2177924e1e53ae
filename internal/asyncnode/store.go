package asyncnode

import (
	"context"
	"time"

	"github.com/rs/xid"
)

// Snapshot of a stack's outputs taken after a successful up.
type Snapshot struct {
	// ID sorts by creation time.
	ID        string    `json:"id"`
	Stack     string    `json:"stack"`
	Outputs   Outputs   `json:"outputs"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewSnapshot(stack string, outputs Outputs) Snapshot {
	id := xid.New()
	return Snapshot{
		ID:        id.String(),
		Stack:     stack,
		Outputs:   outputs,
		CreatedAt: id.Time().UTC(),
	}
}

// OutputStore persists snapshots so the addresses of a stack can be shared
// without access to the engine's state.
type OutputStore interface {
	// SetOutputs records the snapshot and makes it the latest.
	SetOutputs(ctx context.Context, snap Snapshot) error

	// GetOutputs returns the latest snapshot, or Missing.
	GetOutputs(ctx context.Context, stack string) (Snapshot, error)

	// ListSnapshots returns the IDs of every snapshot, oldest first.
	ListSnapshots(ctx context.Context, stack string) ([]string, error)
}
