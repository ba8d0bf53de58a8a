package port

import (
	"context"

	"alphawatch/internal/domain/model"
)

// SnapshotReader is the read-only view used by the dashboard.
type SnapshotReader interface {
	// ReadPrevious returns (nil, nil) when no previous slot exists yet.
	ReadPrevious(ctx context.Context) (*model.Snapshot, error)
}

// SnapshotStore holds the two slots, current and previous. It has a single writer.
type SnapshotStore interface {
	SnapshotReader

	// Stage durably writes s as the current slot.
	Stage(ctx context.Context, s *model.Snapshot) error
	// Promote atomically makes current the new previous, discarding the old previous.
	Promote(ctx context.Context) error
	Close() error
}
