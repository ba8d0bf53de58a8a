package port

import (
	"context"

	"alphawatch/internal/domain/model"
)

// SnapshotFetcher returns a parsed snapshot, or an error wrapping ErrFetchUnavailable.
type SnapshotFetcher interface {
	Fetch(ctx context.Context) (*model.Snapshot, error)
}
