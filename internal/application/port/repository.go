package port

import (
	"context"

	"alphawatch/internal/domain/model"
)

// Repository keeps the optional history of staged snapshots and emitted events.
type Repository interface {
	// InsertSnapshot stores one staged snapshot document; ts is unix ms.
	InsertSnapshot(ctx context.Context, ts int64, payload string) error
	InsertEvents(ctx context.Context, events []model.EventRecord) error

	// Connection management
	Close() error
}

// EventLister reads back recent events, newest first.
type EventLister interface {
	RecentEvents(ctx context.Context, limit int) ([]model.EventRecord, error)
}
