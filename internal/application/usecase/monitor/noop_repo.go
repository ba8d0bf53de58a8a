package monitor

import (
	"context"
	"time"

	"alphawatch/internal/application/port"
	"alphawatch/internal/domain/model"
)

type noopRepo struct{}

// NewNoopRepo is used when history is disabled.
func NewNoopRepo() port.Repository { return &noopRepo{} }

func (n *noopRepo) InsertSnapshot(ctx context.Context, ts int64, payload string) error {
	return nil
}
func (n *noopRepo) InsertEvents(ctx context.Context, events []model.EventRecord) error {
	return nil
}
func (n *noopRepo) Close() error { return nil }

type noopMetrics struct{}

func (noopMetrics) TickCompleted(string, time.Duration) {}
func (noopMetrics) EventEmitted(model.EventKind)        {}
func (noopMetrics) EntriesSkipped(int)                  {}
func (noopMetrics) ChannelSend(string, bool)            {}
func (noopMetrics) Promoted(time.Time)                  {}
