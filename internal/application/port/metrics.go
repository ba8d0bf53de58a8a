package port

import (
	"time"

	"alphawatch/internal/domain/model"
)

// Tick outcomes
const (
	TickOK          = "ok"
	TickFetchFailed = "fetch_failed"
	TickStoreFailed = "store_failed"
	TickPanicked    = "panic"
)

type Metrics interface {
	TickCompleted(outcome string, d time.Duration)
	EventEmitted(kind model.EventKind)
	EntriesSkipped(n int)
	ChannelSend(channel string, ok bool)
	Promoted(at time.Time)
}
