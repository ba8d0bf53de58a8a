package port

import (
	"context"
	"time"

	"alphawatch/internal/domain/model"
)

// NotificationKind 通知类型
type NotificationKind string

const (
	NotifyTrades   NotificationKind = "trades"
	NotifyStartup  NotificationKind = "startup"
	NotifyShutdown NotificationKind = "shutdown"
	NotifyError    NotificationKind = "error"
	NotifyTest     NotificationKind = "test"
)

// Notification is a pre-rendered message. Events is empty for lifecycle messages.
type Notification struct {
	Kind   NotificationKind
	Text   string
	Events []model.TradeEvent
	At     time.Time
}

// Channel is one notification transport. Send reports delivery failure as an error.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}
