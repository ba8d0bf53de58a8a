package redis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"alphawatch/internal/application/port"
	"alphawatch/internal/domain/model"
)

// Repo keeps the latest staged snapshot under one key and fans events out
// through a stream (for replay) and a pub/sub channel (for live consumers).
type Repo struct {
	rdb         *redis.Client
	prefix      string
	ttl         time.Duration
	keyLatest   string // prefix + ":latest"
	eventStream string
	eventChan   string
	streamLen   int64
}

func New(rdb *redis.Client, prefix string, ttl time.Duration, eventStream, eventChan string) *Repo {
	if strings.TrimSpace(prefix) == "" {
		prefix = "alphawatch"
	}
	if strings.TrimSpace(eventStream) == "" {
		eventStream = prefix + ":events"
	}
	if strings.TrimSpace(eventChan) == "" {
		eventChan = prefix + ":events:pub"
	}
	return &Repo{
		rdb:         rdb,
		prefix:      prefix,
		ttl:         ttl,
		keyLatest:   prefix + ":latest",
		eventStream: eventStream,
		eventChan:   eventChan,
		streamLen:   10000,
	}
}

func (r *Repo) Close() error { return r.rdb.Close() }

func (r *Repo) InsertSnapshot(ctx context.Context, ts int64, payload string) error {
	pipe := r.rdb.Pipeline()
	pipe.Set(ctx, r.keyLatest, payload, r.ttl)
	pipe.Set(ctx, r.keyLatest+":ts", ts, r.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Repo) InsertEvents(ctx context.Context, events []model.EventRecord) error {
	for _, e := range events {
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}

		// 1) Stream: XADD <stream> MAXLEN ~ n * id model type payload
		if err := r.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: r.eventStream,
			MaxLen: r.streamLen,
			Approx: true,
			Values: map[string]any{
				"id":      e.ID,
				"model":   e.ModelID,
				"type":    string(e.Type),
				"ts_ms":   e.Timestamp.UnixMilli(),
				"payload": string(b),
			},
		}).Err(); err != nil {
			return err
		}

		// 2) PubSub: PUBLISH <channel> json
		if err := r.rdb.Publish(ctx, r.eventChan, b).Err(); err != nil {
			return err
		}
	}
	return nil
}

var _ port.Repository = (*Repo)(nil)
