package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"alphawatch/internal/application/port"
	"alphawatch/internal/domain/model"
)

const systemKey = "system"

// MessageWriter is the part of *kafka.Writer the channel uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Channel publishes one record per trade event, keyed by model id so a
// model's events stay ordered within a partition.
type Channel struct {
	name   string
	writer MessageWriter
	newID  func() string
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// New wraps w; newID assigns record ids and may be nil.
func New(name string, w MessageWriter, newID func() string) *Channel {
	if name == "" {
		name = "kafka"
	}
	return &Channel{name: name, writer: w, newID: newID}
}

func (c *Channel) Name() string { return c.name }

type lifecycleRecord struct {
	Kind port.NotificationKind `json:"kind"`
	Text string                `json:"text"`
	At   time.Time             `json:"at"`
}

func (c *Channel) Send(ctx context.Context, n port.Notification) error {
	var msgs []kafka.Message
	if n.Kind == port.NotifyTrades && len(n.Events) > 0 {
		msgs = make([]kafka.Message, 0, len(n.Events))
		for _, ev := range n.Events {
			rec := model.Record(ev)
			if c.newID != nil {
				rec.ID = c.newID()
			}
			b, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			msgs = append(msgs, kafka.Message{
				Key:   []byte(rec.ModelID),
				Value: b,
				Headers: []kafka.Header{
					{Key: "type", Value: []byte(rec.Type)},
				},
			})
		}
	} else {
		b, err := json.Marshal(lifecycleRecord{Kind: n.Kind, Text: n.Text, At: n.At})
		if err != nil {
			return err
		}
		msgs = []kafka.Message{{Key: []byte(systemKey), Value: b}}
	}

	if err := c.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("%w: kafka: %v", port.ErrChannelDelivery, err)
	}
	return nil
}

func (c *Channel) Close() error { return c.writer.Close() }

var _ port.Channel = (*Channel)(nil)
