package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"alphawatch/internal/application/port"
)

// DispatchResult 一次分发的结果，PerChannel 中 nil 表示成功
type DispatchResult struct {
	AnySucceeded bool
	PerChannel   map[string]error
}

// Failed lists the names of channels that did not deliver.
func (r DispatchResult) Failed() []string {
	var out []string
	for name, err := range r.PerChannel {
		if err != nil {
			out = append(out, name)
		}
	}
	return out
}

type namedChannel struct {
	name string
	ch   port.Channel
}

// Dispatcher fans one notification out to every configured channel, in order.
// A failing channel never blocks the others and nothing is retried.
type Dispatcher struct {
	channels []namedChannel
	log      zerolog.Logger
	metrics  port.Metrics
}

func NewDispatcher(channels []port.Channel, log zerolog.Logger, metrics port.Metrics) *Dispatcher {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	d := &Dispatcher{log: log, metrics: metrics}
	seen := make(map[string]int, len(channels))
	for _, ch := range channels {
		if ch == nil {
			continue
		}
		name := ch.Name()
		seen[name]++
		if n := seen[name]; n > 1 {
			name = name + "#" + strconv.Itoa(n)
		}
		d.channels = append(d.channels, namedChannel{name: name, ch: ch})
	}
	return d
}

// Len returns the number of channels.
func (d *Dispatcher) Len() int { return len(d.channels) }

// Names returns the unique channel names in dispatch order.
func (d *Dispatcher) Names() []string {
	out := make([]string, 0, len(d.channels))
	for _, c := range d.channels {
		out = append(out, c.name)
	}
	return out
}

func (d *Dispatcher) SendAll(ctx context.Context, n port.Notification) DispatchResult {
	res := DispatchResult{PerChannel: make(map[string]error, len(d.channels))}
	for _, c := range d.channels {
		err := d.send(ctx, c, n)
		res.PerChannel[c.name] = err
		d.metrics.ChannelSend(c.name, err == nil)
		if err != nil {
			d.log.Warn().Err(err).Str("channel", c.name).Str("kind", string(n.Kind)).Msg("notification failed")
			continue
		}
		res.AnySucceeded = true
		d.log.Debug().Str("channel", c.name).Str("kind", string(n.Kind)).Msg("notification sent")
	}
	return res
}

func (d *Dispatcher) send(ctx context.Context, c namedChannel, n port.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked: %v", port.ErrChannelDelivery, c.name, r)
		}
	}()
	if err := c.ch.Send(ctx, n); err != nil {
		if !errors.Is(err, port.ErrChannelDelivery) {
			err = fmt.Errorf("%w: %v", port.ErrChannelDelivery, err)
		}
		return err
	}
	return nil
}
