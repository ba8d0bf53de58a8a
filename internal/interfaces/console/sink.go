package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"alphawatch/internal/application/port"
	"alphawatch/internal/domain/model"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiDim    = "\033[2m"
)

func colorize(s, c string) string { return c + s + ansiReset }

// Sink prints notifications to a terminal. Trade events are colored by direction.
type Sink struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
}

func NewSink(out io.Writer, color bool) *Sink {
	if out == nil {
		out = os.Stdout
	}
	return &Sink{out: out, color: color}
}

func (s *Sink) Name() string { return "console" }

// 打印一段通知：时间戳行 + 正文，前后各留一个空行
func (s *Sink) Send(ctx context.Context, n port.Notification) error {
	var sb strings.Builder
	sb.WriteString("\n")
	ts := n.At.Format("2006-01-02 15:04:05")
	if s.color {
		ts = colorize(ts, ansiDim)
	}
	sb.WriteString(ts)
	sb.WriteString(" ")

	if n.Kind == port.NotifyTrades && len(n.Events) > 0 && s.color {
		fmt.Fprintf(&sb, "Detected %d trade changes:\n", len(n.Events))
		for _, ev := range n.Events {
			sb.WriteString("  ")
			sb.WriteString(colorize("• "+ev.Message(), colorOf(ev)))
			sb.WriteString("\n")
		}
	} else {
		sb.WriteString(n.Text)
		sb.WriteString("\n")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.out, sb.String())
	return err
}

func colorOf(ev model.TradeEvent) string {
	switch e := ev.(type) {
	case model.PositionOpened, model.ModelAdded:
		return ansiGreen
	case model.PositionClosed, model.ModelRemoved:
		return ansiRed
	case model.PositionChanged:
		switch e.Action {
		case model.ActionBuy:
			return ansiGreen
		case model.ActionSell:
			return ansiRed
		}
	}
	return ansiYellow
}

var _ port.Channel = (*Sink)(nil)
