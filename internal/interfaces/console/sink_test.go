package console

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alphawatch/internal/application/port"
	"alphawatch/internal/domain/model"
)

func TestSinkPlain(t *testing.T) {
	var buf bytes.Buffer
	s := NewSink(&buf, false)
	at := time.Date(2025, 10, 20, 8, 0, 0, 0, time.Local)

	require.NoError(t, s.Send(context.Background(), port.Notification{Kind: port.NotifyTrades, Text: "Detected 1 trade changes:\n\n• x", At: at,
		Events: []model.TradeEvent{model.PositionClosed{ModelID: "m", Sym: "BTC"}}}))
	assert.Equal(t, "\n2025-10-20 08:00:00 Detected 1 trade changes:\n\n• x\n", buf.String())
	assert.NotContains(t, buf.String(), "\033[")
}

func TestSinkColored(t *testing.T) {
	var buf bytes.Buffer
	s := NewSink(&buf, true)

	require.NoError(t, s.Send(context.Background(), port.Notification{Kind: port.NotifyTrades, Events: []model.TradeEvent{
		model.PositionChanged{ModelID: "m", Sym: "BTC", Action: model.ActionSell, QuantityDelta: decimal.NewFromInt(1), CurLeverage: 2},
		model.PositionChanged{ModelID: "m", Sym: "ETH", Action: model.ActionAdjustLeverage, CurLeverage: 3},
	}}))
	out := buf.String()
	assert.True(t, strings.Contains(out, ansiRed+"• m BTC sell 1 (leverage: 2x)"+ansiReset))
	assert.True(t, strings.Contains(out, ansiYellow+"• m ETH adjusted leverage to 3x"+ansiReset))
	assert.Equal(t, "console", s.Name())
}
