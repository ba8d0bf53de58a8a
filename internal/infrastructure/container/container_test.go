package container

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alphawatch/internal/application/port"
	"alphawatch/internal/infrastructure/config"
	"alphawatch/internal/interfaces/console"
)

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.App.TickIntervalSeconds = 60
	cfg.Source.TimeoutSeconds = 5
	cfg.Storage.Backend = config.BackendFile
	cfg.Storage.Dir = t.TempDir()
	return cfg
}

func TestContainerWithSQLite(t *testing.T) {
	cfg := baseConfig(t)
	cfg.History.SQLite.Enabled = true
	cfg.History.SQLite.Path = filepath.Join(cfg.Storage.Dir, "history.db")

	c, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.Store())
	assert.NotNil(t, c.Events())
	assert.NotNil(t, c.History())
	assert.Empty(t, c.Channels())
}

func TestContainerWithoutHistory(t *testing.T) {
	c, err := New(baseConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.History())
	assert.Nil(t, c.Events())
}

func TestContainerChannelsInConfigOrder(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Channels = []config.ChannelConfig{
		{Type: config.ChannelTelegram, BotToken: "t", ChatID: "1"},
		{Type: config.ChannelConsole},
		{Type: config.ChannelWeChat, Name: "ops", WebhookURL: "http://127.0.0.1/hook"},
	}
	var out bytes.Buffer
	c, err := New(cfg, zerolog.Nop(), WithChannel(config.ChannelConsole, console.NewSink(&out, false)))
	require.NoError(t, err)
	defer c.Close()

	names := make([]string, 0, len(c.Channels()))
	for _, ch := range c.Channels() {
		names = append(names, ch.Name())
	}
	assert.Equal(t, []string{"telegram", "console", "ops"}, names)
}

func TestContainerSkipsUnprovidedChannel(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Channels = []config.ChannelConfig{{Type: config.ChannelWebSocket}}

	c, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()
	assert.Empty(t, c.Channels())
}

func TestContainerMonitorTicks(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"positions":[{"id":"qwen3-max","realized_pnl":1,"positions":{"BTC":{"quantity":0.1,"leverage":20}}}]}`))
	}))
	defer api.Close()

	cfg := baseConfig(t)
	cfg.Source.APIEndpoint = api.URL
	cfg.Storage.Backend = config.BackendPebble
	cfg.History.SQLite.Enabled = true
	cfg.History.SQLite.Path = filepath.Join(cfg.Storage.Dir, "history.db")

	c, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	svc := c.Monitor()
	assert.Same(t, svc, c.Monitor())

	rep, err := svc.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.FirstRun)
	assert.Equal(t, port.TickOK, rep.Outcome)

	prev, err := c.Store().ReadPrevious(context.Background())
	require.NoError(t, err)
	require.NotNil(t, prev)
	_, ok := prev.Model("qwen3-max")
	assert.True(t, ok)
}
