package container

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"alphawatch/internal/application/port"
	"alphawatch/internal/application/usecase/monitor"
	"alphawatch/internal/infrastructure/config"
	"alphawatch/internal/infrastructure/fetcher"
	"alphawatch/internal/infrastructure/id"
	"alphawatch/internal/infrastructure/metrics"
	kafkach "alphawatch/internal/infrastructure/notify/kafka"
	"alphawatch/internal/infrastructure/notify/telegram"
	"alphawatch/internal/infrastructure/notify/wechat"
	"alphawatch/internal/infrastructure/storage/composite"
	pgrepo "alphawatch/internal/infrastructure/storage/postgres"
	redisrepo "alphawatch/internal/infrastructure/storage/redis"
	"alphawatch/internal/infrastructure/storage/slots"
	sqliterepo "alphawatch/internal/infrastructure/storage/sqlite"
)

// Option 注入由接口层构建的组件（console、websocket 通道）
type Option func(*Container)

// WithChannel registers a ready-made channel for every [[channels]] entry of type typ.
func WithChannel(typ string, ch port.Channel) Option {
	return func(c *Container) { c.provided[typ] = ch }
}

// Container 包含所有应用依赖
type Container struct {
	cfg *config.Config
	log zerolog.Logger

	provided map[string]port.Channel
	fetcher  *fetcher.HTTPFetcher
	store    port.SnapshotStore
	history  []port.Repository
	events   port.EventLister
	channels []port.Channel
	metrics  *metrics.Metrics

	monitorOnce sync.Once
	monitor     *monitor.Service

	closeOnce   sync.Once
	closerChain []func() error
}

// New 创建新的容器实例；失败时已初始化的资源会被释放
func New(cfg *config.Config, log zerolog.Logger, opts ...Option) (*Container, error) {
	c := &Container{
		cfg:         cfg,
		log:         log,
		provided:    map[string]port.Channel{},
		closerChain: make([]func() error, 0),
		metrics:     metrics.New(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.fetcher = fetcher.New(cfg.Source.APIEndpoint, cfg.SourceTimeout(), log)

	steps := []struct {
		name string
		fn   func() error
	}{
		{"store", c.initStore},
		{"history", c.initHistory},
		{"channels", c.initChannels},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("%s init failed: %w", s.name, err)
		}
	}
	return c, nil
}

// initStore 初始化快照槽位存储
func (c *Container) initStore() error {
	dir := c.cfg.Storage.Dir
	switch c.cfg.Storage.Backend {
	case config.BackendPebble:
		st, err := slots.OpenPebble(filepath.Join(dir, "pebble"))
		if err != nil {
			return err
		}
		c.store = st
		c.addCloser("pebble store", st.Close)
	default:
		st, err := slots.NewFileStore(dir)
		if err != nil {
			return err
		}
		c.store = st
	}
	c.log.Info().Str("backend", c.cfg.Storage.Backend).Str("dir", dir).Msg("snapshot store initialized")
	return nil
}

// initHistory 初始化历史记录（SQLite、Postgres、Redis）
func (c *Container) initHistory() error {
	h := c.cfg.History

	if h.SQLite.Enabled {
		repo, err := sqliterepo.New(h.SQLite.Path)
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		c.history = append(c.history, repo)
		c.events = repo
		c.addCloser("sqlite", repo.Close)
		c.log.Info().Str("path", h.SQLite.Path).Msg("sqlite history initialized")
	}

	if h.Postgres.Enabled {
		repo, err := pgrepo.New(h.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		c.history = append(c.history, repo)
		c.addCloser("postgres", repo.Close)
		c.log.Info().Msg("postgres history initialized")
	}

	if h.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     h.Redis.Addr,
			Password: h.Redis.Password,
			DB:       h.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return fmt.Errorf("redis ping failed: %w", err)
		}
		ttl := time.Duration(h.Redis.TTLSeconds) * time.Second
		repo := redisrepo.New(rdb, h.Redis.Prefix, ttl, "", "")
		c.history = append(c.history, repo)
		c.addCloser("redis", repo.Close)
		c.log.Info().Str("addr", h.Redis.Addr).Int("db", h.Redis.DB).Msg("redis history initialized")
	}
	return nil
}

// initChannels 按配置顺序构建通知通道
func (c *Container) initChannels() error {
	for i, cc := range c.cfg.Channels {
		key := fmt.Sprintf("channels[%d]", i)
		switch cc.Type {
		case config.ChannelWeChat:
			c.channels = append(c.channels, wechat.New(wechat.Options{
				Name:         cc.Name,
				WebhookURL:   cc.WebhookURL,
				ModelURLBase: cc.ModelURLBase,
				PortalURL:    c.cfg.App.PortalURL,
				Timeout:      cc.Timeout(wechat.DefaultTimeout),
			}))
		case config.ChannelTelegram:
			ch, err := telegram.New(telegram.Options{
				Name:     cc.Name,
				BotToken: cc.BotToken,
				ChatID:   cc.ChatID,
				Proxy:    cc.Proxy,
				BaseURL:  cc.BaseURL,
				Timeout:  cc.Timeout(telegram.DefaultTimeout),
			})
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			c.channels = append(c.channels, ch)
		case config.ChannelKafka:
			ch := kafkach.New(cc.Name, kafkach.NewWriter(cc.Brokers, cc.Topic), id.New)
			c.channels = append(c.channels, ch)
			c.addCloser("kafka writer", ch.Close)
		default:
			ch, ok := c.provided[cc.Type]
			if !ok {
				// e.g. websocket outside the process that serves the dashboard
				c.log.Warn().Str("channel", key).Str("type", cc.Type).Msg("channel not available in this command, skipped")
				continue
			}
			c.channels = append(c.channels, ch)
		}
	}
	c.log.Info().Int("channels", len(c.channels)).Msg("notification channels initialized")
	return nil
}

func (c *Container) addCloser(name string, fn func() error) {
	c.closerChain = append(c.closerChain, func() error {
		c.log.Debug().Str("resource", name).Msg("closing")
		return fn()
	})
}

// Config 获取配置
func (c *Container) Config() *config.Config { return c.cfg }

func (c *Container) Fetcher() *fetcher.HTTPFetcher { return c.fetcher }

func (c *Container) Store() port.SnapshotStore { return c.store }

// Events is the sqlite history reader, nil unless sqlite history is enabled.
func (c *Container) Events() port.EventLister { return c.events }

// History fans out to every enabled history repository; nil when none is.
func (c *Container) History() port.Repository {
	if len(c.history) == 0 {
		return nil
	}
	return composite.New(c.history...)
}

func (c *Container) Channels() []port.Channel { return c.channels }

func (c *Container) Metrics() *metrics.Metrics { return c.metrics }

// ServeMetrics starts the /metrics listener when enabled; it is stopped by Close.
func (c *Container) ServeMetrics() {
	if !c.cfg.Metrics.Enabled {
		return
	}
	srv := c.metrics.Serve(c.cfg.Metrics.Addr)
	c.addCloser("metrics server", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	c.log.Info().Str("addr", c.cfg.Metrics.Addr).Msg("metrics listening")
}

// Monitor 获取监控服务（惰性创建）
func (c *Container) Monitor() *monitor.Service {
	c.monitorOnce.Do(func() {
		c.monitor = monitor.NewService(monitor.ServiceDeps{
			Fetcher:         c.fetcher,
			Store:           c.store,
			Channels:        c.channels,
			Repo:            c.History(),
			MonitoredModels: c.cfg.Monitor.Models,
			Interval:        c.cfg.TickInterval(),
			Logger:          c.log,
			Metrics:         c.metrics,
			NewID:           id.New,
			Endpoint:        c.fetcher.Endpoint(),
			PortalURL:       c.cfg.App.PortalURL,
		})
	})
	return c.monitor
}

// Close 关闭所有资源（按后进先出顺序）
func (c *Container) Close() error {
	var err error
	c.closeOnce.Do(func() {
		for i := len(c.closerChain) - 1; i >= 0; i-- {
			if e := c.closerChain[i](); e != nil {
				c.log.Error().Err(e).Msg("error closing resource")
				if err == nil {
					err = e
				}
			}
		}
		c.log.Info().Msg("container closed")
	})
	return err
}
