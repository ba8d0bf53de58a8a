package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alphawatch/internal/application/port"
	"alphawatch/internal/domain/model"
)

var base = time.Date(2025, 10, 20, 8, 0, 0, 0, time.UTC)

// fakeClock hands out one ticker whose channel is fed by the test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
	ch  chan time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: base, ch: make(chan time.Time)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(time.Duration) port.Ticker { return fakeTicker{c.ch} }

// tick advances the clock and blocks until the scheduler takes the tick.
func (c *fakeClock) tick(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	c.ch <- now
}

type fakeTicker struct{ ch chan time.Time }

func (t fakeTicker) C() <-chan time.Time { return t.ch }
func (t fakeTicker) Stop()               {}

type fakeFetcher struct {
	mu    sync.Mutex
	queue []any // *model.Snapshot or error
	calls int
}

func (f *fakeFetcher) push(v ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, v...)
}

func (f *fakeFetcher) Fetch(context.Context) (*model.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.queue) == 0 {
		return nil, fmt.Errorf("%w: nothing queued", port.ErrFetchUnavailable)
	}
	v := f.queue[0]
	f.queue = f.queue[1:]
	switch v := v.(type) {
	case error:
		return nil, v
	case *model.Snapshot:
		return v, nil
	}
	panic("unexpected queue item")
}

type memStore struct {
	current, previous *model.Snapshot
	stageErr          error
	readErr           error
	promoteErr        error
	promotions        int
}

func (m *memStore) Stage(_ context.Context, s *model.Snapshot) error {
	if m.stageErr != nil {
		return m.stageErr
	}
	m.current = s
	return nil
}

func (m *memStore) ReadPrevious(context.Context) (*model.Snapshot, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	return m.previous, nil
}

func (m *memStore) Promote(context.Context) error {
	if m.promoteErr != nil {
		return m.promoteErr
	}
	if m.current == nil {
		return port.ErrNothingStaged
	}
	m.previous, m.current = m.current, nil
	m.promotions++
	return nil
}

func (m *memStore) Close() error { return nil }

type fakeChannel struct {
	name string
	err  error
	mu   sync.Mutex
	sent []port.Notification
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Send(_ context.Context, n port.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return c.err
}

func (c *fakeChannel) kinds() []port.NotificationKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []port.NotificationKind
	for _, n := range c.sent {
		out = append(out, n.Kind)
	}
	return out
}

type memRepo struct {
	snapshots int
	events    []model.EventRecord
	err       error
}

func (r *memRepo) InsertSnapshot(context.Context, int64, string) error {
	r.snapshots++
	return r.err
}

func (r *memRepo) InsertEvents(_ context.Context, ev []model.EventRecord) error {
	r.events = append(r.events, ev...)
	return r.err
}

func (r *memRepo) Close() error { return nil }

func snap(models ...model.ModelPosition) *model.Snapshot {
	return model.NewSnapshot(time.Time{}, models...)
}

func mp(id string, sym, qty string, lev int) model.ModelPosition {
	m := model.ModelPosition{ID: id, Positions: map[string]model.Position{}}
	if sym != "" {
		m.Positions[sym] = model.Position{Symbol: sym, Quantity: decimal.RequireFromString(qty), Leverage: lev}
	}
	return m
}

func newTestService(t *testing.T, f *fakeFetcher, st *memStore, chans ...port.Channel) (*Service, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	return NewService(ServiceDeps{
		Fetcher:  f,
		Store:    st,
		Channels: chans,
		Clock:    clk,
		Logger:   zerolog.Nop(),
		Endpoint: "http://example.invalid/api/positions",
	}), clk
}

func TestTickFirstRunRecordsBaseline(t *testing.T) {
	f := &fakeFetcher{}
	st := &memStore{}
	ch := &fakeChannel{name: "wechat"}
	svc, _ := newTestService(t, f, st, ch)

	first := snap(mp("A", "BTC", "1", 5))
	f.push(first)

	rep, err := svc.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.FirstRun)
	assert.True(t, rep.Promoted)
	assert.Empty(t, rep.Events)
	assert.Nil(t, rep.Dispatch)
	assert.Empty(t, ch.sent)

	prev, err := st.ReadPrevious(context.Background())
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, base, prev.FetchedAt)
	_, ok := prev.Model("A")
	assert.True(t, ok)
}

func TestTickScenarioNotifiesAndPromotes(t *testing.T) {
	f := &fakeFetcher{}
	st := &memStore{previous: model.NewSnapshot(base.Add(-time.Minute), mp("A", "BTC", "1", 5))}
	ch := &fakeChannel{name: "telegram"}
	repo := &memRepo{}
	svc, _ := newTestService(t, f, st, ch)
	svc.deps.Repo = repo

	cur := snap(mp("A", "BTC", "2", 5), mp("B", "ETH", "-1", 3))
	f.push(cur)

	rep, err := svc.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Events, 2)
	assert.Equal(t, model.KindPositionChanged, rep.Events[0].Kind())
	assert.Equal(t, model.KindModelAdded, rep.Events[1].Kind())

	require.Len(t, ch.sent, 1)
	n := ch.sent[0]
	assert.Equal(t, port.NotifyTrades, n.Kind)
	assert.Len(t, n.Events, 2)
	assert.Contains(t, n.Text, "Detected 2 trade changes:")
	assert.Contains(t, n.Text, "• A BTC buy 1 (leverage: 5x)")
	assert.Contains(t, n.Text, "• New model B started trading")

	require.NotNil(t, rep.Dispatch)
	assert.True(t, rep.Dispatch.AnySucceeded)

	assert.Equal(t, 1, repo.snapshots)
	require.Len(t, repo.events, 2)
	assert.NotEmpty(t, repo.events[0].ID)
	assert.NotEqual(t, repo.events[0].ID, repo.events[1].ID)

	_, ok := st.previous.Model("B")
	assert.True(t, ok, "staged snapshot was promoted")
}

func TestTickPromotesWhenEveryChannelFails(t *testing.T) {
	f := &fakeFetcher{}
	st := &memStore{previous: snap(mp("A", "BTC", "1", 5))}
	bad1 := &fakeChannel{name: "wechat", err: errors.New("502")}
	bad2 := &fakeChannel{name: "telegram", err: errors.New("timeout")}
	svc, _ := newTestService(t, f, st, bad1, bad2)

	cur := snap(mp("A", "BTC", "3", 5))
	f.push(cur)

	rep, err := svc.Tick(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rep.Dispatch)
	assert.False(t, rep.Dispatch.AnySucceeded)
	assert.ErrorIs(t, rep.Dispatch.PerChannel["wechat"], port.ErrChannelDelivery)
	assert.True(t, rep.Promoted)

	m, _ := st.previous.Model("A")
	assert.Equal(t, "3", m.Positions["BTC"].Quantity.String())
}

func TestTickFetchFailureLeavesStateAlone(t *testing.T) {
	f := &fakeFetcher{}
	prev := snap(mp("A", "BTC", "1", 5))
	st := &memStore{previous: prev}
	svc, _ := newTestService(t, f, st)

	f.push(fmt.Errorf("%w: status 503", port.ErrFetchUnavailable))

	rep, err := svc.Tick(context.Background())
	assert.ErrorIs(t, err, port.ErrFetchUnavailable)
	assert.Equal(t, port.TickFetchFailed, rep.Outcome)
	assert.False(t, rep.Promoted)
	assert.Same(t, prev, st.previous)
	assert.Nil(t, st.current)
}

func TestTickStageFailureDoesNotPromote(t *testing.T) {
	f := &fakeFetcher{}
	prev := snap(mp("A", "BTC", "1", 5))
	st := &memStore{previous: prev, stageErr: fmt.Errorf("%w: disk full", port.ErrPersistence)}
	ch := &fakeChannel{name: "console"}
	svc, _ := newTestService(t, f, st, ch)

	f.push(snap(mp("A", "BTC", "9", 5)))

	rep, err := svc.Tick(context.Background())
	assert.ErrorIs(t, err, port.ErrPersistence)
	assert.Equal(t, port.TickStoreFailed, rep.Outcome)
	assert.Zero(t, st.promotions)
	assert.Same(t, prev, st.previous)
	assert.Empty(t, ch.sent)
}

func TestTickPromoteFailure(t *testing.T) {
	f := &fakeFetcher{}
	prev := snap(mp("A", "BTC", "1", 5))
	st := &memStore{previous: prev, promoteErr: fmt.Errorf("%w: rename failed", port.ErrPersistence)}
	ch := &fakeChannel{name: "console"}
	svc, _ := newTestService(t, f, st, ch)

	f.push(snap(mp("A", "BTC", "4", 5)))

	rep, err := svc.Tick(context.Background())
	assert.ErrorIs(t, err, port.ErrPersistence)
	assert.Equal(t, port.TickStoreFailed, rep.Outcome)
	assert.False(t, rep.Promoted)
	assert.Same(t, prev, st.previous)
	assert.Zero(t, st.promotions)
	// the change was still reported before the promote step
	assert.Len(t, ch.sent, 1)
}

func TestTickCorruptPreviousIsTreatedAsAbsent(t *testing.T) {
	f := &fakeFetcher{}
	st := &memStore{readErr: fmt.Errorf("%w: last.json", port.ErrCorruptSlot)}
	svc, _ := newTestService(t, f, st)

	f.push(snap(mp("A", "BTC", "1", 5)))

	rep, err := svc.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.FirstRun)
	assert.True(t, rep.Promoted)
}

func TestTickReportsSkippedEntries(t *testing.T) {
	f := &fakeFetcher{}
	st := &memStore{previous: snap(mp("A", "BTC", "1", 5))}
	svc, _ := newTestService(t, f, st)

	cur, err := model.DecodeSnapshot([]byte(`{"positions":[{"id":"A","positions":{"BTC":{"leverage":5}}}]}`))
	require.NoError(t, err)
	f.push(cur)

	rep, err := svc.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rep.Events)
	assert.Len(t, rep.Skipped, 1)
	assert.True(t, rep.Promoted)
}

func TestTickHonoursAllowList(t *testing.T) {
	f := &fakeFetcher{}
	st := &memStore{previous: snap(mp("A", "BTC", "1", 5), mp("B", "BTC", "1", 5))}
	svc, _ := newTestService(t, f, st)
	svc.allow = map[string]struct{}{"B": {}}

	f.push(snap(mp("A", "BTC", "2", 5), mp("B", "BTC", "1", 5)))

	rep, err := svc.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rep.Events)
}

func TestRunTicksUntilCancelled(t *testing.T) {
	f := &fakeFetcher{}
	st := &memStore{}
	ch := &fakeChannel{name: "console"}
	svc, clk := newTestService(t, f, st, ch)

	f.push(
		snap(mp("A", "BTC", "1", 5)),
		snap(mp("A", "BTC", "2", 5)),
		fmt.Errorf("%w: boom", port.ErrFetchUnavailable),
		snap(mp("A", "BTC", "2", 5)),
		snap(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	for i := 0; i < 4; i++ {
		clk.tick(time.Minute)
	}
	// the fourth tick is in flight or finished; make sure it completes
	clk.tick(time.Minute)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, 6, f.calls)
	status := svc.Status()
	assert.Equal(t, 6, status.Ticks)
	assert.Equal(t, 2, status.EventsTotal)
	assert.Equal(t, port.TickFetchFailed, status.LastOutcome)

	kinds := ch.kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, port.NotifyStartup, kinds[0])
	assert.Equal(t, port.NotifyShutdown, kinds[len(kinds)-1])
	assert.Equal(t, []port.NotificationKind{
		port.NotifyStartup, port.NotifyTrades, port.NotifyTrades, port.NotifyShutdown,
	}, kinds)
}

type panickyFetcher struct{ calls int }

func (p *panickyFetcher) Fetch(context.Context) (*model.Snapshot, error) {
	p.calls++
	if p.calls == 1 {
		panic("decoder exploded")
	}
	return snap(), nil
}

func TestRunSurvivesPanickingTick(t *testing.T) {
	pf := &panickyFetcher{}
	st := &memStore{}
	clk := newFakeClock()
	svc := NewService(ServiceDeps{Fetcher: pf, Store: st, Clock: clk, Logger: zerolog.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	clk.tick(time.Minute)
	clk.tick(time.Minute)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 3, pf.calls)
	assert.Equal(t, 2, st.promotions)
	assert.Equal(t, port.TickOK, svc.Status().LastOutcome)
}

func TestRunRequiresFetcherAndStore(t *testing.T) {
	svc := NewService(ServiceDeps{Logger: zerolog.Nop()})
	err := svc.Run(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "required"))
}

// brokenClock panics when the scheduler asks for its ticker.
type brokenClock struct{ *fakeClock }

func (brokenClock) NewTicker(time.Duration) port.Ticker { panic("ticker unavailable") }

func TestRunNotifiesSchedulerFailure(t *testing.T) {
	st := &memStore{}
	ch := &fakeChannel{name: "telegram"}
	svc := NewService(ServiceDeps{
		Fetcher:  &fakeFetcher{},
		Store:    st,
		Channels: []port.Channel{ch},
		Clock:    brokenClock{newFakeClock()},
		Logger:   zerolog.Nop(),
	})

	err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ticker unavailable")

	assert.Equal(t, []port.NotificationKind{port.NotifyStartup, port.NotifyError}, ch.kinds())
	assert.Contains(t, ch.sent[1].Text, "ticker unavailable")
}
