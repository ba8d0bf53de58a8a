package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"alphawatch/internal/application/port"
	"alphawatch/internal/domain/model"
	dsvc "alphawatch/internal/domain/service"
)

const (
	DefaultInterval = 60 * time.Second

	lifecycleTimeout = 30 * time.Second
	maxSkipExamples  = 3
)

type ServiceDeps struct {
	Fetcher         port.SnapshotFetcher
	Store           port.SnapshotStore
	Channels        []port.Channel
	Repo            port.Repository
	MonitoredModels []string
	Interval        time.Duration
	Clock           port.Clock
	Logger          zerolog.Logger
	Metrics         port.Metrics
	// NewID names ticks and event records; defaults to a per-process counter.
	NewID func() string

	// shown in lifecycle messages only
	Endpoint  string
	PortalURL string
}

// TickReport 单次 tick 的结果
type TickReport struct {
	ID       string
	At       time.Time
	Outcome  string
	FirstRun bool
	Events   []model.TradeEvent
	Skipped  []model.Defect
	Dispatch *DispatchResult
	Promoted bool
	Err      error
}

type Service struct {
	deps  ServiceDeps
	allow dsvc.AllowList
	disp  *Dispatcher
	fmt   *Formatter
	st    *State
	log   zerolog.Logger
}

func NewService(deps ServiceDeps) *Service {
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Repo == nil {
		deps.Repo = NewNoopRepo()
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if deps.Clock == nil {
		deps.Clock = systemClock{}
	}
	if deps.NewID == nil {
		var seq atomic.Uint64
		deps.NewID = func() string { return strconv.FormatUint(seq.Add(1), 10) }
	}
	log := deps.Logger.With().Str("component", "monitor").Logger()
	return &Service{
		deps:  deps,
		allow: dsvc.NewAllowList(deps.MonitoredModels...),
		disp:  NewDispatcher(deps.Channels, log, deps.Metrics),
		fmt:   NewFormatter(deps.PortalURL),
		st:    NewState(deps.Clock.Now()),
		log:   log,
	}
}

// Status returns the scheduler's running state.
func (s *Service) Status() Status { return s.st.Snapshot() }

// Dispatcher exposes the channel fan-out for one-off messages such as notify-test.
func (s *Service) Dispatcher() *Dispatcher { return s.disp }

func (s *Service) Formatter() *Formatter { return s.fmt }

// Run ticks once immediately and then every Interval until ctx is cancelled.
// Ticks never overlap: a tick that falls due while another is running is dropped.
// Cancellation is observed between ticks only.
func (s *Service) Run(ctx context.Context) (err error) {
	if s.deps.Fetcher == nil || s.deps.Store == nil {
		return errors.New("monitor: fetcher and store are required")
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("monitor: scheduler panic: %v", r)
			s.log.Error().Str("stack", string(debug.Stack())).Msg(err.Error())
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			s.lifecycle(port.NotifyError, s.fmt.Error(s.deps.Clock.Now(), err))
		}
	}()

	if s.disp.Len() == 0 {
		s.log.Warn().Msg("no notification channels configured; changes will only be logged")
	}
	s.log.Info().
		Str("endpoint", s.deps.Endpoint).
		Strs("models", s.allow.IDs()).
		Dur("interval", s.deps.Interval).
		Strs("channels", s.disp.Names()).
		Msg("monitor started")
	s.lifecycle(port.NotifyStartup, s.fmt.Startup(s.deps.Clock.Now(), s.deps.Endpoint, s.allow.IDs(), s.deps.Interval))

	ticker := s.deps.Clock.NewTicker(s.deps.Interval)
	defer ticker.Stop()

	// in-flight work is not preempted by shutdown
	work := context.WithoutCancel(ctx)

	s.runTick(work)
	for {
		if ctx.Err() != nil {
			return s.shutdown()
		}
		select {
		case <-ctx.Done():
			return s.shutdown()
		case <-ticker.C():
			s.runTick(work)
		}
	}
}

func (s *Service) shutdown() error {
	s.log.Info().Msg("stop requested, shutting down monitor")
	s.lifecycle(port.NotifyShutdown, s.fmt.Shutdown(s.deps.Clock.Now()))
	return nil
}

// lifecycle 启动/关闭/错误通知，尽力而为
func (s *Service) lifecycle(kind port.NotificationKind, text string) {
	if s.disp.Len() == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer cancel()
	res := s.disp.SendAll(ctx, port.Notification{Kind: kind, Text: text, At: s.deps.Clock.Now()})
	if !res.AnySucceeded {
		s.log.Warn().Str("kind", string(kind)).Msg("lifecycle notification reached no channel")
	}
}

// runTick wraps Tick so that neither an error nor a panic stops the loop.
func (s *Service) runTick(ctx context.Context) {
	start := time.Now()
	var rep TickReport
	defer func() {
		if r := recover(); r != nil {
			rep.Outcome = port.TickPanicked
			rep.Err = fmt.Errorf("tick panic: %v", r)
			s.log.Error().Str("tick", rep.ID).Str("stack", string(debug.Stack())).Msg(rep.Err.Error())
		}
		s.deps.Metrics.TickCompleted(rep.Outcome, time.Since(start))
		s.st.Apply(rep)
	}()

	rep, _ = s.Tick(ctx)
}

// Tick runs one fetch → stage → diff → notify → promote cycle. Errors are logged
// and returned; a failed fetch or stage leaves the previous slot untouched.
func (s *Service) Tick(ctx context.Context) (TickReport, error) {
	rep := TickReport{ID: s.deps.NewID(), At: s.deps.Clock.Now()}
	log := s.log.With().Str("tick", rep.ID).Logger()

	fail := func(outcome string, err error) (TickReport, error) {
		rep.Outcome = outcome
		rep.Err = err
		log.Error().Err(err).Str("outcome", outcome).Msg("tick aborted")
		return rep, err
	}

	snap, err := s.deps.Fetcher.Fetch(ctx)
	if err == nil && snap == nil {
		err = fmt.Errorf("%w: empty response", port.ErrFetchUnavailable)
	}
	if err != nil {
		return fail(port.TickFetchFailed, err)
	}
	snap = snap.Stamped(rep.At)

	if err := s.deps.Store.Stage(ctx, snap); err != nil {
		return fail(port.TickStoreFailed, err)
	}
	s.recordSnapshot(ctx, log, snap)

	prev, err := s.deps.Store.ReadPrevious(ctx)
	switch {
	case errors.Is(err, port.ErrCorruptSlot):
		log.Error().Err(err).Msg("previous snapshot unreadable, treating as first run")
		prev = nil
	case err != nil:
		return fail(port.TickStoreFailed, err)
	}
	rep.FirstRun = prev == nil

	res := dsvc.Compare(prev, snap, s.allow)
	rep.Events, rep.Skipped = res.Events, res.Skipped

	if n := len(res.Skipped); n > 0 {
		s.deps.Metrics.EntriesSkipped(n)
		ev := log.Warn().Int("skipped", n)
		for i, d := range res.Skipped {
			if i == maxSkipExamples {
				break
			}
			ev = ev.Str("example_"+strconv.Itoa(i+1), d.String())
		}
		ev.Msg("malformed entries skipped")
	}

	switch {
	case rep.FirstRun:
		log.Info().Int("models", len(snap.Models)).Msg("no previous snapshot, baseline recorded")
	case len(res.Events) == 0:
		log.Info().Int("models", len(snap.Models)).Msg("no trade changes")
	default:
		log.Info().Int("events", len(res.Events)).Msg("trade changes detected")
		for _, ev := range res.Events {
			s.deps.Metrics.EventEmitted(ev.Kind())
			log.Info().Str("model", ev.Model()).Str("symbol", ev.Symbol()).Str("type", string(ev.Kind())).Msg(ev.Message())
		}
		s.recordEvents(ctx, log, res.Events)

		if s.disp.Len() > 0 {
			d := s.disp.SendAll(ctx, port.Notification{
				Kind:   port.NotifyTrades,
				Text:   s.fmt.Summary(res.Events),
				Events: res.Events,
				At:     rep.At,
			})
			rep.Dispatch = &d
			if !d.AnySucceeded {
				log.Error().Strs("failed", d.Failed()).Msg("trade notification reached no channel")
			}
		}
	}

	// notification outcome never holds back the baseline
	if err := s.deps.Store.Promote(ctx); err != nil {
		return fail(port.TickStoreFailed, err)
	}
	rep.Promoted = true
	rep.Outcome = port.TickOK
	s.deps.Metrics.Promoted(rep.At)
	return rep, nil
}

func (s *Service) recordSnapshot(ctx context.Context, log zerolog.Logger, snap *model.Snapshot) {
	payload, err := json.Marshal(snap)
	if err == nil {
		err = s.deps.Repo.InsertSnapshot(ctx, snap.FetchedAt.UnixMilli(), string(payload))
	}
	if err != nil {
		log.Warn().Err(err).Msg("history: snapshot not recorded")
	}
}

func (s *Service) recordEvents(ctx context.Context, log zerolog.Logger, events []model.TradeEvent) {
	recs := make([]model.EventRecord, 0, len(events))
	for _, ev := range events {
		r := model.Record(ev)
		r.ID = s.deps.NewID()
		recs = append(recs, r)
	}
	if err := s.deps.Repo.InsertEvents(ctx, recs); err != nil {
		log.Warn().Err(err).Int("events", len(recs)).Msg("history: events not recorded")
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTicker(d time.Duration) port.Ticker { return stdTicker{time.NewTicker(d)} }

type stdTicker struct{ t *time.Ticker }

func (t stdTicker) C() <-chan time.Time { return t.t.C }
func (t stdTicker) Stop()               { t.t.Stop() }
