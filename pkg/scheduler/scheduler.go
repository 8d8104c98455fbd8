// Package scheduler drives the periodic refresh cycles and holds the
// last-known-good view snapshot for the display. A refresh builds a complete
// new immutable snapshot and swaps it in atomically; a failed refresh never
// clears what is already displayed.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/umputun/hallboard/pkg/agenda"
	"github.com/umputun/hallboard/pkg/calendar"
	"github.com/umputun/hallboard/pkg/config"
	"github.com/umputun/hallboard/pkg/domain"
	"github.com/umputun/hallboard/pkg/weather"
)

// Pipeline runs one full calendar ingestion cycle.
type Pipeline interface {
	Run(ctx context.Context, sources []calendar.Source, now time.Time, horizonDays int) calendar.Result
}

// WeatherProvider fetches the current weather report.
type WeatherProvider interface {
	Fetch(ctx context.Context) weather.Report
}

// ConfigProvider returns a fresh configuration on each call, so config
// changes take effect without a restart.
type ConfigProvider interface {
	Get() *config.Config
}

// State of the refresh cycle.
type State string

// refresh cycle states
const (
	StateIdle            State = "idle"
	StateFetching        State = "fetching"
	StateSucceeded       State = "succeeded"
	StatePartiallyFailed State = "partially_failed"
	StateTotallyFailed   State = "totally_failed"
)

// Snapshot is the immutable view model consumed by the display: day buckets,
// the merged event set, weather, and a non-blocking notice when the latest
// refresh had problems. Stale marks data preserved from an earlier
// successful refresh.
type Snapshot struct {
	Days      []domain.DayBucket  `json:"days"`
	Events    []domain.Occurrence `json:"events"`
	Weather   weather.Report      `json:"weather"`
	UpdatedAt time.Time           `json:"updated_at"`
	Stale     bool                `json:"stale,omitempty"`
	Notice    string              `json:"notice,omitempty"`
}

// Scheduler owns the refresh loops. Events refresh on a fixed cadence
// regardless of success history; a failed refresh additionally arms a
// one-shot cooldown retry as a faster recovery path. Overlapping runs are
// tolerated, last to complete wins the displayed snapshot.
type Scheduler struct {
	config   ConfigProvider
	pipeline Pipeline
	weather  WeatherProvider

	now func() time.Time // injectable clock for tests

	mu     sync.RWMutex
	state  State
	snap   *Snapshot
	report weather.Report

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. The weather provider may be nil when no
// location is configured.
func NewScheduler(cfg ConfigProvider, pipeline Pipeline, weatherProvider WeatherProvider) *Scheduler {
	return &Scheduler{
		config:   cfg,
		pipeline: pipeline,
		weather:  weatherProvider,
		state:    StateIdle,
		now:      time.Now,
	}
}

// Start performs an initial refresh and launches the periodic workers. It
// returns immediately; use Stop for graceful shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	failed := s.RefreshEvents(ctx)
	s.RefreshWeather(ctx)

	s.wg.Add(1)
	go s.eventsWorker(ctx, failed)
	if s.weather != nil {
		s.wg.Add(1)
		go s.weatherWorker(ctx)
	}

	cfg := s.config.Get()
	log.Printf("[INFO] scheduler started, events every %v, weather every %v, failure cooldown %v",
		cfg.Schedule.EventsInterval, cfg.Schedule.WeatherInterval, cfg.Schedule.FailureCooldown)
}

// Stop cancels the workers and waits for them to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// eventsWorker re-runs the ingestion pipeline on the regular cadence, plus a
// one-shot cooldown retry after a totally failed refresh. retryArmed carries
// the outcome of the initial refresh done in Start.
func (s *Scheduler) eventsWorker(ctx context.Context, retryArmed bool) {
	defer s.wg.Done()

	cfg := s.config.Get()
	ticker := time.NewTicker(cfg.Schedule.EventsInterval)
	defer ticker.Stop()

	// armed only after a failed refresh
	retry := time.NewTimer(cfg.Schedule.FailureCooldown)
	stopTimer(retry)
	defer retry.Stop()
	if retryArmed {
		retry.Reset(cfg.Schedule.FailureCooldown)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-retry.C:
			log.Printf("[INFO] cooldown retry after failed refresh")
		}

		// the cooldown stays armed only while the latest refresh is a failure
		failed := s.RefreshEvents(ctx)
		stopTimer(retry)
		if failed {
			retry.Reset(s.config.Get().Schedule.FailureCooldown)
		}
	}
}

func (s *Scheduler) weatherWorker(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Get().Schedule.WeatherInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RefreshWeather(ctx)
		}
	}
}

// RefreshEvents runs one full ingestion cycle and publishes the outcome.
// It reports whether the cycle totally failed, which arms the cooldown
// retry path.
func (s *Scheduler) RefreshEvents(ctx context.Context) bool {
	cfg := s.config.Get() // configuration is re-read on every trigger
	loc := cfg.Location()
	now := s.now().In(loc)

	s.setState(StateFetching)
	res := s.pipeline.Run(ctx, calendar.SourcesFromConfig(cfg.Feeds), now, cfg.Calendar.HorizonDays)

	s.mu.Lock()
	defer s.mu.Unlock()

	if res.Failed() {
		s.state = StateTotallyFailed
		// keep showing the previous data; only mark it stale with a notice
		stale := Snapshot{
			Days:   agenda.Bucketize(nil, domain.DateOf(now), cfg.Calendar.MinDayBuckets, loc),
			Events: []domain.Occurrence{},
			Stale:  true,
			Notice: res.Err,
		}
		if s.snap != nil {
			stale.Days = s.snap.Days
			stale.Events = s.snap.Events
			stale.UpdatedAt = s.snap.UpdatedAt
		}
		s.snap = &stale
		return true
	}

	s.snap = &Snapshot{
		Days:      agenda.Bucketize(res.Events, domain.DateOf(now), cfg.Calendar.MinDayBuckets, loc),
		Events:    res.Events,
		UpdatedAt: s.now(),
		Notice:    res.Warning,
	}
	if res.Warning != "" {
		s.state = StatePartiallyFailed
	} else {
		s.state = StateSucceeded
	}
	return false
}

// RefreshWeather polls the weather provider. The provider never fails past
// its boundary, so this cannot disturb the event state.
func (s *Scheduler) RefreshWeather(ctx context.Context) {
	if s.weather == nil {
		return
	}
	report := s.weather.Fetch(ctx)

	s.mu.Lock()
	s.report = report
	s.mu.Unlock()
}

// Current returns the snapshot for the display. Before the first successful
// refresh it still yields the pre-seeded empty day buckets, so the view is
// never structurally broken.
func (s *Scheduler) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snap == nil {
		cfg := s.config.Get()
		loc := cfg.Location()
		return Snapshot{
			Days:    agenda.Bucketize(nil, domain.DateOf(s.now().In(loc)), cfg.Calendar.MinDayBuckets, loc),
			Events:  []domain.Occurrence{},
			Weather: s.report,
		}
	}

	snap := *s.snap
	snap.Weather = s.report
	return snap
}

// LatestWeather returns the most recent weather report.
func (s *Scheduler) LatestWeather() weather.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report
}

// State returns the current refresh cycle state.
func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// stopTimer stops a timer and drains its channel if it already fired.
func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
