package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"klinewatch.magictradebot.com/pkg/orchestrator"
)

const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

type Ticker interface {
	Tick(ctx context.Context, trigger string, at time.Time) orchestrator.TickReport
}

type Cleaner interface {
	CleanupOldKlines(ctx context.Context) (map[string]int64, error)
}

type Options struct {
	Location      *time.Location
	CleanupHour   int
	CleanupMinute int
}

// TickStatus is the part of a tick report exposed over the admin API.
type TickStatus struct {
	ID          string    `json:"id"`
	Trigger     string    `json:"trigger"`
	Started     time.Time `json:"started"`
	DurationMs  int64     `json:"duration_ms"`
	Intervals   []string  `json:"intervals"`
	Synced      int       `json:"synced"`
	Failed      int       `json:"failed"`
	Initialized int       `json:"initialized"`
	Alerts      int       `json:"alerts"`
	UsedWeight  int       `json:"used_weight"`
	Error       string    `json:"error,omitempty"`
}

type Status struct {
	Running     bool        `json:"running"`
	Paused      bool        `json:"paused"`
	Ticks       int         `json:"ticks"`
	Skipped     int         `json:"skipped"`
	NextRun     time.Time   `json:"next_run"`
	LastCleanup time.Time   `json:"last_cleanup"`
	LastTick    *TickStatus `json:"last_tick,omitempty"`
}

// Scheduler fires a tick at the start of every wall-clock minute. Ticks never
// overlap: a tick that runs past the next boundary makes the loop skip ahead.
type Scheduler struct {
	ticker  Ticker
	cleaner Cleaner
	opts    Options
	now     func() time.Time
	after   func(time.Duration) <-chan time.Time
	manual  chan struct{}
	log     *logrus.Entry

	cleanedOn string // local date of the last retention sweep, Run goroutine only

	lock   sync.Mutex
	status Status
}

func New(ticker Ticker, cleaner Cleaner, opts Options, log *logrus.Logger) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Scheduler{
		ticker:  ticker,
		cleaner: cleaner,
		opts:    opts,
		now:     time.Now,
		after:   time.After,
		manual:  make(chan struct{}, 1),
		log:     log.WithField("component", "scheduler"),
	}
}

// WithClock replaces the wall clock and timer, mainly for tests.
func (s *Scheduler) WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) *Scheduler {
	s.now = now
	s.after = after
	return s
}

// Run blocks until ctx is cancelled. A tick already running when ctx is
// cancelled finishes before Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	s.update(func(st *Status) { st.Running = true })
	defer s.update(func(st *Status) { st.Running = false })

	s.log.WithField("timezone", s.opts.Location.String()).Info("⏳ Scheduler started")
	for {
		now := s.now()
		next := now.Truncate(time.Minute).Add(time.Minute)
		s.update(func(st *Status) { st.NextRun = next })

		select {
		case <-ctx.Done():
			s.log.Info("🛑 Scheduler stopped")
			return
		case <-s.after(next.Sub(now)):
			s.fire(ctx, TriggerSchedule, next)
		case <-s.manual:
			s.fire(ctx, TriggerManual, s.now())
		}
	}
}

// Trigger requests an immediate tick. It reports false when one is already queued.
func (s *Scheduler) Trigger() bool {
	select {
	case s.manual <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Scheduler) Pause() {
	s.update(func(st *Status) { st.Paused = true })
	s.log.Info("⏸️ Scheduler paused")
}

func (s *Scheduler) Resume() {
	s.update(func(st *Status) { st.Paused = false })
	s.log.Info("▶️ Scheduler resumed")
}

func (s *Scheduler) Status() Status {
	s.lock.Lock()
	defer s.lock.Unlock()
	st := s.status
	if st.LastTick != nil {
		last := *st.LastTick
		st.LastTick = &last
	}
	return st
}

func (s *Scheduler) update(fn func(*Status)) {
	s.lock.Lock()
	defer s.lock.Unlock()
	fn(&s.status)
}

func (s *Scheduler) fire(ctx context.Context, trigger string, at time.Time) {
	// shutdown must not cut an in-flight tick short
	tickCtx := context.WithoutCancel(ctx)
	at = at.In(s.opts.Location)
	if trigger == TriggerSchedule {
		defer s.cleanupIfDue(tickCtx, at)
	}

	if trigger == TriggerSchedule && s.Status().Paused {
		s.update(func(st *Status) { st.Skipped++ })
		s.log.Debug("⏸️ Tick skipped while paused")
		return
	}

	report := s.safeTick(tickCtx, trigger, at)
	status := toStatus(report)
	s.update(func(st *Status) {
		st.Ticks++
		st.LastTick = &status
	})
}

// cleanupIfDue runs the retention sweep once per local day, on the first scheduled
// boundary at or after the cleanup clock. Paused or overrunning ticks only delay it.
func (s *Scheduler) cleanupIfDue(ctx context.Context, at time.Time) {
	day := at.Format(time.DateOnly)
	due := time.Date(at.Year(), at.Month(), at.Day(), s.opts.CleanupHour, s.opts.CleanupMinute, 0, 0, at.Location())
	if at.Before(due) || s.cleanedOn == day {
		return
	}
	s.cleanedOn = day
	s.cleanup(ctx)
}

func (s *Scheduler) safeTick(ctx context.Context, trigger string, at time.Time) (report orchestrator.TickReport) {
	defer func() {
		if r := recover(); r != nil {
			report = orchestrator.TickReport{Trigger: trigger, Started: at, Err: fmt.Errorf("panic: %v", r)}
			s.log.Errorf("🔥 Panic recovered in tick: %v", r)
		}
	}()
	return s.ticker.Tick(ctx, trigger, at)
}

func (s *Scheduler) cleanup(ctx context.Context) {
	if s.cleaner == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("🔥 Panic recovered in cleanup: %v", r)
		}
	}()

	deleted, err := s.cleaner.CleanupOldKlines(ctx)
	if err != nil {
		s.log.Errorf("❌ Retention cleanup failed: %v", err)
	}
	s.update(func(st *Status) { st.LastCleanup = s.now() })

	var total int64
	for _, n := range deleted {
		total += n
	}
	s.log.WithFields(logrus.Fields{
		"deleted":      total,
		"per_interval": deleted,
	}).Info("🧹 Retention cleanup complete")
}

func toStatus(r orchestrator.TickReport) TickStatus {
	ts := TickStatus{
		ID:          r.ID,
		Trigger:     r.Trigger,
		Started:     r.Started,
		DurationMs:  r.Duration.Milliseconds(),
		Intervals:   r.Intervals,
		Synced:      r.Steady.Success + r.Init.Success,
		Failed:      r.Steady.Failed + r.Init.Failed,
		Initialized: len(r.Initialized),
		UsedWeight:  r.UsedWeight,
	}
	if r.Detection != nil {
		ts.Alerts = r.Detection.AlertsSent
	}
	if r.Err != nil {
		ts.Error = r.Err.Error()
	}
	return ts
}
