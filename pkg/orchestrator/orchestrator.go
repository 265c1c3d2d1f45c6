package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"klinewatch.magictradebot.com/pkg/market"
	"klinewatch.magictradebot.com/pkg/stats"
)

type SymbolStore interface {
	ActiveSymbols(ctx context.Context) (synced, unsynced []string, err error)
	MarkInitialSynced(ctx context.Context, symbol string) error
}

type Syncer interface {
	SyncKlines(ctx context.Context, symbol, interval string, opts market.SyncOptions) stats.SyncResult
}

type Detector interface {
	Run(ctx context.Context, symbols []string) (stats.MonitorSummary, error)
}

type WeightReporter interface {
	UsedWeight() int
}

type Options struct {
	SteadyConcurrency int
	InitConcurrency   int
	InitBatchSize     int
	InitialDays       int
	Intervals         []string // every interval a new symbol is backfilled for
}

// TickReport describes what one tick did.
type TickReport struct {
	ID          string
	Trigger     string
	Started     time.Time
	Duration    time.Duration
	Intervals   []string
	Steady      stats.SyncSummary
	Init        stats.SyncSummary
	Initialized []string
	Detection   *stats.MonitorSummary
	UsedWeight  int
	Err         error
}

// Orchestrator decides per tick which (symbol, interval) pairs to sync and
// runs detection once steady-state data is fresh.
type Orchestrator struct {
	symbols  SymbolStore
	syncer   Syncer
	detector Detector
	weight   WeightReporter
	rotator  *InitRotator
	opts     Options
	now      func() time.Time
	log      *logrus.Entry
}

func New(symbols SymbolStore, syncer Syncer, detector Detector, weight WeightReporter, opts Options, log *logrus.Logger) *Orchestrator {
	if opts.SteadyConcurrency <= 0 {
		opts.SteadyConcurrency = 600
	}
	if opts.InitConcurrency <= 0 {
		opts.InitConcurrency = 20
	}
	if opts.InitBatchSize <= 0 {
		opts.InitBatchSize = 5
	}
	if len(opts.Intervals) == 0 {
		opts.Intervals = market.AllIntervals
	}
	return &Orchestrator{
		symbols:  symbols,
		syncer:   syncer,
		detector: detector,
		weight:   weight,
		rotator:  NewInitRotator(opts.InitBatchSize),
		opts:     opts,
		now:      time.Now,
		log:      log.WithField("component", "orchestrator"),
	}
}

// WithClock replaces the wall clock, mainly for tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Tick runs one scheduling round. at selects the due intervals and is read in
// the scheduler's location. Task failures land in the report; Tick itself
// only reports tick-level failures through TickReport.Err.
func (o *Orchestrator) Tick(ctx context.Context, trigger string, at time.Time) (report TickReport) {
	report = TickReport{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Started:   o.now(),
		Intervals: DueIntervals(at.Hour(), at.Minute()),
	}
	log := o.log.WithFields(logrus.Fields{
		"tick":    report.ID[:8],
		"trigger": trigger,
	})
	defer func() {
		report.Duration = o.now().Sub(report.Started)
	}()

	synced, unsynced, err := o.symbols.ActiveSymbols(ctx)
	if err != nil {
		report.Err = fmt.Errorf("load active symbols: %w", err)
		log.Errorf("❌ Tick aborted: %v", report.Err)
		return report
	}

	log.WithFields(logrus.Fields{
		"intervals": report.Intervals,
		"steady":    len(synced),
		"pending":   len(unsynced),
	}).Info("⏱️ Tick started")

	var wg sync.WaitGroup
	batch := o.rotator.NextBatch(unsynced)
	if len(batch) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report.Init, report.Initialized = o.dispatchInit(ctx, batch)
		}()
	}

	report.Steady = o.dispatchSteady(ctx, synced, report.Intervals)
	if report.Steady.Success > 0 {
		summary, err := o.detector.Run(ctx, synced)
		if err != nil {
			log.Errorf("❌ Detection failed: %v", err)
		} else {
			report.Detection = &summary
		}
	}
	wg.Wait()

	report.UsedWeight = -1
	if o.weight != nil {
		report.UsedWeight = o.weight.UsedWeight()
		stats.ObserveUsedWeight(report.UsedWeight)
	}

	if len(synced) > 0 {
		log.Info(report.Steady.Format())
	}
	if len(batch) > 0 {
		log.Info(report.Init.Format())
	}
	log.WithFields(logrus.Fields{
		"initialized": len(report.Initialized),
		"used_weight": report.UsedWeight,
		"took":        o.now().Sub(report.Started).Round(time.Millisecond),
	}).Info("✅ Tick complete")
	return report
}

func (o *Orchestrator) dispatchSteady(ctx context.Context, symbols, intervals []string) stats.SyncSummary {
	batch := stats.NewSyncBatch("Steady-state sync", o.now())
	opts := market.SyncOptions{InitialDays: o.opts.InitialDays, Force: true}

	g := new(errgroup.Group)
	g.SetLimit(o.opts.SteadyConcurrency)
	for _, symbol := range symbols {
		for _, interval := range intervals {
			g.Go(func() error {
				batch.Add(o.safeSync(ctx, symbol, interval, opts))
				return nil
			})
		}
	}
	_ = g.Wait()

	batch.Finish(o.now())
	return batch.Summary()
}

func (o *Orchestrator) dispatchInit(ctx context.Context, symbols []string) (stats.SyncSummary, []string) {
	batch := stats.NewSyncBatch("Initial backfill", o.now())
	opts := market.SyncOptions{InitialDays: o.opts.InitialDays, Force: true}

	var lock sync.Mutex
	var initialized []string

	g := new(errgroup.Group)
	g.SetLimit(o.opts.InitConcurrency)
	for _, symbol := range symbols {
		g.Go(func() error {
			ok := true
			for _, interval := range o.opts.Intervals {
				res := o.safeSync(ctx, symbol, interval, opts)
				batch.Add(res)
				if !res.OK() {
					ok = false
				}
			}
			if ok {
				if err := o.symbols.MarkInitialSynced(ctx, symbol); err != nil {
					o.log.WithField("symbol", symbol).Errorf("❌ %v", err)
					ok = false
				}
			}
			o.rotator.Done(symbol, ok)
			if ok {
				lock.Lock()
				initialized = append(initialized, symbol)
				lock.Unlock()
				o.log.WithField("symbol", symbol).Info("🆕 Symbol initialized")
			}
			return nil
		})
	}
	_ = g.Wait()

	batch.Finish(o.now())
	return batch.Summary(), initialized
}

func (o *Orchestrator) safeSync(ctx context.Context, symbol, interval string, opts market.SyncOptions) (res stats.SyncResult) {
	defer func() {
		if r := recover(); r != nil {
			res = stats.SyncResult{Symbol: symbol, Interval: interval, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return o.syncer.SyncKlines(ctx, symbol, interval, opts)
}
