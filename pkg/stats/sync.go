package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// SyncResult is the outcome of syncing one (symbol, interval).
type SyncResult struct {
	Symbol   string
	Interval string
	Inserted int
	Updated  int
	Skipped  bool // throttled, nothing fetched
	Err      error
	Duration time.Duration
}

func (r SyncResult) Total() int { return r.Inserted + r.Updated }

func (r SyncResult) OK() bool { return r.Err == nil }

type IntervalCounts struct {
	Success  int
	Failed   int
	Skipped  int
	Inserted int
	Updated  int
}

type FailedSync struct {
	Symbol   string
	Interval string
	Error    string
}

// SyncBatch aggregates sync results for one tick. Safe for concurrent use.
type SyncBatch struct {
	lock       sync.Mutex
	name       string
	started    time.Time
	finished   time.Time
	byInterval map[string]*IntervalCounts
	failures   []FailedSync
}

func NewSyncBatch(name string, started time.Time) *SyncBatch {
	return &SyncBatch{
		name:       name,
		started:    started,
		byInterval: make(map[string]*IntervalCounts),
	}
}

func (b *SyncBatch) Add(r SyncResult) {
	b.lock.Lock()
	defer b.lock.Unlock()

	c, ok := b.byInterval[r.Interval]
	if !ok {
		c = &IntervalCounts{}
		b.byInterval[r.Interval] = c
	}
	switch {
	case r.Err != nil:
		c.Failed++
		b.failures = append(b.failures, FailedSync{Symbol: r.Symbol, Interval: r.Interval, Error: r.Err.Error()})
		syncOutcomes.WithLabelValues(r.Interval, "failed").Inc()
	case r.Skipped:
		c.Skipped++
		syncOutcomes.WithLabelValues(r.Interval, "skipped").Inc()
	default:
		c.Success++
		c.Inserted += r.Inserted
		c.Updated += r.Updated
		syncOutcomes.WithLabelValues(r.Interval, "success").Inc()
		klinesStored.WithLabelValues(r.Interval, "inserted").Add(float64(r.Inserted))
		klinesStored.WithLabelValues(r.Interval, "updated").Add(float64(r.Updated))
	}
}

func (b *SyncBatch) Finish(at time.Time) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.finished = at
}

// SyncSummary is a point-in-time copy of a SyncBatch.
type SyncSummary struct {
	Name       string
	Success    int
	Failed     int
	Skipped    int
	Inserted   int
	Updated    int
	ByInterval map[string]IntervalCounts
	Failures   []FailedSync
	Duration   time.Duration
}

func (b *SyncBatch) Summary() SyncSummary {
	b.lock.Lock()
	defer b.lock.Unlock()

	s := SyncSummary{
		Name:       b.name,
		ByInterval: make(map[string]IntervalCounts, len(b.byInterval)),
		Failures:   append([]FailedSync(nil), b.failures...),
	}
	if !b.finished.IsZero() {
		s.Duration = b.finished.Sub(b.started)
	}
	for iv, c := range b.byInterval {
		s.ByInterval[iv] = *c
		s.Success += c.Success
		s.Failed += c.Failed
		s.Skipped += c.Skipped
		s.Inserted += c.Inserted
		s.Updated += c.Updated
	}
	return s
}

// Format renders a multi-line report, intervals in sorted order.
func (s SyncSummary) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 %s: success=%d failed=%d skipped=%d inserted=%d updated=%d took=%s",
		s.Name, s.Success, s.Failed, s.Skipped, s.Inserted, s.Updated, s.Duration.Round(time.Millisecond))

	intervals := make([]string, 0, len(s.ByInterval))
	for iv := range s.ByInterval {
		intervals = append(intervals, iv)
	}
	sort.Strings(intervals)
	for _, iv := range intervals {
		c := s.ByInterval[iv]
		fmt.Fprintf(&sb, "\n  [%s] success=%d failed=%d skipped=%d inserted=%d updated=%d",
			iv, c.Success, c.Failed, c.Skipped, c.Inserted, c.Updated)
	}

	const maxShown = 10
	for i, f := range s.Failures {
		if i == maxShown {
			fmt.Fprintf(&sb, "\n  ... %d more failures", len(s.Failures)-maxShown)
			break
		}
		fmt.Fprintf(&sb, "\n  ❌ %s %s: %s", f.Symbol, f.Interval, f.Error)
	}
	return sb.String()
}
