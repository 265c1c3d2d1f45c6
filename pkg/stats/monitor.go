package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MonitorResult is the outcome of running every check for one symbol.
type MonitorResult struct {
	Symbol           string
	VolumeTriggered  bool
	RiseTriggered    bool
	PatternTriggered []string // timeframes that matched
	Fired            []string // alert types that passed dedup
	Suppressed       []string // alert types dropped by dedup
	Err              error
}

// MonitorBatch aggregates detection outcomes for one pass. Safe for concurrent use.
type MonitorBatch struct {
	lock       sync.Mutex
	started    time.Time
	finished   time.Time
	checked    int
	volume     int
	rise       int
	pattern    map[string]int
	alerts     int
	suppressed int
	errors     int
	errorList  []string
}

func NewMonitorBatch(started time.Time) *MonitorBatch {
	return &MonitorBatch{started: started, pattern: make(map[string]int)}
}

func (b *MonitorBatch) Add(r MonitorResult) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.checked++
	if r.VolumeTriggered {
		b.volume++
		checksTriggered.WithLabelValues("volume", "1m").Inc()
	}
	if r.RiseTriggered {
		b.rise++
		checksTriggered.WithLabelValues("rise", "1m").Inc()
	}
	for _, tf := range r.PatternTriggered {
		b.pattern[tf]++
		checksTriggered.WithLabelValues("open_price", tf).Inc()
	}
	b.alerts += len(r.Fired)
	for _, t := range r.Fired {
		alertOutcomes.WithLabelValues(t, "fired").Inc()
	}
	b.suppressed += len(r.Suppressed)
	for _, t := range r.Suppressed {
		alertOutcomes.WithLabelValues(t, "suppressed").Inc()
	}
	if r.Err != nil {
		b.errors++
		b.errorList = append(b.errorList, fmt.Sprintf("%s: %v", r.Symbol, r.Err))
		detectionErrors.Inc()
	}
}

func (b *MonitorBatch) Finish(at time.Time) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.finished = at
}

type MonitorSummary struct {
	Checked          int
	VolumeTriggered  int
	RiseTriggered    int
	PatternTriggered map[string]int
	AlertsSent       int
	AlertsSuppressed int
	Errors           int
	ErrorList        []string
	Duration         time.Duration
}

func (b *MonitorBatch) Summary() MonitorSummary {
	b.lock.Lock()
	defer b.lock.Unlock()

	s := MonitorSummary{
		Checked:          b.checked,
		VolumeTriggered:  b.volume,
		RiseTriggered:    b.rise,
		PatternTriggered: make(map[string]int, len(b.pattern)),
		AlertsSent:       b.alerts,
		AlertsSuppressed: b.suppressed,
		Errors:           b.errors,
		ErrorList:        append([]string(nil), b.errorList...),
	}
	if !b.finished.IsZero() {
		s.Duration = b.finished.Sub(b.started)
	}
	for tf, n := range b.pattern {
		s.PatternTriggered[tf] = n
	}
	return s
}

func (s MonitorSummary) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔎 Monitor: checked=%d volume=%d rise=%d alerts=%d suppressed=%d errors=%d took=%s",
		s.Checked, s.VolumeTriggered, s.RiseTriggered, s.AlertsSent, s.AlertsSuppressed, s.Errors, s.Duration.Round(time.Millisecond))

	tfs := make([]string, 0, len(s.PatternTriggered))
	for tf := range s.PatternTriggered {
		tfs = append(tfs, tf)
	}
	sort.Strings(tfs)
	for _, tf := range tfs {
		fmt.Fprintf(&sb, "\n  [%s] pattern=%d", tf, s.PatternTriggered[tf])
	}
	return sb.String()
}
