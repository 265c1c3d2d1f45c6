package stats

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSyncBatchAggregatesConcurrently(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewSyncBatch("steady", start)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 5 {
			case 0:
				b.Add(SyncResult{Symbol: "BTCUSDT", Interval: "15m", Err: errors.New("boom")})
			case 1:
				b.Add(SyncResult{Symbol: "ETHUSDT", Interval: "1m", Skipped: true})
			default:
				b.Add(SyncResult{Symbol: "ETHUSDT", Interval: "1m", Inserted: 2, Updated: 1})
			}
		}(i)
	}
	wg.Wait()
	b.Finish(start.Add(3 * time.Second))

	s := b.Summary()
	assert.Equal(t, 30, s.Success)
	assert.Equal(t, 10, s.Failed)
	assert.Equal(t, 10, s.Skipped)
	assert.Equal(t, 60, s.Inserted)
	assert.Equal(t, 30, s.Updated)
	assert.Equal(t, 3*time.Second, s.Duration)
	assert.Len(t, s.Failures, 10)
	assert.Equal(t, 10, s.ByInterval["15m"].Failed)

	out := s.Format()
	assert.Contains(t, out, "[15m]")
	assert.Contains(t, out, "❌ BTCUSDT 15m: boom")
	assert.NotContains(t, out, "more failures")
}

func TestSyncResultTotal(t *testing.T) {
	r := SyncResult{Inserted: 3, Updated: 4}
	assert.Equal(t, 7, r.Total())
	assert.True(t, r.OK())
}

func TestMonitorBatchSummary(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewMonitorBatch(start)
	b.Add(MonitorResult{
		Symbol:           "BTCUSDT",
		VolumeTriggered:  true,
		PatternTriggered: []string{"1h", "4h"},
		Fired:            []string{"volume", "open_price"},
		Suppressed:       []string{"open_price"},
	})
	b.Add(MonitorResult{Symbol: "ETHUSDT", RiseTriggered: true, PatternTriggered: []string{"1h"}, Fired: []string{"rise"}})
	b.Add(MonitorResult{Symbol: "SOLUSDT", Err: errors.New("db down")})
	b.Finish(start.Add(time.Second))

	s := b.Summary()
	assert.Equal(t, 3, s.Checked)
	assert.Equal(t, 1, s.VolumeTriggered)
	assert.Equal(t, 1, s.RiseTriggered)
	assert.Equal(t, 2, s.PatternTriggered["1h"])
	assert.Equal(t, 3, s.AlertsSent)
	assert.Equal(t, 1, s.AlertsSuppressed)
	assert.Equal(t, 1, s.Errors)
	assert.Contains(t, s.Format(), "[4h] pattern=1")
}

func TestBatchesFeedMetrics(t *testing.T) {
	success := syncOutcomes.WithLabelValues("4h", "success")
	failed := syncOutcomes.WithLabelValues("4h", "failed")
	inserted := klinesStored.WithLabelValues("4h", "inserted")
	fired := alertOutcomes.WithLabelValues("rise", "fired")
	suppressed := alertOutcomes.WithLabelValues("rise", "suppressed")
	pattern := checksTriggered.WithLabelValues("open_price", "3d")
	before := []float64{
		testutil.ToFloat64(success), testutil.ToFloat64(failed), testutil.ToFloat64(inserted),
		testutil.ToFloat64(fired), testutil.ToFloat64(suppressed), testutil.ToFloat64(pattern),
		testutil.ToFloat64(detectionErrors),
	}

	sb := NewSyncBatch("steady", time.Now())
	sb.Add(SyncResult{Symbol: "BTCUSDT", Interval: "4h", Inserted: 5, Updated: 1})
	sb.Add(SyncResult{Symbol: "ETHUSDT", Interval: "4h", Err: errors.New("timeout")})

	mb := NewMonitorBatch(time.Now())
	mb.Add(MonitorResult{Symbol: "BTCUSDT", RiseTriggered: true, PatternTriggered: []string{"3d"}, Fired: []string{"rise"}})
	mb.Add(MonitorResult{Symbol: "BTCUSDT", RiseTriggered: true, Suppressed: []string{"rise"}, Err: errors.New("db down")})

	assert.Equal(t, before[0]+1, testutil.ToFloat64(success))
	assert.Equal(t, before[1]+1, testutil.ToFloat64(failed))
	assert.Equal(t, before[2]+5, testutil.ToFloat64(inserted))
	assert.Equal(t, before[3]+1, testutil.ToFloat64(fired))
	assert.Equal(t, before[4]+1, testutil.ToFloat64(suppressed))
	assert.Equal(t, before[5]+1, testutil.ToFloat64(pattern))
	assert.Equal(t, before[6]+1, testutil.ToFloat64(detectionErrors))

	ObserveUsedWeight(420)
	ObserveUsedWeight(-1)
	assert.Equal(t, 420.0, testutil.ToFloat64(usedWeight))
}
