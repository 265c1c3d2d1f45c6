package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klinewatch.magictradebot.com/config"
	"klinewatch.magictradebot.com/pkg/db"
	"klinewatch.magictradebot.com/pkg/market"
	"klinewatch.magictradebot.com/pkg/stats"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestDueIntervals(t *testing.T) {
	cases := []struct {
		hour, minute int
		want         []string
	}{
		{hour: 7, minute: 7, want: []string{"1m"}},
		{hour: 7, minute: 15, want: []string{"1m", "15m"}},
		{hour: 7, minute: 0, want: []string{"1m", "15m"}},
		{hour: 7, minute: 1, want: []string{"1m", "30m"}},
		{hour: 7, minute: 31, want: []string{"1m", "30m"}},
		{hour: 7, minute: 2, want: []string{"1m", "1h"}},
		{hour: 8, minute: 3, want: []string{"1m", "4h"}},
		{hour: 9, minute: 3, want: []string{"1m"}},
		{hour: 0, minute: 3, want: []string{"1m", "4h"}},
		{hour: 0, minute: 4, want: []string{"1m", "1d"}},
		{hour: 0, minute: 5, want: []string{"1m", "3d"}},
		{hour: 12, minute: 4, want: []string{"1m"}},
		{hour: 0, minute: 0, want: []string{"1m", "15m"}},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%02d:%02d", tc.hour, tc.minute), func(t *testing.T) {
			assert.Equal(t, tc.want, DueIntervals(tc.hour, tc.minute))
		})
	}
}

type call struct {
	symbol   string
	interval string
	force    bool
}

type fakeSyncer struct {
	lock  sync.Mutex
	calls []call
	fail  map[string]bool
	panic map[string]bool
}

func (f *fakeSyncer) SyncKlines(ctx context.Context, symbol, interval string, opts market.SyncOptions) stats.SyncResult {
	f.lock.Lock()
	f.calls = append(f.calls, call{symbol: symbol, interval: interval, force: opts.Force})
	fail, boom := f.fail[symbol], f.panic[symbol]
	f.lock.Unlock()

	if boom {
		panic("decoder blew up")
	}
	res := stats.SyncResult{Symbol: symbol, Interval: interval}
	if fail {
		res.Err = errors.New("exchange unavailable")
		return res
	}
	res.Inserted = 1
	return res
}

func (f *fakeSyncer) reset() []call {
	f.lock.Lock()
	defer f.lock.Unlock()
	out := f.calls
	f.calls = nil
	return out
}

type fakeDetector struct {
	runs [][]string
}

func (f *fakeDetector) Run(ctx context.Context, symbols []string) (stats.MonitorSummary, error) {
	f.runs = append(f.runs, append([]string(nil), symbols...))
	return stats.MonitorSummary{Checked: len(symbols)}, nil
}

type fixedWeight int

func (w fixedWeight) UsedWeight() int { return int(w) }

type fixture struct {
	orch     *Orchestrator
	symbols  *db.SymbolStore
	syncer   *fakeSyncer
	detector *fakeDetector
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	log := quietLogger()
	gdb, err := db.Open(config.DatabaseSettings{Provider: "sqlite", ConnectionString: ":memory:"}, log)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))
	t.Cleanup(func() { _ = db.Close(gdb) })

	f := &fixture{
		symbols:  db.NewSymbolStore(gdb),
		syncer:   &fakeSyncer{fail: map[string]bool{}, panic: map[string]bool{}},
		detector: &fakeDetector{},
	}
	f.orch = New(f.symbols, f.syncer, f.detector, fixedWeight(420), opts, log)
	return f
}

func symbolNames(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("SYM%02dUSDT", i)
	}
	return out
}

var quietMinute = time.Date(2025, 6, 1, 10, 7, 0, 0, time.UTC)

func TestTickProgressiveInitDrainsInBatches(t *testing.T) {
	f := newFixture(t, Options{InitBatchSize: 5})
	ctx := context.Background()
	_, err := f.symbols.AddSymbols(ctx, symbolNames(12))
	require.NoError(t, err)

	var sizes []int
	for i := 0; i < 4; i++ {
		r := f.orch.Tick(ctx, "test", quietMinute)
		require.NoError(t, r.Err)
		sizes = append(sizes, len(r.Initialized))
	}
	assert.Equal(t, []int{5, 5, 2, 0}, sizes)

	synced, unsynced, err := f.symbols.ActiveSymbols(ctx)
	require.NoError(t, err)
	assert.Len(t, synced, 12)
	assert.Empty(t, unsynced)
}

func TestTickProgressiveInitIsFIFO(t *testing.T) {
	f := newFixture(t, Options{InitBatchSize: 5})
	ctx := context.Background()
	names := symbolNames(7)
	_, err := f.symbols.AddSymbols(ctx, names)
	require.NoError(t, err)

	r := f.orch.Tick(ctx, "test", quietMinute)
	sort.Strings(r.Initialized)
	assert.Equal(t, names[:5], r.Initialized)

	// every interval is backfilled for a new symbol, forced
	perSymbol := map[string][]string{}
	for _, c := range f.syncer.reset() {
		assert.True(t, c.force)
		perSymbol[c.symbol] = append(perSymbol[c.symbol], c.interval)
	}
	assert.Len(t, perSymbol, 5)
	for _, ivs := range perSymbol {
		assert.Equal(t, market.AllIntervals, ivs)
	}
}

func TestTickSteadyStateSyncsDueIntervals(t *testing.T) {
	f := newFixture(t, Options{InitBatchSize: 5})
	ctx := context.Background()
	_, err := f.symbols.AddSymbols(ctx, []string{"BTCUSDT", "ETHUSDT"})
	require.NoError(t, err)
	f.orch.Tick(ctx, "test", quietMinute)
	f.syncer.reset()

	at := time.Date(2025, 6, 1, 8, 15, 0, 0, time.UTC)
	r := f.orch.Tick(ctx, "test", at)
	require.NoError(t, r.Err)
	assert.Equal(t, []string{"1m", "15m"}, r.Intervals)
	assert.Equal(t, 4, r.Steady.Success)
	assert.Equal(t, 4, r.Steady.Inserted)
	assert.Equal(t, 420, r.UsedWeight)
	assert.NotEmpty(t, r.ID)

	calls := f.syncer.reset()
	assert.Len(t, calls, 4)
	for _, c := range calls {
		assert.True(t, c.force)
	}
}

func TestTickDetectionRunsOverSteadySymbolsOnly(t *testing.T) {
	f := newFixture(t, Options{InitBatchSize: 1})
	ctx := context.Background()
	_, err := f.symbols.AddSymbols(ctx, []string{"BTCUSDT", "ETHUSDT"})
	require.NoError(t, err)

	// nothing initialized yet, so no detection
	r := f.orch.Tick(ctx, "test", quietMinute)
	assert.Nil(t, r.Detection)
	assert.Empty(t, f.detector.runs)
	assert.Equal(t, []string{"BTCUSDT"}, r.Initialized)

	r = f.orch.Tick(ctx, "test", quietMinute)
	require.NotNil(t, r.Detection)
	assert.Equal(t, 1, r.Detection.Checked)
	require.Len(t, f.detector.runs, 1)
	assert.Equal(t, []string{"BTCUSDT"}, f.detector.runs[0])
}

func TestTickSkipsDetectionWhenSteadySyncFails(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.symbols.AddSymbols(ctx, []string{"BTCUSDT"})
	require.NoError(t, err)
	require.NoError(t, f.symbols.MarkInitialSynced(ctx, "BTCUSDT"))
	f.syncer.fail["BTCUSDT"] = true

	r := f.orch.Tick(ctx, "test", quietMinute)
	assert.Equal(t, 1, r.Steady.Failed)
	assert.Nil(t, r.Detection)
	assert.Empty(t, f.detector.runs)
}

func TestTickFailedInitStaysPending(t *testing.T) {
	f := newFixture(t, Options{InitBatchSize: 2})
	ctx := context.Background()
	_, err := f.symbols.AddSymbols(ctx, []string{"AUSDT", "BUSDT", "CUSDT"})
	require.NoError(t, err)
	f.syncer.fail["AUSDT"] = true

	r := f.orch.Tick(ctx, "test", quietMinute)
	assert.Equal(t, []string{"BUSDT"}, r.Initialized)
	assert.Equal(t, len(market.AllIntervals), r.Init.Failed)

	// the failed symbol goes behind the one never tried
	r = f.orch.Tick(ctx, "test", quietMinute)
	sort.Strings(r.Initialized)
	assert.Equal(t, []string{"CUSDT"}, r.Initialized)

	_, unsynced, err := f.symbols.ActiveSymbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AUSDT"}, unsynced)
}

func TestTickRecoversPanickingSync(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.symbols.AddSymbols(ctx, []string{"BTCUSDT", "ETHUSDT"})
	require.NoError(t, err)
	require.NoError(t, f.symbols.MarkInitialSynced(ctx, "BTCUSDT"))
	require.NoError(t, f.symbols.MarkInitialSynced(ctx, "ETHUSDT"))
	f.syncer.panic["ETHUSDT"] = true

	r := f.orch.Tick(ctx, "test", quietMinute)
	assert.Equal(t, 1, r.Steady.Success)
	assert.Equal(t, 1, r.Steady.Failed)
	require.Len(t, r.Steady.Failures, 1)
	assert.Contains(t, r.Steady.Failures[0].Error, "panic")
	assert.NotNil(t, r.Detection)
}

type brokenStore struct{}

func (brokenStore) ActiveSymbols(ctx context.Context) ([]string, []string, error) {
	return nil, nil, errors.New("database is locked")
}

func (brokenStore) MarkInitialSynced(ctx context.Context, symbol string) error { return nil }

func TestTickReportsStoreFailure(t *testing.T) {
	o := New(brokenStore{}, &fakeSyncer{}, &fakeDetector{}, nil, Options{}, quietLogger())
	r := o.Tick(context.Background(), "test", quietMinute)
	assert.ErrorContains(t, r.Err, "database is locked")
	assert.Zero(t, r.UsedWeight)
}

func TestInitRotatorDefersFailures(t *testing.T) {
	r := NewInitRotator(2)
	pending := []string{"A", "B", "C", "D"}
	assert.Equal(t, []string{"A", "B"}, r.NextBatch(pending))

	r.Done("A", false)
	r.Done("B", true)
	assert.Equal(t, []string{"C", "D"}, r.NextBatch([]string{"A", "C", "D"}))
	assert.Equal(t, []string{"C", "A"}, r.NextBatch([]string{"A", "C"}))

	r.Done("A", true)
	assert.Equal(t, []string{"A", "C"}, r.NextBatch([]string{"A", "C"}))
	assert.Nil(t, NewInitRotator(0).NextBatch(pending))
	assert.Nil(t, r.NextBatch(nil))
}
