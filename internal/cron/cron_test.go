package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/RezaEskandarii/gofire/internal/constants"
	"github.com/RezaEskandarii/gofire/internal/lock"
	"github.com/RezaEskandarii/gofire/internal/lock/locktest"
	"github.com/RezaEskandarii/gofire/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobs struct {
	mu     sync.Mutex
	seen   map[string]bool
	params []types.EnqueueParams
	err    error
}

func newFakeJobs() *fakeJobs { return &fakeJobs{seen: map[string]bool{}} }

func (f *fakeJobs) InsertCron(ctx context.Context, params types.EnqueueParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	key := params.CronKey + "@" + params.CronAt.UTC().Format(time.RFC3339Nano)
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	f.params = append(f.params, params)
	return true, nil
}

func (f *fakeJobs) Inserted() []types.EnqueueParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.EnqueueParams(nil), f.params...)
}

type fakeStates struct {
	mu       sync.Mutex
	disabled map[string]bool
}

func (f *fakeStates) Enabled(ctx context.Context, keys []string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make(map[string]bool, len(keys))
	for _, k := range keys {
		result[k] = !f.disabled[k]
	}
	return result, nil
}

func (f *fakeStates) SetEnabled(ctx context.Context, key string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disabled == nil {
		f.disabled = map[string]bool{}
	}
	f.disabled[key] = !enabled
	return nil
}

var fixedNow = time.Date(2025, 3, 1, 10, 7, 30, 0, time.UTC)

func at(h, m, s int) time.Time {
	return time.Date(2025, 3, 1, h, m, s, 0, time.UTC)
}

func TestLatestFireTime(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		now      time.Time
		lookback time.Duration
		want     time.Time
		due      bool
	}{
		{"five minutes", "*/5 * * * *", fixedNow, 10 * time.Minute, at(10, 5, 0), true},
		{"outside lookback", "*/5 * * * *", fixedNow, time.Minute, time.Time{}, false},
		{"exactly now", "*/5 * * * *", at(10, 5, 0), time.Minute, at(10, 5, 0), true},
		{"window edge included", "*/5 * * * *", at(10, 6, 0), time.Minute, at(10, 5, 0), true},
		{"seconds field", "*/10 * * * * *", at(10, 0, 25), time.Minute, at(10, 0, 20), true},
		{"descriptor", "@hourly", fixedNow, 10 * time.Minute, at(10, 0, 0), true},
		{"every is anchored", "@every 2m", fixedNow, 5 * time.Minute, at(10, 6, 0), true},
		{"every outside lookback", "@every 1h", fixedNow, time.Minute, time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schedule, err := ParseSchedule(tt.expr)
			require.NoError(t, err)

			got, due := LatestFireTime(schedule, tt.now, tt.lookback)
			assert.Equal(t, tt.due, due)
			if tt.due {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseSchedule_Invalid(t *testing.T) {
	for _, expr := range []string{"", "* * *", "61 * * * *", "@sometimes"} {
		_, err := ParseSchedule(expr)
		assert.Error(t, err, expr)
	}
}

func newScheduler(t *testing.T, defs []types.CronEntry, opts Options) (*Scheduler, *fakeJobs, *fakeStates, *locktest.Table) {
	t.Helper()
	jobs, states, table := newFakeJobs(), &fakeStates{}, locktest.NewTable()
	if opts.Interval == 0 {
		opts.Interval = 15 * time.Second
	}
	s, err := New(defs, jobs, states, table, opts)
	require.NoError(t, err)
	s.now = func() time.Time { return fixedNow }
	return s, jobs, states, table
}

var reportDef = types.CronEntry{Key: "report", Schedule: "*/5 * * * *", JobClass: "Report", Args: []any{"daily"}, Queue: "reports", Priority: 3}

func TestEvaluate_InsertsLatestFireTimeOnce(t *testing.T) {
	var notified []string
	s, jobs, _, table := newScheduler(t, []types.CronEntry{reportDef}, Options{
		GracePeriod: 10 * time.Minute,
		Notify:      func(ctx context.Context, queue string) { notified = append(notified, queue) },
	})
	ctx := context.Background()

	n, err := s.Evaluate(ctx, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Evaluate(ctx, fixedNow.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "same fire time must not be enqueued twice")

	inserted := jobs.Inserted()
	require.Len(t, inserted, 1)
	assert.Equal(t, "report", inserted[0].CronKey)
	assert.Equal(t, at(10, 5, 0), *inserted[0].CronAt)
	assert.Equal(t, at(10, 5, 0), *inserted[0].ScheduledAt)
	assert.Equal(t, "Report", inserted[0].JobClass)
	assert.Equal(t, "reports", inserted[0].Queue)
	assert.Equal(t, 3, inserted[0].Priority)
	assert.Equal(t, []string{"reports"}, notified)
	assert.Equal(t, 0, table.Open())
	assert.False(t, table.Held(lock.NamedKey(constants.CronLock)))
}

func TestEvaluate_NextFireTimeIsNewJob(t *testing.T) {
	s, jobs, _, _ := newScheduler(t, []types.CronEntry{reportDef}, Options{})
	ctx := context.Background()

	_, err := s.Evaluate(ctx, at(10, 5, 1))
	require.NoError(t, err)
	_, err = s.Evaluate(ctx, at(10, 10, 1))
	require.NoError(t, err)

	inserted := jobs.Inserted()
	require.Len(t, inserted, 2)
	assert.Equal(t, at(10, 10, 0), *inserted[1].CronAt)
}

func TestEvaluate_LookbackUsesTwiceTheInterval(t *testing.T) {
	// 2m30s after the fire time: a 1m grace alone would miss it, but twice
	// the 2m interval still covers it.
	s, jobs, _, _ := newScheduler(t, []types.CronEntry{reportDef}, Options{Interval: 2 * time.Minute, GracePeriod: time.Minute})

	n, err := s.Evaluate(context.Background(), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, jobs.Inserted(), 1)
}

func TestEvaluate_SkipsDisabledEntries(t *testing.T) {
	other := types.CronEntry{Key: "cleanup", Schedule: "@hourly", JobClass: "Cleanup"}
	s, jobs, states, _ := newScheduler(t, []types.CronEntry{reportDef, other}, Options{GracePeriod: 10 * time.Minute})
	require.NoError(t, s.SetEnabled(context.Background(), "report", false))
	assert.True(t, states.disabled["report"])

	n, err := s.Evaluate(context.Background(), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, jobs.Inserted(), 1)
	assert.Equal(t, "cleanup", jobs.Inserted()[0].CronKey)
}

func TestEvaluate_SkipsWhileAnotherProcessEvaluates(t *testing.T) {
	s, jobs, _, table := newScheduler(t, []types.CronEntry{reportDef}, Options{GracePeriod: 10 * time.Minute})
	holder := table.Grab(lock.NamedKey(constants.CronLock))

	n, err := s.Evaluate(context.Background(), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, jobs.Inserted())

	require.NoError(t, holder.Close(context.Background()))
	n, err = s.Evaluate(context.Background(), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEvaluate_InsertErrorsAreJoined(t *testing.T) {
	s, jobs, _, _ := newScheduler(t, []types.CronEntry{reportDef}, Options{GracePeriod: 10 * time.Minute})
	jobs.err = errors.New("insert failed")

	_, err := s.Evaluate(context.Background(), fixedNow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `cron entry "report"`)
	assert.ErrorIs(t, err, jobs.err)
}

func TestNew_RejectsInvalidSchedule(t *testing.T) {
	_, err := New([]types.CronEntry{{Key: "bad", Schedule: "nope", JobClass: "X"}}, newFakeJobs(), &fakeStates{}, locktest.NewTable(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `cron entry "bad"`)
}

func TestEntriesAndSetEnabled(t *testing.T) {
	s, _, _, _ := newScheduler(t, []types.CronEntry{reportDef}, Options{})
	ctx := context.Background()

	assert.ErrorIs(t, s.SetEnabled(ctx, "missing", true), ErrUnknownEntry)
	require.NoError(t, s.SetEnabled(ctx, "report", false))

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Enabled)
	assert.Equal(t, at(10, 10, 0), entries[0].NextAt)
	assert.Equal(t, "report", entries[0].Entry.Key)
}

func TestStart_EvaluatesImmediately(t *testing.T) {
	s, jobs, _, _ := newScheduler(t, []types.CronEntry{reportDef}, Options{Interval: time.Hour, GracePeriod: 10 * time.Minute})

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return len(jobs.Inserted()) == 1 }, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
}
