package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	models "github.com/canopy-network/validatorx/pkg/db/models/validators"
	"github.com/canopy-network/validatorx/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig() RefresherConfig {
	cfg := DefaultRefresherConfig()
	cfg.Tag = "test"
	cfg.LockTTL = 5 * time.Second
	return cfg
}

func newTestRefresher(t *testing.T, src *fakeSource, opts ...RefresherOption) (*Refresher, *Store) {
	t.Helper()
	store := NewStore()
	r := NewRefresher(store, src, zaptest.NewLogger(t), testConfig(), opts...)
	t.Cleanup(r.Stop)
	return r, store
}

func TestRunCycleWithoutLockerRefreshesEverything(t *testing.T) {
	src := newFakeSource()
	r, store := newTestRefresher(t, src)

	report := r.RunCycle(context.Background())

	require.True(t, report.Elected)
	require.Empty(t, report.Failed)
	require.ElementsMatch(t, AllCompartments, report.Refreshed)

	view, err := store.Validators()
	require.NoError(t, err)
	require.Equal(t, uint64(100), view.Data["vote1"].ActivatedStake)
	require.Len(t, store.Freshness(), len(AllCompartments))
}

func TestFailedCompartmentKeepsPreviousValue(t *testing.T) {
	src := newFakeSource()
	r, store := newTestRefresher(t, src)

	r.RunCycle(context.Background())
	before, err := store.Commissions()
	require.NoError(t, err)
	validatorsBefore, _ := store.Validators()

	src.fail(Commissions, errors.New("connection reset"))
	src.setValidators(map[string]models.Validator{
		"vote1": {Identity: "id1", VoteAccount: "vote1", ActivatedStake: 200},
	})
	report := r.RunCycle(context.Background())

	require.Contains(t, report.Failed, Commissions)
	require.NotContains(t, report.Refreshed, Commissions)
	require.Contains(t, report.Refreshed, Validators)

	after, err := store.Commissions()
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.Data, after.Data)

	validatorsAfter, _ := store.Validators()
	assert.Greater(t, validatorsAfter.Version, validatorsBefore.Version)
	assert.Equal(t, uint64(200), validatorsAfter.Data["vote1"].ActivatedStake)
}

func TestNeverPopulatedCompartmentStaysEmptyOnFailure(t *testing.T) {
	src := newFakeSource()
	src.fail(Scores, errors.New("no scoring runs"))
	r, store := newTestRefresher(t, src)

	r.RunCycle(context.Background())

	_, err := store.Scores()
	require.ErrorIs(t, err, ErrNotPopulated)
	_, err = store.ScoresAll()
	require.NoError(t, err)
}

func TestOnlyOneRefresherQueriesPerCycle(t *testing.T) {
	src := newFakeSource()
	src.block = make(chan struct{})
	src.entered = make(chan struct{}, 2)
	locker := newMemLocker()

	a, _ := newTestRefresher(t, src, WithLocker(locker))
	b, storeB := newTestRefresher(t, src, WithLocker(locker))

	done := make(chan CycleReport, 1)
	go func() { done <- a.RunCycle(context.Background()) }()

	select {
	case <-src.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("leader never started querying")
	}

	reportB := b.RunCycle(context.Background())
	require.False(t, reportB.Elected)
	require.Empty(t, reportB.Refreshed)

	close(src.block)
	reportA := <-done
	require.True(t, reportA.Elected)

	require.Equal(t, int32(1), src.validatorLoads.Load())
	require.Equal(t, 1, locker.releases)
	require.Empty(t, locker.held)

	_, err := storeB.Validators()
	require.ErrorIs(t, err, ErrNotPopulated)
}

func TestOverlappingCyclesInOneProcessAreSkipped(t *testing.T) {
	src := newFakeSource()
	src.block = make(chan struct{})
	src.entered = make(chan struct{}, 2)
	r, _ := newTestRefresher(t, src)

	done := make(chan CycleReport, 1)
	go func() { done <- r.RunCycle(context.Background()) }()
	<-src.entered

	second := r.RunCycle(context.Background())
	require.False(t, second.Elected)

	close(src.block)
	require.True(t, (<-done).Elected)
	require.Equal(t, int32(1), src.validatorLoads.Load())
}

func TestLockErrorSkipsCycle(t *testing.T) {
	src := newFakeSource()
	locker := newMemLocker()
	locker.acquireErr = errors.New("redis unavailable")
	m := metrics.New(nil)
	r, store := newTestRefresher(t, src, WithLocker(locker), WithMetrics(m))

	report := r.RunCycle(context.Background())

	require.False(t, report.Elected)
	require.Equal(t, int32(0), src.validatorLoads.Load())
	require.Empty(t, store.Freshness())
	require.Equal(t, 1.0, testutil.ToFloat64(m.RefreshCycles.WithLabelValues(metrics.CycleLockError)))
}

func TestFollowerHydratesFromFastPath(t *testing.T) {
	src := newFakeSource()
	fp := newMemFastPath()
	notifier := &recordingNotifier{}

	leader, _ := newTestRefresher(t, src, WithFastPath(fp), WithNotifier(notifier))
	report := leader.RunCycle(context.Background())
	require.True(t, report.Elected)
	require.Equal(t, []string{RefreshChannel("test")}, notifier.channels)

	_, ok := fp.values[LastUpdateKey("test")]
	require.True(t, ok)
	_, ok = fp.values[Key("test", Validators)]
	require.True(t, ok)

	// the lock is held elsewhere, so the follower must not query
	locker := newMemLocker()
	locker.held[LockName("test")] = "someone-else"
	followerSrc := newFakeSource()
	follower, followerStore := newTestRefresher(t, followerSrc, WithFastPath(fp), WithLocker(locker))

	followerReport := follower.RunCycle(context.Background())
	require.False(t, followerReport.Elected)
	require.ElementsMatch(t, AllCompartments, followerReport.Hydrated)
	require.Equal(t, int32(0), followerSrc.validatorLoads.Load())

	validators, err := followerStore.Validators()
	require.NoError(t, err)
	require.Equal(t, src.validators, validators.Data)

	scores, err := followerStore.Scores()
	require.NoError(t, err)
	require.Equal(t, 0.9, scores.Data.Scores["vote1"].Score)

	history, err := followerStore.ScoresAll()
	require.NoError(t, err)
	require.Len(t, history.Data.Scores[1], 1)

	// nothing newer was published
	again, err := follower.Hydrate(context.Background())
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestHydrateSkipsUndecodableCompartment(t *testing.T) {
	fp := newMemFastPath()
	fp.values[LastUpdateKey("test")] = []byte("1700000000000")
	fp.values[Key("test", Validators)] = []byte("{not json")
	// a bare payload carries no update time
	fp.values[Key("test", Commissions)] = []byte(`{"id1":[]}`)
	fp.values[Key("test", AggregatedEpochStats)] = []byte(`{"updated_at":"2023-11-14T22:13:20Z","data":[{"epoch":12,"validators_count":3}]}`)

	r, store := newTestRefresher(t, newFakeSource(), WithFastPath(fp))
	hydrated, err := r.Hydrate(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Compartment{AggregatedEpochStats}, hydrated)

	_, err = store.Validators()
	require.ErrorIs(t, err, ErrNotPopulated)
	_, err = store.Commissions()
	require.ErrorIs(t, err, ErrNotPopulated)

	agg, err := store.AggregatedEpochStats()
	require.NoError(t, err)
	require.Equal(t, uint64(12), agg.Data[0].Epoch)
	require.True(t, agg.UpdatedAt.Equal(time.UnixMilli(1700000000000)), "got %s", agg.UpdatedAt)
}

func TestFollowerKeepsProducerTimeOfCompartmentFailedOnLaterPass(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(15 * time.Minute)

	src := newFakeSource()
	fp := newMemFastPath()
	leader, _ := newTestRefresher(t, src, WithFastPath(fp))

	locker := newMemLocker()
	locker.held[LockName("test")] = "leader"
	follower, followerStore := newTestRefresher(t, newFakeSource(), WithFastPath(fp), WithLocker(locker))

	leader.now = func() time.Time { return t0 }
	require.Empty(t, leader.RunCycle(context.Background()).Failed)
	require.ElementsMatch(t, AllCompartments, follower.RunCycle(context.Background()).Hydrated)

	commissions, err := followerStore.Commissions()
	require.NoError(t, err)
	require.True(t, commissions.UpdatedAt.Equal(t0))

	leader.now = func() time.Time { return t1 }
	src.fail(Commissions, errors.New("statement timeout"))
	report := leader.RunCycle(context.Background())
	require.Contains(t, report.Failed, Commissions)

	followerReport := follower.RunCycle(context.Background())
	require.Contains(t, followerReport.Hydrated, Validators)
	require.NotContains(t, followerReport.Hydrated, Commissions)

	after, err := followerStore.Commissions()
	require.NoError(t, err)
	assert.Equal(t, commissions.Version, after.Version)
	assert.True(t, after.UpdatedAt.Equal(t0), "commissions freshness moved to %s", after.UpdatedAt)

	validators, err := followerStore.Validators()
	require.NoError(t, err)
	assert.True(t, validators.UpdatedAt.Equal(t1), "validators freshness is %s", validators.UpdatedAt)
}

func TestFollowerHydratesOnRefreshEvent(t *testing.T) {
	src := newFakeSource()
	fp := newMemFastPath()
	leader, _ := newTestRefresher(t, src, WithFastPath(fp))

	events := newChanEventSource()
	follower, followerStore := newTestRefresher(t, newFakeSource(), WithFastPath(fp), WithEventSource(events))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	follower.startEventFollower(ctx)
	events.waitSubscribed(t)
	require.Equal(t, []string{RefreshChannel("test")}, events.subscribedTo())

	leader.RunCycle(context.Background())
	events.send([]byte(`{"tag":"test"}`))

	require.Eventually(t, func() bool {
		_, err := followerStore.Validators()
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEventFollowerResubscribesAfterSubscriptionEnds(t *testing.T) {
	fp := newMemFastPath()
	events := newChanEventSource()
	r, _ := newTestRefresher(t, newFakeSource(), WithFastPath(fp), WithEventSource(events))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.startEventFollower(ctx)
	events.waitSubscribed(t)

	events.closeCurrent()
	events.waitSubscribed(t)
	require.Len(t, events.subscribedTo(), 2)
}

func TestFastPathFailureStillSwapsLocally(t *testing.T) {
	src := newFakeSource()
	fp := newMemFastPath()
	fp.setErr = errors.New("READONLY")
	r, store := newTestRefresher(t, src, WithFastPath(fp))

	report := r.RunCycle(context.Background())

	require.Empty(t, report.Failed)
	_, err := store.Validators()
	require.NoError(t, err)
	require.Empty(t, fp.values)
}

func TestAlignedSchedule(t *testing.T) {
	s := AlignedSchedule{Interval: 15 * time.Minute}
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{"mid interval", base.Add(7*time.Minute + 3*time.Second), base.Add(15 * time.Minute)},
		{"exactly on a tick moves to the next", base.Add(15 * time.Minute), base.Add(30 * time.Minute)},
		{"just before the hour", base.Add(59 * time.Minute), base.Add(time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, s.Next(tt.at))
		})
	}

	require.True(t, AlignedSchedule{}.Next(base).IsZero())
}
