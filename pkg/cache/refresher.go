package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/validatorx/pkg/db"
	"github.com/canopy-network/validatorx/pkg/logging"
	"github.com/canopy-network/validatorx/pkg/metrics"
	"github.com/canopy-network/validatorx/pkg/retry"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// FastPath is the shared key-value tier replicas use to hand refreshed compartments to each other.
type FastPath interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Locker grants time-bounded exclusive leases. There is no renewal: expiry is the only recovery
// from a crashed holder.
type Locker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (token string, acquired bool, err error)
	ReleaseLock(ctx context.Context, name, token string) error
}

// Notifier announces completed refreshes. Publishing is best effort.
type Notifier interface {
	Publish(ctx context.Context, channel string, message interface{})
}

// EventSource delivers the payloads published on a channel. The returned channel is closed when the
// subscription ends.
type EventSource interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

type RefresherConfig struct {
	// Tag namespaces fast-path keys, the lock and the refresh channel (e.g. "mainnet").
	Tag      string
	Interval time.Duration
	// LockTTL must exceed the slowest expected refresh pass.
	LockTTL time.Duration
	// Epochs of history loaded into time series compartments.
	Epochs      uint64
	Parallelism int
}

func DefaultRefresherConfig() RefresherConfig {
	return RefresherConfig{
		Tag:         "local",
		Interval:    15 * time.Minute,
		LockTTL:     10 * time.Minute,
		Epochs:      30,
		Parallelism: 4,
	}
}

// CycleReport describes what one refresh cycle did.
type CycleReport struct {
	// Elected is true when this instance held the lock and queried the primary store.
	Elected   bool
	Refreshed []Compartment
	Failed    map[Compartment]error
	// Hydrated lists compartments copied from the fast-path store instead of queried.
	Hydrated []Compartment
}

// RefreshEvent is published after a leader pass.
type RefreshEvent struct {
	Tag         string        `json:"tag"`
	Refreshed   []Compartment `json:"refreshed"`
	Failed      []Compartment `json:"failed"`
	CompletedAt time.Time     `json:"completed_at"`
}

type loader struct {
	compartment Compartment
	load        func(ctx context.Context) (any, error)
}

// Refresher repopulates the Store from the primary store on an aligned schedule. When a Locker is
// configured only the lease holder queries; the others pick the result up from the fast-path store.
type Refresher struct {
	store    *Store
	source   db.Source
	fastPath FastPath
	locker   Locker
	notifier Notifier
	events   EventSource
	metrics  *metrics.Metrics
	logger   *zap.Logger
	cfg      RefresherConfig

	cron *cron.Cron
	pool pond.Pool

	// cycleMu keeps the warm-up pass and scheduled passes of one process from overlapping.
	cycleMu sync.Mutex
	// hydrateMu serializes hydration from scheduled cycles and refresh events.
	hydrateMu sync.Mutex
	// lastSeen is the newest fast-path timestamp (unix ms) already reflected locally.
	lastSeen atomic.Int64
	now      func() time.Time

	stopEvents context.CancelFunc
	eventsWG   sync.WaitGroup
}

type RefresherOption func(*Refresher)

func WithFastPath(fp FastPath) RefresherOption { return func(r *Refresher) { r.fastPath = fp } }
func WithLocker(l Locker) RefresherOption       { return func(r *Refresher) { r.locker = l } }
func WithNotifier(n Notifier) RefresherOption   { return func(r *Refresher) { r.notifier = n } }

// WithEventSource makes followers hydrate as soon as the leader announces a pass instead of
// waiting for their next scheduled cycle.
func WithEventSource(e EventSource) RefresherOption { return func(r *Refresher) { r.events = e } }
func WithMetrics(m *metrics.Metrics) RefresherOption {
	return func(r *Refresher) { r.metrics = m }
}

func NewRefresher(store *Store, source db.Source, logger *zap.Logger, cfg RefresherConfig, opts ...RefresherOption) *Refresher {
	def := DefaultRefresherConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.Epochs == 0 {
		cfg.Epochs = def.Epochs
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = def.Parallelism
	}
	if cfg.Tag == "" {
		cfg.Tag = def.Tag
	}

	r := &Refresher{
		store:  store,
		source: source,
		logger: logger.With(zap.String("component", "refresher"), zap.String("tag", cfg.Tag)),
		cfg:    cfg,
		pool:   pond.NewPool(cfg.Parallelism),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start warms the store (fast-path first, then one immediate cycle in the background) and
// schedules cycles on the aligned interval. Cycles run until ctx is done or Stop is called.
func (r *Refresher) Start(ctx context.Context) {
	if hydrated, err := r.Hydrate(ctx); err != nil {
		r.logger.Warn("Startup hydration from fast-path store failed", zap.Error(err))
	} else if len(hydrated) > 0 {
		r.logger.Info("Hydrated compartments from fast-path store", zap.Int("count", len(hydrated)))
	}

	go r.RunCycle(ctx)
	r.startEventFollower(ctx)

	cl := logging.CronLogger(r.logger)
	r.cron = cron.New(cron.WithLocation(time.UTC), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	r.cron.Schedule(AlignedSchedule{Interval: r.cfg.Interval}, cron.FuncJob(func() {
		r.RunCycle(ctx)
	}))
	r.cron.Start()

	r.logger.Info("Refresher started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Duration("lockTTL", r.cfg.LockTTL),
		zap.Time("nextRun", AlignedSchedule{Interval: r.cfg.Interval}.Next(r.now())))
}

// Stop waits for a running cycle to finish and releases the worker pool.
func (r *Refresher) Stop() {
	if r.stopEvents != nil {
		r.stopEvents()
		r.eventsWG.Wait()
	}
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
	r.pool.StopAndWait()
}

func (r *Refresher) startEventFollower(ctx context.Context) {
	if r.events == nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.stopEvents = cancel
	r.eventsWG.Add(1)
	go r.followEvents(ctx)
}

// followEvents hydrates on every refresh announcement for our tag. A failed or ended subscription
// is retried with backoff until ctx is done.
func (r *Refresher) followEvents(ctx context.Context) {
	defer r.eventsWG.Done()

	channel := RefreshChannel(r.cfg.Tag)
	backoffCfg := retry.DefaultConfig()
	attempt := 0
	for {
		events, err := r.events.Subscribe(ctx, channel)
		if err == nil {
			attempt = 0
			r.logger.Debug("Following refresh events", zap.String("channel", channel))
			r.consumeEvents(ctx, events)
		}
		if ctx.Err() != nil {
			return
		}

		attempt++
		backoff := retry.Backoff(backoffCfg, attempt)
		r.logger.Warn("Refresh event subscription lost, will retry",
			zap.String("channel", channel),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}
}

func (r *Refresher) consumeEvents(ctx context.Context, events <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			// Hydrate compares timestamps itself, so our own announcements are a no-op.
			hydrated, err := r.Hydrate(ctx)
			if err != nil {
				r.logger.Warn("Hydration after refresh event failed", zap.Error(err))
				continue
			}
			if len(hydrated) > 0 {
				r.logger.Info("Hydrated compartments after refresh event", zap.Int("count", len(hydrated)))
			}
		}
	}
}

// RunCycle performs one refresh cycle. It never returns an error: every failure is logged and the
// affected compartments keep their previous value.
func (r *Refresher) RunCycle(ctx context.Context) CycleReport {
	report := CycleReport{Failed: map[Compartment]error{}}

	if !r.cycleMu.TryLock() {
		r.logger.Info("Previous refresh cycle still running, skipping")
		return report
	}
	defer r.cycleMu.Unlock()

	// A pass must not outlive its lease, or a second leader could be elected while we still write.
	ctx, cancel := context.WithTimeout(ctx, r.cfg.LockTTL)
	defer cancel()

	lockName := LockName(r.cfg.Tag)
	var token string
	if r.locker != nil {
		var acquired bool
		var err error
		token, acquired, err = r.locker.AcquireLock(ctx, lockName, r.cfg.LockTTL)
		switch {
		case err != nil:
			r.logger.Warn("Failed to acquire refresh lock, skipping cycle", zap.String("lock", lockName), zap.Error(err))
			r.metrics.ObserveCycle(metrics.CycleLockError)
			return report
		case !acquired:
			r.logger.Info("Refresh lock held by another instance, skipping cycle", zap.String("lock", lockName))
			r.metrics.ObserveCycle(metrics.CycleSkipped)
			hydrated, hErr := r.Hydrate(ctx)
			if hErr != nil {
				r.logger.Warn("Hydration from fast-path store failed", zap.Error(hErr))
			}
			report.Hydrated = hydrated
			return report
		}
	}

	report.Elected = true
	r.metrics.ObserveCycle(metrics.CycleElected)
	defer func() {
		if r.locker == nil {
			return
		}
		// Release even if the pass context ran out.
		releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer releaseCancel()
		if err := r.locker.ReleaseLock(releaseCtx, lockName, token); err != nil {
			r.logger.Warn("Failed to release refresh lock", zap.String("lock", lockName), zap.Error(err))
		}
	}()

	started := r.now()
	r.refreshAll(ctx, &report)
	took := r.now().Sub(started)
	if r.metrics != nil {
		r.metrics.RefreshDuration.Observe(took.Seconds())
	}

	if len(report.Refreshed) > 0 {
		r.publishCompletion(ctx, &report)
	}

	r.logger.Info("Refresh cycle finished",
		zap.Int("refreshed", len(report.Refreshed)),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("took", took))
	return report
}

func (r *Refresher) refreshAll(ctx context.Context, report *CycleReport) {
	var mu sync.Mutex
	group := r.pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for _, l := range r.loaders() {
		group.Submit(func() {
			err := r.refreshCompartment(groupCtx, l)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[l.compartment] = err
				return
			}
			report.Refreshed = append(report.Refreshed, l.compartment)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		r.logger.Warn("Refresh worker group ended with error", zap.Error(err))
	}

	// Loaders that never ran (pool stopped, context expired) count as failed.
	for _, c := range AllCompartments {
		if _, failed := report.Failed[c]; failed {
			continue
		}
		if !containsCompartment(report.Refreshed, c) {
			report.Failed[c] = fmt.Errorf("refresh of %s did not run: %w", c, context.Cause(groupCtx))
		}
	}
}

// refreshCompartment queries one compartment, swaps it in and publishes it. The swap happens as soon as
// the query succeeds; publishing problems only affect other replicas.
func (r *Refresher) refreshCompartment(ctx context.Context, l loader) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic refreshing %s: %v", l.compartment, rec)
			r.logger.Error("Panic during compartment refresh", zap.String("compartment", string(l.compartment)), zap.Any("panic", rec))
		}
	}()

	started := r.now()
	data, err := l.load(ctx)
	if err != nil {
		r.logger.Warn("Compartment refresh failed, keeping previous value",
			zap.String("compartment", string(l.compartment)),
			zap.Error(err))
		r.metrics.ObserveCompartment(string(l.compartment), "primary", err, started)
		return err
	}

	at := r.now()
	r.store.ReplaceAt(l.compartment, data, at)
	r.metrics.ObserveCompartment(string(l.compartment), "primary", nil, at)
	r.logger.Debug("Compartment refreshed",
		zap.String("compartment", string(l.compartment)),
		zap.Duration("took", r.now().Sub(started)))

	if r.fastPath == nil {
		return nil
	}
	payload, encErr := encodeCompartment(data, at)
	if encErr != nil {
		r.logger.Error("Failed to serialize compartment for fast-path store",
			zap.String("compartment", string(l.compartment)),
			zap.Error(encErr))
		return nil
	}
	if setErr := r.fastPath.Set(ctx, Key(r.cfg.Tag, l.compartment), payload); setErr != nil {
		r.logger.Warn("Failed to publish compartment to fast-path store",
			zap.String("compartment", string(l.compartment)),
			zap.Error(setErr))
	}
	return nil
}

func (r *Refresher) publishCompletion(ctx context.Context, report *CycleReport) {
	completed := r.now()

	if r.fastPath != nil {
		ms := completed.UnixMilli()
		if err := r.fastPath.Set(ctx, LastUpdateKey(r.cfg.Tag), []byte(strconv.FormatInt(ms, 10))); err != nil {
			r.logger.Warn("Failed to publish last update timestamp", zap.Error(err))
		} else {
			// our own publication is already in the local store
			r.lastSeen.Store(ms)
		}
	}

	if r.notifier != nil {
		failed := make([]Compartment, 0, len(report.Failed))
		for c := range report.Failed {
			failed = append(failed, c)
		}
		payload, err := json.Marshal(RefreshEvent{
			Tag:         r.cfg.Tag,
			Refreshed:   report.Refreshed,
			Failed:      failed,
			CompletedAt: completed,
		})
		if err != nil {
			r.logger.Error("Failed to encode refresh event", zap.Error(err))
			return
		}
		r.notifier.Publish(ctx, RefreshChannel(r.cfg.Tag), payload)
	}
}

// Hydrate copies compartments from the fast-path store when another replica published a newer pass
// than this instance has seen. Each compartment keeps the time the leader produced it, and one that
// is not newer than the local copy is left alone. Compartments that are missing or undecodable are
// skipped and keep their local value.
func (r *Refresher) Hydrate(ctx context.Context) ([]Compartment, error) {
	if r.fastPath == nil {
		return nil, nil
	}
	r.hydrateMu.Lock()
	defer r.hydrateMu.Unlock()

	raw, ok, err := r.fastPath.Get(ctx, LastUpdateKey(r.cfg.Tag))
	if err != nil {
		return nil, fmt.Errorf("read last update timestamp: %w", err)
	}
	if !ok {
		return nil, nil
	}
	remote, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse last update timestamp %q: %w", raw, err)
	}
	if remote <= r.lastSeen.Load() {
		return nil, nil
	}
	passAt := time.UnixMilli(remote)

	var hydrated []Compartment
	for _, c := range AllCompartments {
		// nothing in this pass can be newer than its completion
		if local, ok := r.store.UpdatedAt(c); ok && !local.Before(passAt) {
			continue
		}
		b, found, getErr := r.fastPath.Get(ctx, Key(r.cfg.Tag, c))
		if getErr != nil {
			r.logger.Warn("Failed to read compartment from fast-path store", zap.String("compartment", string(c)), zap.Error(getErr))
			r.metrics.ObserveCompartment(string(c), "fast_path", getErr, passAt)
			continue
		}
		if !found {
			continue
		}
		data, at, decErr := decodeCompartment(c, b)
		if decErr != nil {
			r.logger.Error("Undecodable compartment in fast-path store",
				zap.String("compartment", string(c)),
				zap.String("key", Key(r.cfg.Tag, c)),
				zap.Int("bytes", len(b)),
				zap.Error(decErr))
			r.metrics.ObserveCompartment(string(c), "fast_path", decErr, passAt)
			continue
		}
		if local, ok := r.store.UpdatedAt(c); ok && !local.Before(at) {
			continue
		}
		r.store.ReplaceAt(c, data, at)
		r.metrics.ObserveCompartment(string(c), "fast_path", nil, at)
		hydrated = append(hydrated, c)
	}

	r.lastSeen.Store(remote)
	return hydrated, nil
}

func (r *Refresher) loaders() []loader {
	epochs := r.cfg.Epochs
	return []loader{
		{Validators, func(ctx context.Context) (any, error) { return r.source.LoadValidators(ctx, epochs) }},
		{Commissions, func(ctx context.Context) (any, error) { return r.source.LoadCommissions(ctx) }},
		{Uptimes, func(ctx context.Context) (any, error) { return r.source.LoadUptimes(ctx, epochs) }},
		{Versions, func(ctx context.Context) (any, error) { return r.source.LoadVersions(ctx, epochs) }},
		{ClusterStats, func(ctx context.Context) (any, error) { return r.source.LoadClusterStats(ctx, epochs) }},
		{Scores, func(ctx context.Context) (any, error) { return r.source.LoadLatestScores(ctx) }},
		{ScoresAll, func(ctx context.Context) (any, error) { return r.source.LoadAllScores(ctx) }},
		{AggregatedEpochStats, func(ctx context.Context) (any, error) { return r.source.LoadAggregatedEpochStats(ctx, epochs) }},
	}
}

func containsCompartment(list []Compartment, c Compartment) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}
