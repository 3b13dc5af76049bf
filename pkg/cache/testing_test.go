package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	models "github.com/canopy-network/validatorx/pkg/db/models/validators"
)

// fakeSource serves fixed data and fails the compartments listed in errs.
type fakeSource struct {
	mu         sync.Mutex
	validators map[string]models.Validator
	errs       map[Compartment]error

	// when block is set, LoadValidators signals entered and waits for it to close.
	block   chan struct{}
	entered chan struct{}

	validatorLoads atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		validators: map[string]models.Validator{
			"vote1": {Identity: "id1", VoteAccount: "vote1", ActivatedStake: 100},
		},
		errs: map[Compartment]error{},
	}
}

func (f *fakeSource) fail(c Compartment, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[c] = err
}

func (f *fakeSource) setValidators(v map[string]models.Validator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validators = v
}

func (f *fakeSource) errFor(c Compartment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs[c]
}

func (f *fakeSource) LoadValidators(ctx context.Context, _ uint64) (map[string]models.Validator, error) {
	f.validatorLoads.Add(1)
	if f.block != nil {
		f.entered <- struct{}{}
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.errFor(Validators); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validators, nil
}

func (f *fakeSource) LoadCommissions(context.Context) (map[string][]models.CommissionRecord, error) {
	if err := f.errFor(Commissions); err != nil {
		return nil, err
	}
	return map[string][]models.CommissionRecord{
		"id1": {{Identity: "id1", Epoch: 5, EpochSlot: 10, Commission: 5}},
	}, nil
}

func (f *fakeSource) LoadUptimes(context.Context, uint64) (map[string][]models.UptimeRecord, error) {
	if err := f.errFor(Uptimes); err != nil {
		return nil, err
	}
	return map[string][]models.UptimeRecord{}, nil
}

func (f *fakeSource) LoadVersions(context.Context, uint64) (map[string][]models.VersionRecord, error) {
	if err := f.errFor(Versions); err != nil {
		return nil, err
	}
	return map[string][]models.VersionRecord{}, nil
}

func (f *fakeSource) LoadClusterStats(context.Context, uint64) (models.ClusterStats, error) {
	if err := f.errFor(ClusterStats); err != nil {
		return models.ClusterStats{}, err
	}
	return models.ClusterStats{BlockProduction: []models.BlockProductionStat{{Epoch: 11, LeaderSlots: 4}}}, nil
}

func (f *fakeSource) LoadAggregatedEpochStats(context.Context, uint64) ([]models.AggregatedEpochStats, error) {
	if err := f.errFor(AggregatedEpochStats); err != nil {
		return nil, err
	}
	return []models.AggregatedEpochStats{{Epoch: 11, ValidatorsCount: 1}}, nil
}

func (f *fakeSource) LoadLatestScores(context.Context) (models.RunScores, error) {
	if err := f.errFor(Scores); err != nil {
		return models.RunScores{}, err
	}
	return models.RunScores{
		Run:    models.ScoringRun{ScoringRunID: 1, Epoch: 11},
		Scores: map[string]models.ValidatorScore{"vote1": {ScoringRunID: 1, VoteAccount: "vote1", Score: 0.9}},
	}, nil
}

func (f *fakeSource) LoadAllScores(context.Context) (models.ScoringHistory, error) {
	if err := f.errFor(ScoresAll); err != nil {
		return models.ScoringHistory{}, err
	}
	return models.ScoringHistory{
		Runs:   []models.ScoringRun{{ScoringRunID: 1, Epoch: 11}},
		Scores: map[int64][]models.ValidatorScore{1: {{ScoringRunID: 1, VoteAccount: "vote1", Score: 0.9}}},
	}, nil
}

// memFastPath is an in-memory FastPath.
type memFastPath struct {
	mu     sync.Mutex
	values map[string][]byte
	setErr error
}

func newMemFastPath() *memFastPath {
	return &memFastPath{values: map[string][]byte{}}
}

func (m *memFastPath) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memFastPath) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.values[key] = value
	return nil
}

// memLocker grants each lock name to one holder at a time.
type memLocker struct {
	mu         sync.Mutex
	held       map[string]string
	seq        int
	acquireErr error
	releases   int
}

func newMemLocker() *memLocker {
	return &memLocker{held: map[string]string{}}
}

func (l *memLocker) AcquireLock(_ context.Context, name string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.acquireErr != nil {
		return "", false, l.acquireErr
	}
	if _, ok := l.held[name]; ok {
		return "", false, nil
	}
	l.seq++
	token := "token-" + string(rune('a'+l.seq))
	l.held[name] = token
	return token, true, nil
}

func (l *memLocker) ReleaseLock(_ context.Context, name, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] != token {
		return errors.New("lock not held by token")
	}
	delete(l.held, name)
	l.releases++
	return nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	channels []string
}

func (n *recordingNotifier) Publish(_ context.Context, channel string, _ interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels = append(n.channels, channel)
}

// chanEventSource hands out in-memory subscriptions. Only the latest one receives sends.
type chanEventSource struct {
	mu         sync.Mutex
	channels   []string
	current    chan []byte
	subscribed chan struct{}
}

func newChanEventSource() *chanEventSource {
	return &chanEventSource{subscribed: make(chan struct{}, 8)}
}

func (s *chanEventSource) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = append(s.channels, channel)
	s.current = make(chan []byte, 4)
	s.subscribed <- struct{}{}
	return s.current, nil
}

func (s *chanEventSource) waitSubscribed(t *testing.T) {
	t.Helper()
	select {
	case <-s.subscribed:
	case <-time.After(5 * time.Second):
		t.Fatal("event source was never subscribed")
	}
}

func (s *chanEventSource) subscribedTo() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.channels...)
}

func (s *chanEventSource) send(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current <- payload
}

func (s *chanEventSource) closeCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.current)
}
