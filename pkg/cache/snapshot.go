package cache

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	models "github.com/canopy-network/validatorx/pkg/db/models/validators"
	"github.com/puzpuzpuz/xsync/v4"
)

var (
	// ErrNotPopulated is returned for a compartment that was never loaded.
	ErrNotPopulated = errors.New("compartment not populated")
	// ErrWrongType is returned when a compartment holds data of an unexpected type.
	ErrWrongType = errors.New("compartment holds unexpected type")
)

// Compartment names one independently refreshed slice of the cached data set.
type Compartment string

const (
	Validators           Compartment = "validators"
	Commissions          Compartment = "commissions"
	Uptimes              Compartment = "uptimes"
	Versions             Compartment = "versions"
	ClusterStats         Compartment = "cluster_stats"
	Scores               Compartment = "scores"
	ScoresAll            Compartment = "scores_all"
	AggregatedEpochStats Compartment = "aggregated_epoch_stats"
)

// AllCompartments lists every compartment in refresh order.
var AllCompartments = []Compartment{
	Validators,
	Commissions,
	Uptimes,
	Versions,
	ClusterStats,
	Scores,
	ScoresAll,
	AggregatedEpochStats,
}

// View is a read-only snapshot of one compartment. Data is shared between readers and must not be mutated.
type View[T any] struct {
	Data      T
	UpdatedAt time.Time
	// Version increases on every replacement across the whole store, so a changed Version means
	// the compartment was swapped since it was last observed.
	Version uint64
}

type entry struct {
	data      any
	updatedAt time.Time
	version   uint64
}

// Store holds the last known good copy of every compartment.
// Each compartment is an immutable entry swapped as a whole, so readers never wait on
// the I/O that produced a replacement and never see half of one.
type Store struct {
	entries *xsync.Map[Compartment, *entry]
	version atomic.Uint64
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{
		entries: xsync.NewMap[Compartment, *entry](),
		now:     time.Now,
	}
}

// Replace atomically swaps compartment c to data, stamped with the current time.
func (s *Store) Replace(c Compartment, data any) uint64 {
	return s.ReplaceAt(c, data, s.now())
}

// ReplaceAt swaps compartment c to data produced at updatedAt. Used when data comes from
// another replica, where the producer's timestamp is the meaningful freshness.
func (s *Store) ReplaceAt(c Compartment, data any, updatedAt time.Time) uint64 {
	v := s.version.Add(1)
	s.entries.Store(c, &entry{data: data, updatedAt: updatedAt, version: v})
	return v
}

// UpdatedAt returns when compartment c was last replaced. ok is false if it never was.
func (s *Store) UpdatedAt(c Compartment) (time.Time, bool) {
	e, ok := s.entries.Load(c)
	if !ok {
		return time.Time{}, false
	}
	return e.updatedAt, true
}

// Freshness returns the update time of every populated compartment.
func (s *Store) Freshness() map[Compartment]time.Time {
	out := make(map[Compartment]time.Time, len(AllCompartments))
	s.entries.Range(func(c Compartment, e *entry) bool {
		out[c] = e.updatedAt
		return true
	})
	return out
}

// Get returns compartment c as T. It fails with ErrNotPopulated when c was never populated and
// with ErrWrongType when it holds something else.
func Get[T any](s *Store, c Compartment) (View[T], error) {
	e, ok := s.entries.Load(c)
	if !ok {
		return View[T]{}, ErrNotPopulated
	}
	data, ok := e.data.(T)
	if !ok {
		var want T
		return View[T]{}, fmt.Errorf("%w: %s is %T, want %T", ErrWrongType, c, e.data, want)
	}
	return View[T]{Data: data, UpdatedAt: e.updatedAt, Version: e.version}, nil
}

func (s *Store) Validators() (View[map[string]models.Validator], error) {
	return Get[map[string]models.Validator](s, Validators)
}

func (s *Store) Commissions() (View[map[string][]models.CommissionRecord], error) {
	return Get[map[string][]models.CommissionRecord](s, Commissions)
}

func (s *Store) Uptimes() (View[map[string][]models.UptimeRecord], error) {
	return Get[map[string][]models.UptimeRecord](s, Uptimes)
}

func (s *Store) Versions() (View[map[string][]models.VersionRecord], error) {
	return Get[map[string][]models.VersionRecord](s, Versions)
}

func (s *Store) ClusterStats() (View[models.ClusterStats], error) {
	return Get[models.ClusterStats](s, ClusterStats)
}

func (s *Store) Scores() (View[models.RunScores], error) {
	return Get[models.RunScores](s, Scores)
}

func (s *Store) ScoresAll() (View[models.ScoringHistory], error) {
	return Get[models.ScoringHistory](s, ScoresAll)
}

func (s *Store) AggregatedEpochStats() (View[[]models.AggregatedEpochStats], error) {
	return Get[[]models.AggregatedEpochStats](s, AggregatedEpochStats)
}
