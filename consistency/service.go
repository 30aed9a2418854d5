/*
Package consistency exposes the entry points of the time-bank engine.

PURPOSE:
  The engine is invoked, not exposed: the surrounding application calls
  RecomputeDays, RecomputeMonths or RecomputeAll after any change to a
  person's stamps, absences, contracts or competences, and FixPersons for
  the bulk "fix person situation" job.

CONCURRENCY:
  A person's recompute is sequential (day n reads day n-1, month m reads
  month m-1) and runs to completion. Every entry point holds the person's
  lock for its whole duration, so two triggers for the same person never
  interleave their writes. Different persons run in parallel in FixPersons.

FAILURES:
  - precondition violations (missing weekday schedule) abort the person's
    recompute and are returned
  - uninitialized contracts are logged and skipped
  - store errors are returned, never retried

SEE ALSO:
  - batch.go: bounded parallel batch
  - simulation.go: what-if compensatory rest
  - scheduler.go: periodic fix of all active persons
*/
package consistency

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/warp/timebank-engine/attendance"
	"github.com/warp/timebank-engine/daycalc"
	"github.com/warp/timebank-engine/generic"
	"github.com/warp/timebank-engine/recap"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store   attendance.Store
	scanner *daycalc.Scanner
	chain   *recap.Chain
	log     zerolog.Logger
	today   func() generic.Date

	batchSize int
	locks     *personLocks
	flight    singleflight.Group
}

type Option func(*Service)

// WithClock fixes "today", mainly for tests.
func WithClock(today func() generic.Date) Option {
	return func(s *Service) { s.today = today }
}

// WithBatchSize sets how many persons FixPersons recomputes concurrently.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func NewService(store attendance.Store, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		log:       log,
		today:     generic.Today,
		batchSize: 8,
		locks:     newPersonLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.scanner = daycalc.NewScanner(store, log, s.today)
	s.chain = recap.NewChain(store, log, s.today)
	return s
}

// RecomputeDays recomputes the person's days from from to min(today, to)
// and returns the contract active at from, nil when the person is not
// tracked or not employed that day.
func (s *Service) RecomputeDays(ctx context.Context, personID attendance.PersonID, from generic.Date, to *generic.Date) (*attendance.Contract, error) {
	defer s.locks.lock(personID)()
	return s.recomputeDays(ctx, personID, from, to)
}

// RecomputeMonths recomputes the recaps of every contract of the person
// from the given month, without a day pass.
func (s *Service) RecomputeMonths(ctx context.Context, personID attendance.PersonID, from generic.YearMonth) error {
	defer s.locks.lock(personID)()
	return s.recomputeMonths(ctx, personID, from)
}

// RecomputeAll runs the day pass from the date, unless recapsOnly, and then
// the month pass from the date's month.
func (s *Service) RecomputeAll(ctx context.Context, personID attendance.PersonID, from generic.Date, recapsOnly bool) error {
	defer s.locks.lock(personID)()
	if !recapsOnly {
		if _, err := s.recomputeDays(ctx, personID, from, nil); err != nil {
			return err
		}
	}
	return s.recomputeMonths(ctx, personID, from.YearMonth())
}

func (s *Service) recomputeDays(ctx context.Context, personID attendance.PersonID, from generic.Date, to *generic.Date) (*attendance.Contract, error) {
	person, err := s.store.GetPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	c, err := s.scanner.Scan(ctx, person, from, to)
	if err != nil {
		return nil, fmt.Errorf("recompute days of %s from %s: %w", personID, from, err)
	}
	return c, nil
}

func (s *Service) recomputeMonths(ctx context.Context, personID attendance.PersonID, from generic.YearMonth) error {
	person, err := s.store.GetPerson(ctx, personID)
	if err != nil {
		return err
	}
	if person.Qualification == 0 {
		return nil
	}
	contracts, err := s.store.ContractsByPerson(ctx, personID)
	if err != nil {
		return fmt.Errorf("load contracts of %s: %w", personID, err)
	}
	today := s.today()
	for _, c := range contracts {
		if end := c.LastDay(); !end.IsZero() && end.Before(from.FirstDay()) {
			continue
		}
		if c.BeginDate.After(today) {
			continue
		}
		if err := s.chain.Run(ctx, c, &from); err != nil {
			return fmt.Errorf("recompute recaps of contract %s from %s: %w", c.ID, from, err)
		}
	}
	return nil
}

// =============================================================================
// PER-PERSON LOCKS
// =============================================================================

// personLocks is a keyed mutex. Entries are dropped when nobody holds or
// waits for them.
type personLocks struct {
	mu    sync.Mutex
	locks map[attendance.PersonID]*personLock
}

type personLock struct {
	mu   sync.Mutex
	refs int
}

func newPersonLocks() *personLocks {
	return &personLocks{locks: make(map[attendance.PersonID]*personLock)}
}

// lock blocks until the person's lock is held and returns its release.
func (l *personLocks) lock(id attendance.PersonID) func() {
	l.mu.Lock()
	pl, ok := l.locks[id]
	if !ok {
		pl = &personLock{}
		l.locks[id] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
