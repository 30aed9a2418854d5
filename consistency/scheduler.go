/*
scheduler.go - Periodic "fix persons" job

PURPOSE:
  Periodically recomputes every active person from the first day of the
  previous month, so late stamps and absences entered after a month closed
  still reach the recaps.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Keeps the outcome of the last run for operators

USAGE:
  scheduler := NewFixScheduler(service)
  scheduler.CheckInterval = 24 * time.Hour
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - batch.go: FixAllPersons
*/
package consistency

import (
	"context"
	"sync"
	"time"

	"github.com/warp/timebank-engine/generic"
)

// FixScheduler handles the periodic fix of all active persons.
type FixScheduler struct {
	Service       *Service
	CheckInterval time.Duration
	Enabled       bool
	RecapsOnly    bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu  sync.Mutex
	lastRun *FixRun
}

// FixRun records one scheduled run.
type FixRun struct {
	From        generic.Date
	StartedAt   time.Time
	CompletedAt time.Time
	Result      BatchResult
	Err         error
}

// NewFixScheduler creates a new scheduler.
func NewFixScheduler(service *Service) *FixScheduler {
	return &FixScheduler{
		Service:       service,
		CheckInterval: 24 * time.Hour,
		Enabled:       true,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (fs *FixScheduler) Start() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	log := fs.Service.log
	if !fs.Enabled {
		log.Info().Msg("scheduler disabled, not starting")
		return
	}

	fs.ticker = time.NewTicker(fs.CheckInterval)
	fs.wg.Add(1)

	go fs.run()

	log.Info().Dur("interval", fs.CheckInterval).Msg("scheduler started")
}

// Stop stops the scheduler and waits for a running fix to finish.
func (fs *FixScheduler) Stop() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.ticker != nil {
		fs.ticker.Stop()
		close(fs.stop)
		fs.wg.Wait()
		fs.ticker = nil
		fs.Service.log.Info().Msg("scheduler stopped")
	}
}

func (fs *FixScheduler) run() {
	defer fs.wg.Done()

	// Run immediately on start
	fs.checkAndProcess()

	for {
		select {
		case <-fs.ticker.C:
			fs.checkAndProcess()
		case <-fs.stop:
			return
		}
	}
}

func (fs *FixScheduler) checkAndProcess() {
	ctx := context.Background()
	from := fs.Service.today().YearMonth().Previous().FirstDay()

	run := &FixRun{From: from, StartedAt: time.Now()}
	run.Result, run.Err = fs.Service.FixAllPersons(ctx, from, fs.RecapsOnly)
	run.CompletedAt = time.Now()

	if run.Err != nil {
		fs.Service.log.Error().Err(run.Err).Str("from", from.String()).Msg("scheduled fix failed")
	}

	fs.lastMu.Lock()
	fs.lastRun = run
	fs.lastMu.Unlock()
}

// RunNow triggers an immediate run (for testing/admin).
func (fs *FixScheduler) RunNow() {
	fs.checkAndProcess()
}

// LastRun returns the outcome of the last run, nil before the first one.
func (fs *FixScheduler) LastRun() *FixRun {
	fs.lastMu.Lock()
	defer fs.lastMu.Unlock()
	return fs.lastRun
}
