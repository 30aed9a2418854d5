/*
main.go - Command-line entry point of the time-bank engine

PURPOSE:
  Runs the recompute entry points against a configured store, either once
  (one person or every active person) or periodically through the fix
  scheduler.

STARTUP SEQUENCE:
  1. Load configuration (.env and environment)
  2. Build the logger at LOG_LEVEL
  3. Open the store selected by STORE_DRIVER
  4. Run once, or start the scheduler and wait for SIGINT/SIGTERM

COMMAND-LINE FLAGS:
  -person       Person to recompute
  -all          Recompute every person active today
  -from         First day to recompute (default: first day of last month)
  -recaps-only  Skip the day pass
  -schedule     Run the periodic fix until interrupted

EXAMPLES:
  # Recompute one person from March
  ./recompute -person=p-42 -from=2024-03-01

  # Monthly recaps only, everybody
  ./recompute -all -recaps-only

  # Nightly job
  SCHEDULER_INTERVAL=24h ./recompute -schedule

ENVIRONMENT:
  STORE_DRIVER, SQLITE_PATH, DATABASE_URL, BATCH_SIZE,
  SCHEDULER_INTERVAL, APP_ENV, LOG_LEVEL

SEE ALSO:
  - consistency/service.go: Entry points
  - config/config.go: Environment variables
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/timebank-engine/attendance"
	"github.com/warp/timebank-engine/config"
	"github.com/warp/timebank-engine/consistency"
	"github.com/warp/timebank-engine/generic"
	"github.com/warp/timebank-engine/store/memory"
	"github.com/warp/timebank-engine/store/postgres"
	"github.com/warp/timebank-engine/store/sqlite"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup always runs.
func run() int {
	personID := flag.String("person", "", "person to recompute")
	all := flag.Bool("all", false, "recompute every active person")
	fromFlag := flag.String("from", "", "first day to recompute (YYYY-MM-DD)")
	recapsOnly := flag.Bool("recaps-only", false, "skip the day pass")
	schedule := flag.Bool("schedule", false, "run the periodic fix until interrupted")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}
	log := newLogger(cfg.App)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		log.Error().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to initialize store")
		return 1
	}
	defer closeStore()

	service := consistency.NewService(store, log, consistency.WithBatchSize(cfg.Batch.Size))

	if *schedule {
		scheduler := consistency.NewFixScheduler(service)
		scheduler.Enabled = true
		scheduler.CheckInterval = cfg.Scheduler.Interval
		scheduler.RecapsOnly = *recapsOnly
		scheduler.Start()
		<-ctx.Done()
		log.Info().Msg("shutting down scheduler...")
		scheduler.Stop()
		return 0
	}

	from := generic.Today().YearMonth().Previous().FirstDay()
	if *fromFlag != "" {
		if from, err = generic.ParseDate(*fromFlag); err != nil {
			log.Error().Err(err).Msg("invalid -from")
			return 2
		}
	}

	switch {
	case *all:
		started := time.Now()
		result, err := service.FixAllPersons(ctx, from, *recapsOnly)
		if err != nil {
			log.Error().Err(err).Msg("fix all persons failed")
			return 1
		}
		fmt.Printf("processed %d persons in %s, %d failed\n",
			result.Processed, time.Since(started).Round(time.Millisecond), len(result.Failed))
		for id, err := range result.Failed {
			fmt.Printf("  %s: %v\n", id, err)
		}
		if len(result.Failed) > 0 {
			return 1
		}
	case *personID != "":
		id := attendance.PersonID(*personID)
		if err := service.RecomputeAll(ctx, id, from, *recapsOnly); err != nil {
			log.Error().Err(err).Str("person_id", *personID).Msg("recompute failed")
			return 1
		}
		if err := printRecaps(ctx, os.Stdout, store, id, from.YearMonth()); err != nil {
			log.Error().Err(err).Msg("failed to print recaps")
			return 1
		}
	default:
		flag.Usage()
		return 2
	}
	return 0
}

func newLogger(app config.AppConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(app.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out io.Writer = os.Stderr
	if app.Env == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "timebank").Logger()
}

func openStore(ctx context.Context, cfg config.StoreConfig) (attendance.Store, func(), error) {
	switch cfg.Driver {
	case "postgres":
		s, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "memory":
		return memory.New(), func() {}, nil
	default:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
}

// printRecaps writes the balances of the person's recaps from the month on,
// in hours.
func printRecaps(ctx context.Context, w io.Writer, store attendance.Store, personID attendance.PersonID, from generic.YearMonth) error {
	contracts, err := store.ContractsByPerson(ctx, personID)
	if err != nil {
		return err
	}
	for _, c := range contracts {
		recaps, err := store.RecapsByContract(ctx, c.ID)
		if err != nil {
			return err
		}
		for _, r := range recaps {
			if r.YearMonth.Before(from) {
				continue
			}
			fmt.Fprintf(w, "%s  %s  last year %sh  current year %sh  deficit %sh  progressive %sh  meal tickets %d\n",
				c.ID, r.YearMonth,
				generic.MinutesToHours(r.RemainingLastYear),
				generic.MinutesToHours(r.RemainingCurrentYear),
				generic.MinutesToHours(r.CarriedDeficit),
				generic.MinutesToHours(r.ProgressiveFinal),
				r.RemainingMealTickets)
		}
	}
	return nil
}
