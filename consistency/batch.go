package consistency

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/warp/timebank-engine/attendance"
	"github.com/warp/timebank-engine/generic"
)

// =============================================================================
// BATCH - "Fix person situation" over many persons
// =============================================================================

// BatchResult reports a FixPersons run. One person's failure never stops
// the others.
type BatchResult struct {
	Processed int
	Failed    map[attendance.PersonID]error
}

func (r BatchResult) Succeeded() int { return r.Processed - len(r.Failed) }

// FixPersons runs RecomputeAll for each person, batchSize at a time, and
// waits for the whole batch. Identical concurrent calls share one run.
func (s *Service) FixPersons(ctx context.Context, personIDs []attendance.PersonID, from generic.Date, recapsOnly bool) BatchResult {
	ids := append([]attendance.PersonID(nil), personIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = string(id)
	}
	key := fmt.Sprintf("%s|%t|%s", from, recapsOnly, strings.Join(names, ","))

	v, _, _ := s.flight.Do(key, func() (any, error) {
		return s.fixPersons(ctx, ids, from, recapsOnly), nil
	})
	return v.(BatchResult)
}

// FixAllPersons runs FixPersons over every person active today.
func (s *Service) FixAllPersons(ctx context.Context, from generic.Date, recapsOnly bool) (BatchResult, error) {
	persons, err := s.store.ListActivePersons(ctx, s.today())
	if err != nil {
		return BatchResult{}, fmt.Errorf("list active persons: %w", err)
	}
	ids := make([]attendance.PersonID, len(persons))
	for i, p := range persons {
		ids[i] = p.ID
	}
	return s.FixPersons(ctx, ids, from, recapsOnly), nil
}

func (s *Service) fixPersons(ctx context.Context, ids []attendance.PersonID, from generic.Date, recapsOnly bool) BatchResult {
	result := BatchResult{Processed: len(ids), Failed: make(map[attendance.PersonID]error)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchSize)
	for _, id := range ids {
		g.Go(func() error {
			if err := s.RecomputeAll(gctx, id, from, recapsOnly); err != nil {
				event := s.log.Error()
				if generic.IsNotFound(err) {
					event = s.log.Warn()
				}
				event.Err(err).
					Str("person_id", string(id)).
					Str("from", from.String()).
					Bool("recaps_only", recapsOnly).
					Msg("fix person situation failed")
				mu.Lock()
				result.Failed[id] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info().
		Int("processed", result.Processed).
		Int("failed", len(result.Failed)).
		Str("from", from.String()).
		Msg("fix persons batch completed")
	return result
}
