package ics

import (
	"context"
	"errors"
	"fmt"
	"time"

	appLog "taskcal/internal/log"
	"taskcal/internal/model"
	"taskcal/internal/occurrence"
)

// SourceReplacer swaps the imported tasks of one feed.
type SourceReplacer interface {
	ReplaceSource(ctx context.Context, userID, sourceID string, set model.TaskSet) error
}

// Syncer imports a fixed list of feeds into the store on behalf of one user.
type Syncer struct {
	fetcher *Fetcher
	repo    SourceReplacer
	sources []Source
	userID  string
	loc     *time.Location
}

func NewSyncer(fetcher *Fetcher, repo SourceReplacer, sources []Source, userID string, loc *time.Location) *Syncer {
	if loc == nil {
		loc = time.UTC
	}
	return &Syncer{
		fetcher: fetcher,
		repo:    repo,
		sources: sources,
		userID:  userID,
		loc:     loc,
	}
}

// Run fetches, parses and stores every feed. A failing feed does not stop the
// others; all failures are joined into the returned error.
func (s *Syncer) Run(ctx context.Context) error {
	if len(s.sources) == 0 {
		return nil
	}
	started := time.Now()

	results, errs := s.fetcher.FetchAll(ctx, s.sources)
	for _, res := range results {
		set, err := ParseICS(res.Source, res.Body, s.loc)
		if err != nil {
			appLog.Error("ics parse failed", err, "id", res.Source.ID)
			errs = append(errs, err)
			continue
		}
		set = dropInvalidRules(res.Source.ID, set)
		if err := s.repo.ReplaceSource(ctx, s.userID, res.Source.ID, set); err != nil {
			appLog.Error("ics store failed", err, "id", res.Source.ID)
			errs = append(errs, fmt.Errorf("store %s: %w", res.Source.ID, err))
			continue
		}
		appLog.Info("ics source synced", "id", res.Source.ID, "tasks", len(set.Tasks), "from_cache", res.FromCache)
	}

	appLog.Info("ics sync finished", "sources", len(s.sources), "failed", len(errs), "elapsed", time.Since(started).Round(time.Millisecond))
	return errors.Join(errs...)
}

// dropInvalidRules removes tasks whose rule or zone the engine rejects.
func dropInvalidRules(sourceID string, set model.TaskSet) model.TaskSet {
	out := model.TaskSet{
		Exceptions: set.Exceptions,
		RDates:     set.RDates,
		Overrides:  set.Overrides,
	}
	for _, t := range set.Tasks {
		if _, err := occurrence.NewRuleStore(model.TaskSet{Tasks: []model.Task{t}}); err != nil {
			appLog.Warn("ics event dropped", "id", sourceID, "title", t.Title, "err", err)
			continue
		}
		out.Tasks = append(out.Tasks, t)
	}
	return out
}
