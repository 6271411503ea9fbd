package harvest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/feichai0017/book-harvester/internal/catalog"
	"github.com/feichai0017/book-harvester/internal/models"
	"github.com/feichai0017/book-harvester/internal/policy"
	"github.com/feichai0017/book-harvester/pkg/logger"
)

// Run harvests until ctx is done. Outside continuous mode it returns after
// a single round; in continuous mode an empty or failed round is followed
// by a pause of PollInterval.
func (s *Service) Run(ctx context.Context) error {
	for {
		n, err := s.RunOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !s.cfg.Continuous {
			return err
		}
		if err != nil {
			s.logger.Error("Harvest round failed", logger.Error(err))
		}
		if err == nil && n > 0 {
			continue
		}

		s.logger.Info("Nothing harvested, waiting before polling again",
			logger.Duration("interval", s.cfg.PollInterval))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

// RunOnce queries the catalog, selects the due books and processes them in
// priority order. It returns how many books were processed.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	if s.fontCache != nil {
		s.fontCache.Invalidate()
	}
	if removed, err := s.pruneCache(); err != nil {
		s.logger.Warn("Failed to prune book cache", logger.Error(err))
	} else if removed > 0 {
		s.logger.Info("Pruned book cache", logger.Int("removed", removed))
	}

	filter := catalog.MergeFilters(policy.QueryFilter(s.cfg.Mode), s.cfg.Filter)
	recs, err := s.books.Query(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to query catalog: %w", err)
	}

	due, decisions := s.selectDue(recs)
	s.logger.Info("Starting harvest round",
		logger.String("mode", string(s.cfg.Mode)),
		logger.String("version", s.cfg.Version),
		logger.Int("candidates", len(recs)),
		logger.Int("due", len(due)))

	processed := 0
	for _, rec := range due {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		s.process(ctx, rec, decisions[rec.ID])
		processed++
	}
	return processed, nil
}

func (s *Service) selectDue(recs []models.DocumentRecord) ([]models.DocumentRecord, map[string]policy.Decision) {
	decisions := make(map[string]policy.Decision, len(recs))
	var due []models.DocumentRecord
	for i := range recs {
		rec := &recs[i]
		d := s.policy.ShouldProcess(rec, s.cfg.Mode, s.cfg.Version)
		s.logger.Debug("Harvest decision",
			logger.String("documentId", rec.ID),
			logger.Bool("process", d.Process),
			logger.Bool("stale", d.Stale),
			logger.String("reason", d.Reason))
		if d.Process {
			decisions[rec.ID] = d
			due = append(due, *rec)
		}
	}

	due = policy.Prioritize(due, s.rand)
	if s.cfg.Limit > 0 && len(due) > s.cfg.Limit {
		due = due[:s.cfg.Limit]
	}
	return due, decisions
}

// pruneCache removes cached books of this instance that have not been used
// within the retention period.
func (s *Service) pruneCache() (int, error) {
	if s.cfg.CacheRetention <= 0 {
		return 0, nil
	}
	root := s.instanceDir()
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	threshold := s.now().Add(-s.cfg.CacheRetention)
	removed := 0
	var errs []error
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(threshold) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
