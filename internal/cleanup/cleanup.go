// Package cleanup implements the spill cleanup finalizer (§4.8): a
// best-effort remover of the activity-handoff spill files the extract
// and transform activities leave behind.
package cleanup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prinquiel/messaging-analytics-etl/internal/domain"
)

// Service best-effort removes spill files: the explicit raw/transformed
// paths handed to it at the end of a workflow run, and any stale spill
// file left in SpillDir by a run that crashed before reaching the
// cleanup activity, swept periodically.
type Service struct {
	SpillDir  string
	Retention time.Duration
}

var _ domain.SpillCleaner = (*Service)(nil)

// NewService builds a Service. retention defaults to 24h.
func NewService(spillDir string, retention time.Duration) *Service {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Service{SpillDir: spillDir, Retention: retention}
}

// Cleanup deletes each path best-effort; the cleanup activity runs
// with attempts=1 (§4.8) and must never fail the workflow, so a
// missing file or a removal error is logged, not returned.
func (s *Service) Cleanup(ctx domain.Context, paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Warn("spill cleanup: failed to remove file", slog.String("path", p), slog.Any("error", err))
		}
	}
	return nil
}

// SweepStale removes spill files in SpillDir older than Retention,
// catching files orphaned by a workflow that never reached the
// cleanup activity (worker crash, forced cancellation).
func (s *Service) SweepStale(ctx context.Context) error {
	entries, err := os.ReadDir(s.SpillDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	cutoff := time.Now().Add(-s.Retention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !isSpillFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.SpillDir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("spill sweep: failed to remove stale file", slog.String("path", path), slog.Any("error", err))
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("spill sweep removed stale files", slog.Int("count", removed), slog.Time("cutoff", cutoff))
	}
	return nil
}

func isSpillFile(name string) bool {
	return strings.HasPrefix(name, "etl-") &&
		(strings.HasSuffix(name, "-raw.ndjson") || strings.HasSuffix(name, "-transformed.json"))
}

// RunPeriodic sweeps stale spill files on an interval until ctx is
// cancelled.
func (s *Service) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.SweepStale(ctx); err != nil {
		slog.Error("initial spill sweep failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("spill cleanup sweeper stopping")
			return
		case <-ticker.C:
			if err := s.SweepStale(ctx); err != nil {
				slog.Error("periodic spill sweep failed", slog.Any("error", err))
			}
		}
	}
}
