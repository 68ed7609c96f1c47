package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/elonfeng/hnpulse/internal/ingest"
	"github.com/elonfeng/hnpulse/pkg/analysis"
	"github.com/elonfeng/hnpulse/pkg/digest"
)

// Scheduler drives the periodic pipeline stages: ingestion + detection,
// benchmark recomputation, and digest batching. All stages run on one
// goroutine, so no stage ever overlaps itself or another.
type Scheduler struct {
	ingestor   *ingest.Ingestor
	detector   *analysis.Detector
	benchmarks *analysis.Benchmarks
	batcher    *digest.Batcher
	logger     *slog.Logger

	fetchInt     time.Duration
	benchmarkInt time.Duration
	digestInt    time.Duration
}

// New creates a scheduler.
func New(
	ingestor *ingest.Ingestor,
	detector *analysis.Detector,
	benchmarks *analysis.Benchmarks,
	batcher *digest.Batcher,
	fetchInt, benchmarkInt, digestInt time.Duration,
	logger *slog.Logger,
) *Scheduler {
	if fetchInt == 0 {
		fetchInt = 5 * time.Minute
	}
	if benchmarkInt == 0 {
		benchmarkInt = 24 * time.Hour
	}
	if digestInt == 0 {
		digestInt = 4 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		ingestor:     ingestor,
		detector:     detector,
		benchmarks:   benchmarks,
		batcher:      batcher,
		logger:       logger,
		fetchInt:     fetchInt,
		benchmarkInt: benchmarkInt,
		digestInt:    digestInt,
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	fetchTicker := time.NewTicker(s.fetchInt)
	benchmarkTicker := time.NewTicker(s.benchmarkInt)
	digestTicker := time.NewTicker(s.digestInt)
	defer fetchTicker.Stop()
	defer benchmarkTicker.Stop()
	defer digestTicker.Stop()

	// Seed defaults so detection can score before real history exists,
	// then run an immediate cycle.
	if err := s.benchmarks.Seed(ctx); err != nil {
		s.logger.Warn("benchmark seeding failed", "error", err)
	}
	s.fetchAndDetect(ctx)

	s.logger.Info("scheduler running",
		"fetch_every", s.fetchInt, "benchmarks_every", s.benchmarkInt, "digest_every", s.digestInt)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-fetchTicker.C:
			s.fetchAndDetect(ctx)
		case <-benchmarkTicker.C:
			s.recomputeBenchmarks(ctx)
		case <-digestTicker.C:
			s.runDigest(ctx)
		}
	}
}

func (s *Scheduler) fetchAndDetect(ctx context.Context) {
	stats, err := s.ingestor.Run(ctx)
	if err != nil {
		s.logger.Error("ingestion failed", "error", err)
		return
	}
	s.logger.Info("ingestion cycle",
		"posts", stats.PostsUpserted, "snapshots", stats.SnapshotsCreated, "active", stats.ActivePosts)

	summary, err := s.detector.Detect(ctx)
	if err != nil {
		s.logger.Error("detection failed", "error", err)
		return
	}
	s.logger.Info("detection cycle",
		"scanned", summary.PostsScanned, "alerts", summary.AlertsCreated)
}

func (s *Scheduler) recomputeBenchmarks(ctx context.Context) {
	updated, errs, err := s.benchmarks.Recompute(ctx)
	if err != nil {
		s.logger.Error("benchmark recomputation failed", "error", err)
		return
	}
	s.logger.Info("benchmarks recomputed", "cells_updated", updated)
	for _, e := range errs {
		s.logger.Warn("benchmark cell skipped", "reason", e)
	}
}

func (s *Scheduler) runDigest(ctx context.Context) {
	result, err := s.batcher.Run(ctx)
	if err != nil {
		s.logger.Error("digest batching failed", "error", err)
		return
	}
	if result.Status == digest.StatusSkipped {
		s.logger.Info("digest skipped", "reason", result.Reason)
		return
	}
	s.logger.Info("digest sent",
		"type", result.DigestType, "alerts", result.AlertCount, "delivery", result.DeliveryStatus)
}
