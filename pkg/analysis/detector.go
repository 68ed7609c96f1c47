package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/hnpulse/internal/store"
)

// Alert type tags.
const (
	AlertScoreVelocity   = "score_velocity"
	AlertCommentVelocity = "comment_velocity"
	AlertBreakthrough    = "breakthrough"
)

// Absolute floors that suppress percentile noise on tiny counts, and the
// stricter gates for the age-gated breakthrough rule. Tuned against the
// percentile approximation in Percentile; not configurable.
const (
	minScoreForAlert      = 10
	minCommentsForAlert   = 5
	breakthroughMinScore  = 20
	breakthroughMaxAgeMin = 30
	breakthroughPctile    = 90
)

// DetectorConfig controls one detection cycle.
type DetectorConfig struct {
	PercentileThreshold float64       // alert when metric percentile >= this (default 95)
	ActiveWindow        time.Duration // posts first seen within this window are scanned (default 48h)
	Concurrency         int           // per-post fan-out bound (default 8)
}

// DefaultDetectorConfig returns the standard detection settings.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		PercentileThreshold: 95,
		ActiveWindow:        48 * time.Hour,
		Concurrency:         8,
	}
}

// Summary reports the outcome of one detection cycle.
type Summary struct {
	PostsScanned      int            `json:"posts_scanned"`
	Candidates        int            `json:"candidates"`
	AlertsCreated     int            `json:"alerts_created"`
	AlertsByType      map[string]int `json:"alerts_by_type"`
	BenchmarksMissing bool           `json:"benchmarks_missing"`
}

// Detector scans active posts for anomalous growth and persists alerts.
type Detector struct {
	store      store.Store
	benchmarks *Benchmarks
	cfg        DetectorConfig
	logger     *slog.Logger
}

// NewDetector creates a detector.
func NewDetector(s store.Store, benchmarks *Benchmarks, cfg DetectorConfig, logger *slog.Logger) *Detector {
	if cfg.PercentileThreshold == 0 {
		cfg.PercentileThreshold = 95
	}
	if cfg.ActiveWindow == 0 {
		cfg.ActiveWindow = 48 * time.Hour
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{store: s, benchmarks: benchmarks, cfg: cfg, logger: logger}
}

// Detect runs one detection cycle over the active post population.
// Missing benchmarks abort the cycle with an empty summary; that is the
// expected cold-start path, not an error. A fault analyzing one post
// skips that post only.
func (d *Detector) Detect(ctx context.Context) (*Summary, error) {
	summary := &Summary{AlertsByType: make(map[string]int)}

	set, err := d.benchmarks.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrBenchmarksUnavailable) {
			d.logger.Warn("no benchmarks available, skipping detection")
			summary.BenchmarksMissing = true
			return summary, nil
		}
		return nil, err
	}

	since := time.Now().Add(-d.cfg.ActiveWindow)
	posts, err := d.store.ActivePosts(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("load active posts: %w", err)
	}
	summary.PostsScanned = len(posts)
	if len(posts) == 0 {
		return summary, nil
	}

	var (
		mu         sync.Mutex
		candidates []store.Alert
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)

	for i := range posts {
		post := posts[i]
		g.Go(func() error {
			found, analyzeErr := d.analyzePost(gctx, post, set)
			if analyzeErr != nil {
				d.logger.Warn("post analysis failed", "post_id", post.ID, "error", analyzeErr)
				return nil
			}
			if len(found) > 0 {
				mu.Lock()
				candidates = append(candidates, found...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	summary.Candidates = len(candidates)

	// Insert-or-ignore carries the dedup: a repeat (post, type) detection
	// is a silent no-op and keeps the first detection's numbers.
	for i := range candidates {
		created, insertErr := d.store.InsertAlert(ctx, &candidates[i])
		if insertErr != nil {
			d.logger.Warn("alert insert failed", "post_id", candidates[i].PostID, "error", insertErr)
			continue
		}
		if created {
			summary.AlertsCreated++
			summary.AlertsByType[candidates[i].AlertType]++
		}
	}

	return summary, nil
}

// analyzePost applies the three detection rules to one post. The rules
// are independent; a post can trigger several in the same cycle.
func (d *Detector) analyzePost(ctx context.Context, post store.Post, set BenchmarkSet) ([]store.Alert, error) {
	recent, err := d.store.RecentSnapshots(ctx, post.ID, 2)
	if err != nil {
		return nil, err
	}
	if len(recent) < 2 {
		return nil, nil
	}

	velocity := SnapshotVelocity(recent)
	if velocity == nil {
		return nil, nil
	}

	current := recent[0]
	age := current.AgeMinutes
	bucket := BucketFor(age)

	scoreBench, ok := set.Get(bucket, MetricScoreVelocity)
	if !ok {
		return nil, fmt.Errorf("missing benchmark %s/%s", bucket, MetricScoreVelocity)
	}
	commentBench, ok := set.Get(bucket, MetricCommentVelocity)
	if !ok {
		return nil, fmt.Errorf("missing benchmark %s/%s", bucket, MetricCommentVelocity)
	}

	scorePct := Percentile(velocity.ScoreVelocity, scoreBench)
	commentPct := Percentile(velocity.CommentVelocity, commentBench)

	now := time.Now().UTC()
	base := store.Alert{
		PostID:          post.ID,
		ScoreAtAlert:    current.Score,
		CommentsAtAlert: current.Comments,
		PostAgeMinutes:  age,
		DetectedAt:      now,
	}

	var alerts []store.Alert

	if scorePct >= d.cfg.PercentileThreshold && current.Score >= minScoreForAlert {
		a := base
		a.AlertType = AlertScoreVelocity
		a.Percentile = scorePct
		a.GrowthRate = velocity.ScoreVelocity
		alerts = append(alerts, a)
	}

	if commentPct >= d.cfg.PercentileThreshold && current.Comments >= minCommentsForAlert {
		a := base
		a.AlertType = AlertCommentVelocity
		a.Percentile = commentPct
		a.GrowthRate = velocity.CommentVelocity
		alerts = append(alerts, a)
	}

	// Breakthrough: very young post already growing exceptionally fast.
	if age < breakthroughMaxAgeMin && scorePct >= breakthroughPctile && current.Score >= breakthroughMinScore {
		a := base
		a.AlertType = AlertBreakthrough
		a.Percentile = scorePct
		a.GrowthRate = velocity.ScoreVelocity
		alerts = append(alerts, a)
	}

	return alerts, nil
}
