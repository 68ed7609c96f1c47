package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/elonfeng/hnpulse/internal/store"
)

// ErrBenchmarksUnavailable means the full benchmark map could not be
// loaded. Scoring with a partial map would leave percentile lookups
// undefined, so detection aborts cleanly on this error.
var ErrBenchmarksUnavailable = errors.New("benchmarks unavailable")

// Benchmark is one percentile profile used for scoring.
type Benchmark struct {
	P50        float64
	P75        float64
	P90        float64
	P95        float64
	P99        float64
	SampleSize int
}

// BenchmarkSet holds the full 3 buckets x 2 metrics map.
type BenchmarkSet map[AgeBucket]map[MetricType]Benchmark

// Get returns the cell for a (bucket, metric) pair.
func (set BenchmarkSet) Get(bucket AgeBucket, metric MetricType) (Benchmark, bool) {
	metrics, ok := set[bucket]
	if !ok {
		return Benchmark{}, false
	}
	b, ok := metrics[metric]
	return b, ok
}

// Percentile estimates where value sits in the distribution described by
// the benchmark, via piecewise-linear interpolation between the five
// stored quantiles. Beyond p99 the result saturates at 100. This is a
// deliberate approximation over five points, not an empirical CDF.
func Percentile(value float64, b Benchmark) float64 {
	if value <= b.P50 {
		if b.P50 == 0 {
			return 50
		}
		return math.Min(50, value/b.P50*50)
	}
	if value <= b.P75 {
		return 50 + (value-b.P50)/(b.P75-b.P50)*25
	}
	if value <= b.P90 {
		return 75 + (value-b.P75)/(b.P90-b.P75)*15
	}
	if value <= b.P95 {
		return 90 + (value-b.P90)/(b.P95-b.P90)*5
	}
	if value <= b.P99 {
		return 95 + (value-b.P95)/(b.P99-b.P95)*4
	}
	// Open-ended tail: saturates at 100 for large outliers.
	return 99 + math.Min(1, (value-b.P99)/b.P99)
}

// computePercentiles derives the five quantiles from raw samples using the
// nearest-rank method: sort ascending, take index ceil(p/100*n)-1.
func computePercentiles(values []float64) Benchmark {
	if len(values) == 0 {
		return Benchmark{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := func(p float64) float64 {
		idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
		if idx < 0 {
			idx = 0
		}
		return sorted[idx]
	}

	return Benchmark{
		P50:        rank(50),
		P75:        rank(75),
		P90:        rank(90),
		P95:        rank(95),
		P99:        rank(99),
		SampleSize: len(sorted),
	}
}

// BenchmarkConfig controls recomputation.
type BenchmarkConfig struct {
	Lookback      time.Duration // trailing window of history to sample
	PairingWindow time.Duration // max gap between paired snapshots
	MinSamples    int           // required samples before overwriting a cell
}

// DefaultBenchmarkConfig returns the standard recomputation settings.
func DefaultBenchmarkConfig() BenchmarkConfig {
	return BenchmarkConfig{
		Lookback:      7 * 24 * time.Hour,
		PairingWindow: 10 * time.Minute,
		MinSamples:    10,
	}
}

// Benchmarks maintains the percentile benchmark map in the store.
type Benchmarks struct {
	store store.Store
	cfg   BenchmarkConfig
}

// NewBenchmarks creates a benchmark maintainer.
func NewBenchmarks(s store.Store, cfg BenchmarkConfig) *Benchmarks {
	if cfg.Lookback == 0 {
		cfg.Lookback = 7 * 24 * time.Hour
	}
	if cfg.PairingWindow == 0 {
		cfg.PairingWindow = 10 * time.Minute
	}
	if cfg.MinSamples == 0 {
		cfg.MinSamples = 10
	}
	return &Benchmarks{store: s, cfg: cfg}
}

// Load reads the benchmark map from the store. All six cells must be
// present or ErrBenchmarksUnavailable is returned.
func (b *Benchmarks) Load(ctx context.Context) (BenchmarkSet, error) {
	rows, err := b.store.ListBenchmarks(ctx)
	if err != nil {
		return nil, fmt.Errorf("load benchmarks: %w", err)
	}

	set := make(BenchmarkSet)
	for _, row := range rows {
		bucket := AgeBucket(row.AgeBucket)
		metric := MetricType(row.MetricType)
		if set[bucket] == nil {
			set[bucket] = make(map[MetricType]Benchmark)
		}
		set[bucket][metric] = Benchmark{
			P50:        row.P50,
			P75:        row.P75,
			P90:        row.P90,
			P95:        row.P95,
			P99:        row.P99,
			SampleSize: row.SampleSize,
		}
	}

	for _, bucket := range AllBuckets() {
		for _, metric := range AllMetrics() {
			if _, ok := set.Get(bucket, metric); !ok {
				return nil, ErrBenchmarksUnavailable
			}
		}
	}
	return set, nil
}

// velocitySamples holds the raw velocity observations for one bucket.
type velocitySamples struct {
	score    []float64
	comments []float64
}

// Recompute rebuilds all six benchmark cells from historical snapshot
// pairs. A failure in one cell is reported in errs and does not abort the
// others; a cell with fewer than MinSamples samples is left untouched.
// The returned error is reserved for cycle-level failures (store
// unreachable).
func (b *Benchmarks) Recompute(ctx context.Context) (updated int, errs []string, err error) {
	since := time.Now().Add(-b.cfg.Lookback)
	snaps, err := b.store.SnapshotsSince(ctx, since)
	if err != nil {
		return 0, nil, fmt.Errorf("load snapshot history: %w", err)
	}

	samples := b.collectSamples(snaps)
	now := time.Now().UTC()

	for _, bucket := range AllBuckets() {
		s := samples[bucket]
		for _, metric := range AllMetrics() {
			values := s.score
			if metric == MetricCommentVelocity {
				values = s.comments
			}

			if len(values) < b.cfg.MinSamples {
				errs = append(errs, fmt.Sprintf("insufficient samples for %s/%s: %d", bucket, metric, len(values)))
				continue
			}

			pct := computePercentiles(values)
			row := &store.Benchmark{
				AgeBucket:  string(bucket),
				MetricType: string(metric),
				P50:        pct.P50,
				P75:        pct.P75,
				P90:        pct.P90,
				P95:        pct.P95,
				P99:        pct.P99,
				SampleSize: pct.SampleSize,
				ComputedAt: now,
			}
			if upsertErr := b.store.UpsertBenchmark(ctx, row); upsertErr != nil {
				errs = append(errs, fmt.Sprintf("upsert %s/%s: %v", bucket, metric, upsertErr))
				continue
			}
			updated++
		}
	}

	return updated, errs, nil
}

// collectSamples pairs each snapshot with the earliest subsequent capture
// of the same post inside the pairing window, and buckets the resulting
// velocities by the first snapshot's age. The input is ordered by post
// then capture time, so a single forward scan per post suffices. Pairs
// where either metric decreased are excluded as noise rather than clamped.
func (b *Benchmarks) collectSamples(snaps []store.Snapshot) map[AgeBucket]*velocitySamples {
	samples := map[AgeBucket]*velocitySamples{
		BucketNew:    {},
		BucketYoung:  {},
		BucketMature: {},
	}

	for i := 0; i < len(snaps); i++ {
		first := snaps[i]
		for j := i + 1; j < len(snaps); j++ {
			second := snaps[j]
			if second.PostID != first.PostID {
				break
			}
			if !second.CapturedAt.After(first.CapturedAt) {
				continue
			}
			if second.CapturedAt.Sub(first.CapturedAt) > b.cfg.PairingWindow {
				break
			}

			// Earliest subsequent capture found; decide and stop.
			elapsed := second.CapturedAt.Sub(first.CapturedAt).Minutes()
			if elapsed > 0 && second.Score >= first.Score && second.Comments >= first.Comments {
				bucket := BucketFor(first.AgeMinutes)
				samples[bucket].score = append(samples[bucket].score, float64(second.Score-first.Score)/elapsed)
				samples[bucket].comments = append(samples[bucket].comments, float64(second.Comments-first.Comments)/elapsed)
			}
			break
		}
	}

	return samples
}

// defaultSeeds are hand-picked conservative percentile tables used before
// enough real history accumulates. Generous on purpose: few false
// positives beat noisy cold-start alerts.
var defaultSeeds = []store.Benchmark{
	// New posts (0-30 min): high volatility.
	{AgeBucket: "new", MetricType: "score_velocity", P50: 0.5, P75: 1.0, P90: 2.0, P95: 3.5, P99: 6.0, SampleSize: 100},
	{AgeBucket: "new", MetricType: "comment_velocity", P50: 0.1, P75: 0.3, P90: 0.6, P95: 1.0, P99: 2.0, SampleSize: 100},
	// Young posts (31-120 min): stabilizing.
	{AgeBucket: "young", MetricType: "score_velocity", P50: 0.3, P75: 0.6, P90: 1.2, P95: 2.0, P99: 4.0, SampleSize: 100},
	{AgeBucket: "young", MetricType: "comment_velocity", P50: 0.05, P75: 0.15, P90: 0.3, P95: 0.5, P99: 1.0, SampleSize: 100},
	// Mature posts (121+ min): slow growth.
	{AgeBucket: "mature", MetricType: "score_velocity", P50: 0.1, P75: 0.2, P90: 0.5, P95: 0.8, P99: 1.5, SampleSize: 100},
	{AgeBucket: "mature", MetricType: "comment_velocity", P50: 0.02, P75: 0.05, P90: 0.1, P95: 0.2, P99: 0.4, SampleSize: 100},
}

// Seed writes the default benchmark rows, skipping any cell that already
// exists.
func (b *Benchmarks) Seed(ctx context.Context) error {
	now := time.Now().UTC()
	for i := range defaultSeeds {
		row := defaultSeeds[i]
		row.ComputedAt = now
		if err := b.store.SeedBenchmark(ctx, &row); err != nil {
			return err
		}
	}
	return nil
}
