package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore creates a migrated store backed by a temp file.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testPost(id int64, firstSeen time.Time) *Post {
	return &Post{
		ID:            id,
		Title:         "Test Post",
		Author:        "tester",
		PostType:      "story",
		FirstSeenAt:   firstSeen,
		LastUpdatedAt: firstSeen,
	}
}

func TestUpsertPost_UpdatesMutableFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	p := testPost(1, now)
	require.NoError(t, s.UpsertPost(ctx, p))

	p.Title = "Edited Title"
	p.IsDead = true
	require.NoError(t, s.UpsertPost(ctx, p))

	got, err := s.GetPost(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Edited Title", got.Title)
	assert.True(t, got.IsDead)
	// first_seen_at is set on first sighting only.
	assert.Equal(t, now.Unix(), got.FirstSeenAt.Unix())
}

func TestActivePosts_ExcludesDeadAndOld(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertPost(ctx, testPost(1, now.Add(-time.Hour))))

	old := testPost(2, now.Add(-72*time.Hour))
	require.NoError(t, s.UpsertPost(ctx, old))

	dead := testPost(3, now.Add(-time.Hour))
	dead.IsDead = true
	require.NoError(t, s.UpsertPost(ctx, dead))

	active, err := s.ActivePosts(ctx, now.Add(-48*time.Hour))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int64(1), active[0].ID)
}

func TestAddSnapshot_DuplicateCaptureIsNoop(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.UpsertPost(ctx, testPost(1, now.Add(-time.Hour))))

	snap := &Snapshot{PostID: 1, Score: 10, Comments: 2, CapturedAt: now, AgeMinutes: 60}
	require.NoError(t, s.AddSnapshot(ctx, snap))
	require.NoError(t, s.AddSnapshot(ctx, snap))

	n, err := s.CountSnapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecentSnapshots_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.UpsertPost(ctx, testPost(1, now.Add(-time.Hour))))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.AddSnapshot(ctx, &Snapshot{
			PostID: 1, Score: i * 10,
			CapturedAt: now.Add(time.Duration(i-3) * 5 * time.Minute),
			AgeMinutes: 45 + i*5,
		}))
	}

	snaps, err := s.RecentSnapshots(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, 20, snaps[0].Score)
	assert.Equal(t, 10, snaps[1].Score)
	assert.True(t, snaps[0].CapturedAt.After(snaps[1].CapturedAt))
}

func TestInsertAlert_DeduplicatesOnPostAndType(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertPost(ctx, testPost(1, now.Add(-time.Hour))))

	first := &Alert{PostID: 1, AlertType: "score_velocity", Percentile: 96.5, GrowthRate: 4, ScoreAtAlert: 25, DetectedAt: now}
	created, err := s.InsertAlert(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	// Re-detection of the same (post, type) is silently dropped, keeping
	// the first detection's numbers.
	later := &Alert{PostID: 1, AlertType: "score_velocity", Percentile: 99.9, GrowthRate: 10, ScoreAtAlert: 300, DetectedAt: now.Add(time.Hour)}
	created, err = s.InsertAlert(ctx, later)
	require.NoError(t, err)
	assert.False(t, created)

	// A different type for the same post is a new alert.
	created, err = s.InsertAlert(ctx, &Alert{PostID: 1, AlertType: "breakthrough", Percentile: 97, DetectedAt: now})
	require.NoError(t, err)
	assert.True(t, created)

	alerts, err := s.ListAlerts(ctx, AlertListOpts{})
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	for _, a := range alerts {
		if a.AlertType == "score_velocity" {
			assert.InDelta(t, 96.5, a.Percentile, 0.001)
		}
	}
}

func TestUnsentAlerts_OrderingAndWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertPost(ctx, testPost(1, now.Add(-time.Hour))))
	require.NoError(t, s.UpsertPost(ctx, testPost(2, now.Add(-time.Hour))))
	require.NoError(t, s.UpsertPost(ctx, testPost(3, now.Add(-30*time.Hour))))

	_, err := s.InsertAlert(ctx, &Alert{PostID: 1, AlertType: "score_velocity", Percentile: 95.5, DetectedAt: now})
	require.NoError(t, err)
	_, err = s.InsertAlert(ctx, &Alert{PostID: 2, AlertType: "score_velocity", Percentile: 99.2, DetectedAt: now})
	require.NoError(t, err)
	// Stale alert outside the lookback window.
	_, err = s.InsertAlert(ctx, &Alert{PostID: 3, AlertType: "score_velocity", Percentile: 99.9, DetectedAt: now.Add(-24 * time.Hour)})
	require.NoError(t, err)

	alerts, err := s.UnsentAlerts(ctx, now.Add(-4*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	// Highest percentile first.
	assert.Equal(t, int64(2), alerts[0].PostID)
	assert.Equal(t, int64(1), alerts[1].PostID)
	assert.Equal(t, "Test Post", alerts[0].Title)
}

func TestMarkAlertsSent_CrossTypeExclusion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertPost(ctx, testPost(1, now.Add(-time.Hour))))

	scoreAlert := &Alert{PostID: 1, AlertType: "score_velocity", Percentile: 96, DetectedAt: now}
	_, err := s.InsertAlert(ctx, scoreAlert)
	require.NoError(t, err)
	commentAlert := &Alert{PostID: 1, AlertType: "comment_velocity", Percentile: 95, DetectedAt: now}
	_, err = s.InsertAlert(ctx, commentAlert)
	require.NoError(t, err)

	// Sending only the score alert marks every alert of the post.
	require.NoError(t, s.MarkAlertsSent(ctx, []int64{scoreAlert.ID}))

	unsent, err := s.UnsentAlerts(ctx, now.Add(-4*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, unsent)

	// A third, later alert for the same post never resurfaces either.
	_, err = s.InsertAlert(ctx, &Alert{PostID: 1, AlertType: "breakthrough", Percentile: 97, DetectedAt: now.Add(time.Minute)})
	require.NoError(t, err)

	unsent, err = s.UnsentAlerts(ctx, now.Add(-4*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, unsent)
}

func TestBenchmark_UpsertAndSeedSemantics(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	b := &Benchmark{AgeBucket: "new", MetricType: "score_velocity", P50: 0.5, P95: 3.5, P99: 6, SampleSize: 100, ComputedAt: now}
	require.NoError(t, s.UpsertBenchmark(ctx, b))

	// Seeding never overwrites an existing cell.
	seed := &Benchmark{AgeBucket: "new", MetricType: "score_velocity", P50: 9, SampleSize: 1, ComputedAt: now}
	require.NoError(t, s.SeedBenchmark(ctx, seed))

	rows, err := s.ListBenchmarks(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 0.5, rows[0].P50, 0.001)

	// Upsert replaces in place, keeping one row per (bucket, metric).
	b.P50 = 0.7
	require.NoError(t, s.UpsertBenchmark(ctx, b))
	rows, err = s.ListBenchmarks(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 0.7, rows[0].P50, 0.001)
}

func TestDigests_CountAndRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	d := &Digest{SentAt: now, AlertIDs: []int64{1, 2, 3}, AlertCount: 3, DigestType: "hourly", Status: "sent"}
	require.NoError(t, s.InsertDigest(ctx, d))
	require.NotZero(t, d.ID)

	n, err := s.CountDigestsSince(ctx, startOfDay(now))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	digests, err := s.ListDigests(ctx, 10)
	require.NoError(t, err)
	require.Len(t, digests, 1)
	assert.Equal(t, []int64{1, 2, 3}, digests[0].AlertIDs)
	assert.Equal(t, "hourly", digests[0].DigestType)
}

func TestStats_Counts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertPost(ctx, testPost(1, now.Add(-time.Hour))))
	require.NoError(t, s.AddSnapshot(ctx, &Snapshot{PostID: 1, Score: 5, CapturedAt: now, AgeMinutes: 60}))
	_, err := s.InsertAlert(ctx, &Alert{PostID: 1, AlertType: "score_velocity", Percentile: 96, DetectedAt: now})
	require.NoError(t, err)

	stats, err := s.Stats(ctx, now.Add(-48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalPosts)
	assert.Equal(t, 1, stats.ActivePosts)
	assert.Equal(t, 1, stats.TotalSnapshots)
	assert.Equal(t, 1, stats.TotalAlerts)
	assert.Equal(t, 1, stats.UnsentAlerts)
}
