package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Post is a tracked Hacker News submission. The id column is the HN item ID.
type Post struct {
	ID            int64     `db:"id" json:"id"`
	Title         string    `db:"title" json:"title"`
	URL           string    `db:"url" json:"url"`
	Author        string    `db:"author" json:"author"`
	PostType      string    `db:"post_type" json:"post_type"`
	FirstSeenAt   time.Time `db:"first_seen_at" json:"first_seen_at"`
	LastUpdatedAt time.Time `db:"last_updated_at" json:"last_updated_at"`
	IsDead        bool      `db:"is_dead" json:"is_dead"`
	IsDeleted     bool      `db:"is_deleted" json:"is_deleted"`
}

// Snapshot records a point-in-time score and comment count for a post.
// The series is append-only; rows are never mutated.
type Snapshot struct {
	ID         int64     `db:"id" json:"id"`
	PostID     int64     `db:"post_id" json:"post_id"`
	Score      int       `db:"score" json:"score"`
	Comments   int       `db:"comments" json:"comments"`
	CapturedAt time.Time `db:"captured_at" json:"captured_at"`
	AgeMinutes int       `db:"age_minutes" json:"age_minutes"`
}

// Alert records a post that crossed a detection threshold. At most one
// row exists per (post, alert type); later detections are dropped.
type Alert struct {
	ID              int64     `db:"id" json:"id"`
	PostID          int64     `db:"post_id" json:"post_id"`
	AlertType       string    `db:"alert_type" json:"alert_type"`
	Percentile      float64   `db:"percentile" json:"percentile"`
	GrowthRate      float64   `db:"growth_rate" json:"growth_rate"`
	ScoreAtAlert    int       `db:"score_at_alert" json:"score_at_alert"`
	CommentsAtAlert int       `db:"comments_at_alert" json:"comments_at_alert"`
	PostAgeMinutes  int       `db:"post_age_minutes" json:"post_age_minutes"`
	DetectedAt      time.Time `db:"detected_at" json:"detected_at"`
	IsSent          bool      `db:"is_sent" json:"is_sent"`
}

// AlertWithPost is an alert joined with its post, used for digest building.
type AlertWithPost struct {
	Alert
	Title  string `db:"title" json:"title"`
	URL    string `db:"url" json:"url"`
	Author string `db:"author" json:"author"`
}

// Benchmark is a cached percentile profile for one (age bucket, metric) pair.
type Benchmark struct {
	ID         int64     `db:"id" json:"id"`
	AgeBucket  string    `db:"age_bucket" json:"age_bucket"`
	MetricType string    `db:"metric_type" json:"metric_type"`
	P50        float64   `db:"p50" json:"p50"`
	P75        float64   `db:"p75" json:"p75"`
	P90        float64   `db:"p90" json:"p90"`
	P95        float64   `db:"p95" json:"p95"`
	P99        float64   `db:"p99" json:"p99"`
	SampleSize int       `db:"sample_size" json:"sample_size"`
	ComputedAt time.Time `db:"computed_at" json:"computed_at"`
}

// Digest records one outbound notification batch.
type Digest struct {
	ID           int64     `db:"id" json:"id"`
	SentAt       time.Time `db:"sent_at" json:"sent_at"`
	AlertIDsJSON string    `db:"alert_ids" json:"-"`
	AlertIDs     []int64   `db:"-" json:"alert_ids"`
	AlertCount   int       `db:"alert_count" json:"alert_count"`
	DigestType   string    `db:"digest_type" json:"digest_type"`
	Status       string    `db:"status" json:"status"`
}

// PostListOpts controls post listing.
type PostListOpts struct {
	Since time.Time
	Limit int
}

// AlertListOpts controls alert listing.
type AlertListOpts struct {
	Since time.Time
	Limit int
}

// Stats summarizes store contents for the dashboard API.
type Stats struct {
	TotalPosts     int `json:"total_posts"`
	ActivePosts    int `json:"active_posts"`
	TotalSnapshots int `json:"total_snapshots"`
	TotalAlerts    int `json:"total_alerts"`
	UnsentAlerts   int `json:"unsent_alerts"`
	DigestsToday   int `json:"digests_today"`
}

// Store is the persistence interface.
type Store interface {
	UpsertPost(ctx context.Context, p *Post) error
	GetPost(ctx context.Context, id int64) (*Post, error)
	ListPosts(ctx context.Context, opts PostListOpts) ([]Post, error)
	ActivePosts(ctx context.Context, since time.Time) ([]Post, error)

	AddSnapshot(ctx context.Context, snap *Snapshot) error
	RecentSnapshots(ctx context.Context, postID int64, limit int) ([]Snapshot, error)
	SnapshotsSince(ctx context.Context, since time.Time) ([]Snapshot, error)
	CountSnapshots(ctx context.Context) (int, error)

	InsertAlert(ctx context.Context, a *Alert) (bool, error)
	ListAlerts(ctx context.Context, opts AlertListOpts) ([]AlertWithPost, error)
	UnsentAlerts(ctx context.Context, since time.Time, limit int) ([]AlertWithPost, error)
	MarkAlertsSent(ctx context.Context, alertIDs []int64) error

	UpsertBenchmark(ctx context.Context, b *Benchmark) error
	SeedBenchmark(ctx context.Context, b *Benchmark) error
	ListBenchmarks(ctx context.Context) ([]Benchmark, error)

	InsertDigest(ctx context.Context, d *Digest) error
	CountDigestsSince(ctx context.Context, since time.Time) (int, error)
	ListDigests(ctx context.Context, limit int) ([]Digest, error)

	Stats(ctx context.Context, activeSince time.Time) (*Stats, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertPost(ctx context.Context, p *Post) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (id, title, url, author, post_type, first_seen_at, last_updated_at, is_dead, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			url = excluded.url,
			last_updated_at = excluded.last_updated_at,
			is_dead = excluded.is_dead,
			is_deleted = excluded.is_deleted
	`, p.ID, p.Title, p.URL, p.Author, p.PostType,
		p.FirstSeenAt, p.LastUpdatedAt, p.IsDead, p.IsDeleted)
	if err != nil {
		return fmt.Errorf("upsert post %d: %w", p.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetPost(ctx context.Context, id int64) (*Post, error) {
	var p Post
	if err := s.db.GetContext(ctx, &p, "SELECT * FROM posts WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("get post %d: %w", id, err)
	}
	return &p, nil
}

func (s *SQLiteStore) ListPosts(ctx context.Context, opts PostListOpts) ([]Post, error) {
	query := "SELECT * FROM posts WHERE 1=1"
	var args []any

	if !opts.Since.IsZero() {
		query += " AND first_seen_at >= ?"
		args = append(args, opts.Since)
	}

	query += " ORDER BY first_seen_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var posts []Post
	if err := s.db.SelectContext(ctx, &posts, query, args...); err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return posts, nil
}

// ActivePosts returns live posts first seen at or after since, newest first.
func (s *SQLiteStore) ActivePosts(ctx context.Context, since time.Time) ([]Post, error) {
	var posts []Post
	err := s.db.SelectContext(ctx, &posts, `
		SELECT * FROM posts
		WHERE first_seen_at >= ? AND is_dead = 0 AND is_deleted = 0
		ORDER BY first_seen_at DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("active posts: %w", err)
	}
	return posts, nil
}

// AddSnapshot appends one observation. A duplicate (post, captured_at)
// pair is a silent no-op via the unique constraint.
func (s *SQLiteStore) AddSnapshot(ctx context.Context, snap *Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (post_id, score, comments, captured_at, age_minutes)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(post_id, captured_at) DO NOTHING
	`, snap.PostID, snap.Score, snap.Comments, snap.CapturedAt, snap.AgeMinutes)
	if err != nil {
		return fmt.Errorf("add snapshot post %d: %w", snap.PostID, err)
	}
	return nil
}

// RecentSnapshots returns the newest snapshots for a post, newest first.
func (s *SQLiteStore) RecentSnapshots(ctx context.Context, postID int64, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 2
	}
	var snaps []Snapshot
	err := s.db.SelectContext(ctx, &snaps,
		"SELECT * FROM snapshots WHERE post_id = ? ORDER BY captured_at DESC LIMIT ?",
		postID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent snapshots post %d: %w", postID, err)
	}
	return snaps, nil
}

// SnapshotsSince returns all snapshots captured at or after since, ordered
// by post then capture time ascending, so callers can pair consecutive
// rows per post with a single scan.
func (s *SQLiteStore) SnapshotsSince(ctx context.Context, since time.Time) ([]Snapshot, error) {
	var snaps []Snapshot
	err := s.db.SelectContext(ctx, &snaps,
		"SELECT * FROM snapshots WHERE captured_at >= ? ORDER BY post_id, captured_at",
		since)
	if err != nil {
		return nil, fmt.Errorf("snapshots since %s: %w", since.Format(time.RFC3339), err)
	}
	return snaps, nil
}

func (s *SQLiteStore) CountSnapshots(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM snapshots"); err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return n, nil
}

// InsertAlert inserts an alert, ignoring the insert when an alert for the
// same (post, type) already exists. Returns whether a row was created.
func (s *SQLiteStore) InsertAlert(ctx context.Context, a *Alert) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (post_id, alert_type, percentile, growth_rate,
			score_at_alert, comments_at_alert, post_age_minutes, detected_at, is_sent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(post_id, alert_type) DO NOTHING
	`, a.PostID, a.AlertType, a.Percentile, a.GrowthRate,
		a.ScoreAtAlert, a.CommentsAtAlert, a.PostAgeMinutes, a.DetectedAt)
	if err != nil {
		return false, fmt.Errorf("insert alert post %d type %s: %w", a.PostID, a.AlertType, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert alert rows affected: %w", err)
	}
	if n > 0 {
		a.ID, _ = res.LastInsertId()
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, opts AlertListOpts) ([]AlertWithPost, error) {
	query := `
		SELECT a.*, p.title, p.url, p.author
		FROM alerts a JOIN posts p ON p.id = a.post_id
		WHERE 1=1`
	var args []any

	if !opts.Since.IsZero() {
		query += " AND a.detected_at >= ?"
		args = append(args, opts.Since)
	}

	query += " ORDER BY a.detected_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var alerts []AlertWithPost
	if err := s.db.SelectContext(ctx, &alerts, query, args...); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

// UnsentAlerts returns unsent alerts detected at or after since, excluding
// any post that has ever had an alert marked sent. Once a post appears in
// a digest it never reappears, even via a different alert type.
func (s *SQLiteStore) UnsentAlerts(ctx context.Context, since time.Time, limit int) ([]AlertWithPost, error) {
	if limit <= 0 {
		limit = 10
	}
	var alerts []AlertWithPost
	err := s.db.SelectContext(ctx, &alerts, `
		SELECT a.*, p.title, p.url, p.author
		FROM alerts a JOIN posts p ON p.id = a.post_id
		WHERE a.is_sent = 0
		  AND a.detected_at >= ?
		  AND a.post_id NOT IN (SELECT post_id FROM alerts WHERE is_sent = 1)
		ORDER BY a.percentile DESC, a.detected_at DESC
		LIMIT ?
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("unsent alerts: %w", err)
	}
	return alerts, nil
}

// MarkAlertsSent resolves the given alert IDs to their posts and marks
// every alert belonging to those posts as sent, in one transaction. This
// is what keeps a multi-alert post from resurfacing in a later digest.
func (s *SQLiteStore) MarkAlertsSent(ctx context.Context, alertIDs []int64) error {
	if len(alertIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark sent: %w", err)
	}
	defer tx.Rollback()

	query, args, err := sqlx.In("SELECT DISTINCT post_id FROM alerts WHERE id IN (?)", alertIDs)
	if err != nil {
		return fmt.Errorf("build post id query: %w", err)
	}

	var postIDs []int64
	if err := tx.SelectContext(ctx, &postIDs, query, args...); err != nil {
		return fmt.Errorf("resolve alert posts: %w", err)
	}
	if len(postIDs) == 0 {
		return nil
	}

	query, args, err = sqlx.In("UPDATE alerts SET is_sent = 1 WHERE post_id IN (?)", postIDs)
	if err != nil {
		return fmt.Errorf("build mark sent query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark alerts sent: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) UpsertBenchmark(ctx context.Context, b *Benchmark) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO benchmarks (age_bucket, metric_type, p50, p75, p90, p95, p99, sample_size, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(age_bucket, metric_type) DO UPDATE SET
			p50 = excluded.p50,
			p75 = excluded.p75,
			p90 = excluded.p90,
			p95 = excluded.p95,
			p99 = excluded.p99,
			sample_size = excluded.sample_size,
			computed_at = excluded.computed_at
	`, b.AgeBucket, b.MetricType, b.P50, b.P75, b.P90, b.P95, b.P99, b.SampleSize, b.ComputedAt)
	if err != nil {
		return fmt.Errorf("upsert benchmark %s/%s: %w", b.AgeBucket, b.MetricType, err)
	}
	return nil
}

// SeedBenchmark inserts a benchmark only when no row exists for its
// (bucket, metric) pair. Seeding never overwrites computed values.
func (s *SQLiteStore) SeedBenchmark(ctx context.Context, b *Benchmark) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO benchmarks (age_bucket, metric_type, p50, p75, p90, p95, p99, sample_size, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(age_bucket, metric_type) DO NOTHING
	`, b.AgeBucket, b.MetricType, b.P50, b.P75, b.P90, b.P95, b.P99, b.SampleSize, b.ComputedAt)
	if err != nil {
		return fmt.Errorf("seed benchmark %s/%s: %w", b.AgeBucket, b.MetricType, err)
	}
	return nil
}

func (s *SQLiteStore) ListBenchmarks(ctx context.Context) ([]Benchmark, error) {
	var benchmarks []Benchmark
	err := s.db.SelectContext(ctx, &benchmarks,
		"SELECT * FROM benchmarks ORDER BY age_bucket, metric_type")
	if err != nil {
		return nil, fmt.Errorf("list benchmarks: %w", err)
	}
	return benchmarks, nil
}

func (s *SQLiteStore) InsertDigest(ctx context.Context, d *Digest) error {
	idsJSON, _ := json.Marshal(d.AlertIDs)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO digests (sent_at, alert_ids, alert_count, digest_type, status)
		VALUES (?, ?, ?, ?, ?)
	`, d.SentAt, string(idsJSON), d.AlertCount, d.DigestType, d.Status)
	if err != nil {
		return fmt.Errorf("insert digest: %w", err)
	}
	d.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) CountDigestsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM digests WHERE sent_at >= ?", since)
	if err != nil {
		return 0, fmt.Errorf("count digests: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) ListDigests(ctx context.Context, limit int) ([]Digest, error) {
	if limit <= 0 {
		limit = 20
	}
	var digests []Digest
	err := s.db.SelectContext(ctx, &digests,
		"SELECT * FROM digests ORDER BY sent_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list digests: %w", err)
	}
	for i := range digests {
		json.Unmarshal([]byte(digests[i].AlertIDsJSON), &digests[i].AlertIDs)
	}
	return digests, nil
}

func (s *SQLiteStore) Stats(ctx context.Context, activeSince time.Time) (*Stats, error) {
	var st Stats
	dayStart := startOfDay(time.Now())

	counts := []struct {
		dst   *int
		query string
		args  []any
	}{
		{&st.TotalPosts, "SELECT COUNT(*) FROM posts", nil},
		{&st.ActivePosts, "SELECT COUNT(*) FROM posts WHERE first_seen_at >= ? AND is_dead = 0 AND is_deleted = 0", []any{activeSince}},
		{&st.TotalSnapshots, "SELECT COUNT(*) FROM snapshots", nil},
		{&st.TotalAlerts, "SELECT COUNT(*) FROM alerts", nil},
		{&st.UnsentAlerts, "SELECT COUNT(*) FROM alerts WHERE is_sent = 0", nil},
		{&st.DigestsToday, "SELECT COUNT(*) FROM digests WHERE sent_at >= ?", []any{dayStart}},
	}

	for _, c := range counts {
		if err := s.db.GetContext(ctx, c.dst, c.query, c.args...); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, fmt.Errorf("stats query: %w", err)
		}
	}
	return &st, nil
}

// startOfDay returns midnight of t's local calendar day. The digest quota
// resets on this boundary.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
