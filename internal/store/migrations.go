package store

const schema = `
CREATE TABLE IF NOT EXISTS posts (
    id              INTEGER PRIMARY KEY,
    title           TEXT NOT NULL,
    url             TEXT NOT NULL DEFAULT '',
    author          TEXT NOT NULL DEFAULT '',
    post_type       TEXT NOT NULL DEFAULT 'story',
    first_seen_at   DATETIME NOT NULL,
    last_updated_at DATETIME NOT NULL,
    is_dead         BOOLEAN NOT NULL DEFAULT 0,
    is_deleted      BOOLEAN NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_posts_first_seen ON posts(first_seen_at);
CREATE INDEX IF NOT EXISTS idx_posts_type ON posts(post_type);
CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author);

CREATE TABLE IF NOT EXISTS snapshots (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    post_id     INTEGER NOT NULL REFERENCES posts(id),
    score       INTEGER NOT NULL,
    comments    INTEGER NOT NULL DEFAULT 0,
    captured_at DATETIME NOT NULL,
    age_minutes INTEGER NOT NULL,
    UNIQUE(post_id, captured_at)
);

CREATE INDEX IF NOT EXISTS idx_snapshots_post ON snapshots(post_id, captured_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_captured ON snapshots(captured_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_age ON snapshots(age_minutes);

CREATE TABLE IF NOT EXISTS alerts (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    post_id           INTEGER NOT NULL REFERENCES posts(id),
    alert_type        TEXT NOT NULL,
    percentile        REAL NOT NULL,
    growth_rate       REAL NOT NULL,
    score_at_alert    INTEGER NOT NULL,
    comments_at_alert INTEGER NOT NULL,
    post_age_minutes  INTEGER NOT NULL,
    detected_at       DATETIME NOT NULL,
    is_sent           BOOLEAN NOT NULL DEFAULT 0,
    UNIQUE(post_id, alert_type)
);

CREATE INDEX IF NOT EXISTS idx_alerts_detected ON alerts(detected_at);
CREATE INDEX IF NOT EXISTS idx_alerts_sent ON alerts(is_sent, detected_at);
CREATE INDEX IF NOT EXISTS idx_alerts_post ON alerts(post_id);

CREATE TABLE IF NOT EXISTS benchmarks (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    age_bucket  TEXT NOT NULL,
    metric_type TEXT NOT NULL,
    p50         REAL NOT NULL DEFAULT 0,
    p75         REAL NOT NULL DEFAULT 0,
    p90         REAL NOT NULL DEFAULT 0,
    p95         REAL NOT NULL DEFAULT 0,
    p99         REAL NOT NULL DEFAULT 0,
    sample_size INTEGER NOT NULL,
    computed_at DATETIME NOT NULL,
    UNIQUE(age_bucket, metric_type)
);

CREATE TABLE IF NOT EXISTS digests (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    sent_at     DATETIME NOT NULL,
    alert_ids   TEXT NOT NULL DEFAULT '[]',
    alert_count INTEGER NOT NULL,
    digest_type TEXT NOT NULL,
    status      TEXT NOT NULL DEFAULT 'pending'
);

CREATE INDEX IF NOT EXISTS idx_digests_sent ON digests(sent_at);
CREATE INDEX IF NOT EXISTS idx_digests_status ON digests(status);
`
