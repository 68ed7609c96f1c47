package analysis

import (
	"github.com/elonfeng/hnpulse/internal/store"
)

// AgeBucket partitions posts by minutes since creation. Early growth is
// bursty and later growth is structurally slower, so velocity percentiles
// are only comparable within the same bucket.
type AgeBucket string

const (
	BucketNew    AgeBucket = "new"    // 0-30 min
	BucketYoung  AgeBucket = "young"  // 31-120 min
	BucketMature AgeBucket = "mature" // 121+ min
)

// matureMaxMinutes is the open upper bound for the mature bucket.
const matureMaxMinutes = 999999

// AllBuckets returns the buckets in age order.
func AllBuckets() []AgeBucket {
	return []AgeBucket{BucketNew, BucketYoung, BucketMature}
}

// BucketFor maps minutes since creation to an age bucket.
func BucketFor(ageMinutes int) AgeBucket {
	if ageMinutes <= 30 {
		return BucketNew
	}
	if ageMinutes <= 120 {
		return BucketYoung
	}
	return BucketMature
}

// Range returns the inclusive minute range covered by the bucket.
func (b AgeBucket) Range() (min, max int) {
	switch b {
	case BucketNew:
		return 0, 30
	case BucketYoung:
		return 31, 120
	default:
		return 121, matureMaxMinutes
	}
}

// MetricType identifies which velocity metric a benchmark or alert covers.
type MetricType string

const (
	MetricScoreVelocity   MetricType = "score_velocity"
	MetricCommentVelocity MetricType = "comment_velocity"
)

// AllMetrics returns the tracked metric types.
func AllMetrics() []MetricType {
	return []MetricType{MetricScoreVelocity, MetricCommentVelocity}
}

// Velocity is the growth rate of a post between two snapshots, in units
// per minute.
type Velocity struct {
	ScoreVelocity   float64
	CommentVelocity float64
	ElapsedMinutes  float64
}

// ComputeVelocity derives velocity from two snapshots of the same post,
// current strictly later than previous. Returns nil when the timestamps
// are equal or inverted. Negative deltas clamp to zero: a moderation or
// deletion event must not read as negative growth.
func ComputeVelocity(current, previous store.Snapshot) *Velocity {
	if !current.CapturedAt.After(previous.CapturedAt) {
		return nil
	}

	elapsed := current.CapturedAt.Sub(previous.CapturedAt).Minutes()
	if elapsed <= 0 {
		return nil
	}

	scoreVel := float64(current.Score-previous.Score) / elapsed
	commentVel := float64(current.Comments-previous.Comments) / elapsed
	if scoreVel < 0 {
		scoreVel = 0
	}
	if commentVel < 0 {
		commentVel = 0
	}

	return &Velocity{
		ScoreVelocity:   scoreVel,
		CommentVelocity: commentVel,
		ElapsedMinutes:  elapsed,
	}
}

// SnapshotVelocity computes velocity from a newest-first snapshot list,
// as returned by RecentSnapshots. Returns nil when fewer than two
// snapshots exist.
func SnapshotVelocity(recent []store.Snapshot) *Velocity {
	if len(recent) < 2 {
		return nil
	}
	return ComputeVelocity(recent[0], recent[1])
}
