package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/hnpulse/internal/store"
)

func snapAt(t time.Time, score, comments int) store.Snapshot {
	return store.Snapshot{PostID: 1, Score: score, Comments: comments, CapturedAt: t}
}

func TestBucketFor_Boundaries(t *testing.T) {
	cases := []struct {
		minutes int
		want    AgeBucket
	}{
		{0, BucketNew},
		{30, BucketNew},
		{31, BucketYoung},
		{120, BucketYoung},
		{121, BucketMature},
		{100000, BucketMature},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, BucketFor(tc.minutes), "age %d", tc.minutes)
	}
}

func TestBucketRanges_PartitionWithoutGaps(t *testing.T) {
	// Every non-negative age lands in exactly the bucket whose range
	// contains it.
	for age := 0; age <= 500; age++ {
		bucket := BucketFor(age)
		min, max := bucket.Range()
		assert.GreaterOrEqual(t, age, min)
		assert.LessOrEqual(t, age, max)

		for _, other := range AllBuckets() {
			if other == bucket {
				continue
			}
			oMin, oMax := other.Range()
			assert.False(t, age >= oMin && age <= oMax,
				"age %d in both %s and %s", age, bucket, other)
		}
	}
}

func TestComputeVelocity_Basic(t *testing.T) {
	now := time.Now()
	v := ComputeVelocity(snapAt(now, 25, 10), snapAt(now.Add(-5*time.Minute), 5, 0))
	require.NotNil(t, v)
	assert.InDelta(t, 4.0, v.ScoreVelocity, 0.001)
	assert.InDelta(t, 2.0, v.CommentVelocity, 0.001)
	assert.InDelta(t, 5.0, v.ElapsedMinutes, 0.001)
}

func TestComputeVelocity_RejectsBadOrdering(t *testing.T) {
	now := time.Now()

	// Equal timestamps.
	assert.Nil(t, ComputeVelocity(snapAt(now, 10, 0), snapAt(now, 5, 0)))

	// Inverted order.
	assert.Nil(t, ComputeVelocity(snapAt(now.Add(-time.Minute), 10, 0), snapAt(now, 5, 0)))
}

func TestComputeVelocity_ClampsNegativeDeltas(t *testing.T) {
	now := time.Now()

	// Score dropped (moderation), comments grew.
	v := ComputeVelocity(snapAt(now, 3, 12), snapAt(now.Add(-4*time.Minute), 20, 4))
	require.NotNil(t, v)
	assert.Equal(t, 0.0, v.ScoreVelocity)
	assert.InDelta(t, 2.0, v.CommentVelocity, 0.001)
}

func TestSnapshotVelocity_RequiresTwoSnapshots(t *testing.T) {
	now := time.Now()
	assert.Nil(t, SnapshotVelocity(nil))
	assert.Nil(t, SnapshotVelocity([]store.Snapshot{snapAt(now, 5, 0)}))

	v := SnapshotVelocity([]store.Snapshot{
		snapAt(now, 25, 0),
		snapAt(now.Add(-5*time.Minute), 5, 0),
	})
	require.NotNil(t, v)
	assert.InDelta(t, 4.0, v.ScoreVelocity, 0.001)
}
