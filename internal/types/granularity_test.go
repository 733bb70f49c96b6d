package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBucketStartAlignment(t *testing.T) {
	at := time.Date(2025, 6, 15, 13, 47, 23, 500, time.UTC)

	assert.Equal(t, time.Date(2025, 6, 15, 13, 47, 0, 0, time.UTC), GranularityMinute.BucketStart(at))
	assert.Equal(t, time.Date(2025, 6, 15, 13, 0, 0, 0, time.UTC), GranularityHour.BucketStart(at))
	assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), GranularityDay.BucketStart(at))
}

func TestBucketStartNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	at := time.Date(2025, 6, 15, 2, 30, 0, 0, loc) // 2025-06-14 21:30 UTC

	assert.Equal(t, time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC), GranularityDay.BucketStart(at))
	assert.Equal(t, time.Date(2025, 6, 14, 21, 0, 0, 0, time.UTC), GranularityHour.BucketStart(at))
}

func TestBucketsInRange(t *testing.T) {
	start := time.Date(2025, 6, 15, 13, 30, 0, 0, time.UTC)
	end := time.Date(2025, 6, 15, 16, 0, 0, 0, time.UTC)

	starts := GranularityHour.BucketsInRange(start, end)

	assert.Equal(t, []time.Time{
		time.Date(2025, 6, 15, 13, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 15, 15, 0, 0, 0, time.UTC),
	}, starts)
}

func TestBucketsInRangeEmpty(t *testing.T) {
	at := time.Date(2025, 6, 15, 13, 0, 0, 0, time.UTC)
	assert.Empty(t, GranularityHour.BucketsInRange(at, at))
}

func TestGranularityValidate(t *testing.T) {
	assert.NoError(t, GranularityMinute.Validate())
	assert.NoError(t, GranularityHour.Validate())
	assert.NoError(t, GranularityDay.Validate())
	assert.Error(t, BucketGranularity("WEEK").Validate())
}
