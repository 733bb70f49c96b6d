package types

import (
	"fmt"
	"time"
)

// BucketGranularity is the time width of a rollup bucket
type BucketGranularity string

const (
	GranularityMinute BucketGranularity = "MINUTE"
	GranularityHour   BucketGranularity = "HOUR"
	GranularityDay    BucketGranularity = "DAY"
)

func (g BucketGranularity) Validate() error {
	switch g {
	case GranularityMinute, GranularityHour, GranularityDay:
		return nil
	default:
		return fmt.Errorf("invalid bucket granularity: %s", g)
	}
}

// Duration returns the width of a bucket of this granularity
func (g BucketGranularity) Duration() time.Duration {
	switch g {
	case GranularityMinute:
		return time.Minute
	case GranularityHour:
		return time.Hour
	case GranularityDay:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// BucketStart truncates t to the start of the bucket containing it.
// Day buckets are aligned to UTC midnight.
func (g BucketGranularity) BucketStart(t time.Time) time.Time {
	t = t.UTC()
	switch g {
	case GranularityMinute:
		return t.Truncate(time.Minute)
	case GranularityDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return t.Truncate(time.Hour)
	}
}

// BucketsInRange returns the aligned bucket start times covering [start, end)
func (g BucketGranularity) BucketsInRange(start, end time.Time) []time.Time {
	var starts []time.Time
	for cur := g.BucketStart(start); cur.Before(end); cur = cur.Add(g.Duration()) {
		starts = append(starts, cur)
	}
	return starts
}
