package service_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/domain/events"
	"github.com/meterline/meterline/internal/service"
	"github.com/meterline/meterline/internal/testutil"
	"github.com/meterline/meterline/internal/types"
)

type RetentionServiceSuite struct {
	testutil.BaseServiceSuite
	service     service.RetentionService
	aggregation service.AggregationService
	archiveDir  string
}

func TestRetentionServiceSuite(t *testing.T) {
	suite.Run(t, new(RetentionServiceSuite))
}

func (s *RetentionServiceSuite) SetupTest() {
	s.BaseServiceSuite.SetupTest()
	s.archiveDir = s.T().TempDir()

	cfg := *s.GetConfig()
	cfg.Retention.ArchiveDir = s.archiveDir
	params := s.GetParams()
	params.Config = &cfg

	s.service = service.NewRetentionService(params)
	s.aggregation = service.NewAggregationService(params)
}

func (s *RetentionServiceSuite) insertExpiredEvent(qty int64) *events.UsageEvent {
	occurredAt := time.Now().UTC().Add(-100 * 24 * time.Hour)
	event := events.NewUsageEvent(types.DefaultTenantID, "api_calls",
		decimal.NewFromInt(qty), "requests", occurredAt, "", "", "test")
	s.NoError(s.GetStores().Events.BulkInsertEvents(s.GetContext(), []*events.UsageEvent{event}))
	return event
}

func (s *RetentionServiceSuite) TestExpiredPartitionWaitsForAggregation() {
	s.insertExpiredEvent(100)

	dropped, err := s.service.RunOnce(s.GetContext())
	s.NoError(err)
	s.Equal(0, dropped)
	s.Equal(1, s.GetStores().Events.Count())
	s.Empty(s.GetStores().Events.Ops)
}

func (s *RetentionServiceSuite) TestExpiredPartitionArchivedThenDropped() {
	event := s.insertExpiredEvent(100)

	// Fold the event so its partition's buckets carry a fresh watermark
	s.NoError(s.aggregation.ProcessEvent(s.GetContext(), event))

	dropped, err := s.service.RunOnce(s.GetContext())
	s.NoError(err)
	s.Equal(1, dropped)
	s.Equal(0, s.GetStores().Events.Count())

	// Export strictly precedes the drop
	ops := s.GetStores().Events.Ops
	s.Len(ops, 2)
	partition := event.OccurredAt.UTC().Format("20060102")
	s.Equal("export:"+partition, ops[0])
	s.Equal("drop:"+partition, ops[1])

	archive := filepath.Join(s.archiveDir, "events_"+partition+".jsonl")
	payload, readErr := os.ReadFile(archive)
	s.NoError(readErr)
	s.Contains(string(payload), event.ID)
}

func (s *RetentionServiceSuite) TestRecentPartitionIsKept() {
	occurredAt := time.Now().UTC().Add(-time.Hour)
	event := events.NewUsageEvent(types.DefaultTenantID, "api_calls",
		decimal.NewFromInt(5), "requests", occurredAt, "", "", "test")
	s.NoError(s.GetStores().Events.BulkInsertEvents(s.GetContext(), []*events.UsageEvent{event}))
	s.NoError(s.aggregation.ProcessEvent(s.GetContext(), event))

	dropped, err := s.service.RunOnce(s.GetContext())
	s.NoError(err)
	s.Equal(0, dropped)
	s.Equal(1, s.GetStores().Events.Count())
}

func (s *RetentionServiceSuite) TestRollupsSurviveRetention() {
	event := s.insertExpiredEvent(100)
	s.NoError(s.aggregation.ProcessEvent(s.GetContext(), event))

	_, err := s.service.RunOnce(s.GetContext())
	s.NoError(err)
	s.Equal(0, s.GetStores().Events.Count())

	bucketStart := types.GranularityHour.BucketStart(event.OccurredAt)
	bucket, err := s.GetStores().Rollups.GetBucket(s.GetContext(), "api_calls", types.GranularityHour, bucketStart)
	s.NoError(err)
	s.True(bucket.Sum.Equal(decimal.NewFromInt(100)))
}
