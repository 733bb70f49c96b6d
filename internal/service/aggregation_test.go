package service_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/domain/events"
	"github.com/meterline/meterline/internal/service"
	"github.com/meterline/meterline/internal/testutil"
	"github.com/meterline/meterline/internal/types"
)

type AggregationServiceSuite struct {
	testutil.BaseServiceSuite
	service service.AggregationService
}

func TestAggregationServiceSuite(t *testing.T) {
	suite.Run(t, new(AggregationServiceSuite))
}

func (s *AggregationServiceSuite) SetupTest() {
	s.BaseServiceSuite.SetupTest()
	s.service = service.NewAggregationService(s.GetParams())
}

func (s *AggregationServiceSuite) insertAndFold(tenantID string, metricName string, occurredAt time.Time, qty int64) *events.UsageEvent {
	ctx := testutil.SetupContextForTenant(tenantID)
	event := events.NewUsageEvent(tenantID, metricName, decimal.NewFromInt(qty), "requests", occurredAt, "", "", "test")
	s.NoError(s.GetStores().Events.BulkInsertEvents(ctx, []*events.UsageEvent{event}))
	s.NoError(s.service.ProcessEvent(ctx, event))
	return event
}

func (s *AggregationServiceSuite) TestIncrementalFold() {
	base := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	s.insertAndFold(types.DefaultTenantID, "api_calls", base.Add(5*time.Minute), 100)
	s.insertAndFold(types.DefaultTenantID, "api_calls", base.Add(25*time.Minute), 50)
	s.insertAndFold(types.DefaultTenantID, "api_calls", base.Add(75*time.Minute), 10)

	bucket, err := s.GetStores().Rollups.GetBucket(s.GetContext(), "api_calls", types.GranularityHour, base)
	s.NoError(err)
	s.True(bucket.Sum.Equal(decimal.NewFromInt(150)))
	s.Equal(int64(2), bucket.Count)
	s.True(bucket.Min.Equal(decimal.NewFromInt(50)))
	s.True(bucket.Max.Equal(decimal.NewFromInt(100)))
	s.False(bucket.SourceWatermark.IsZero())

	next, err := s.GetStores().Rollups.GetBucket(s.GetContext(), "api_calls", types.GranularityHour, base.Add(time.Hour))
	s.NoError(err)
	s.True(next.Sum.Equal(decimal.NewFromInt(10)))

	// The day bucket folds all three
	day, err := s.GetStores().Rollups.GetBucket(s.GetContext(), "api_calls", types.GranularityDay, types.GranularityDay.BucketStart(base))
	s.NoError(err)
	s.True(day.Sum.Equal(decimal.NewFromInt(160)))
	s.Equal(int64(3), day.Count)
}

func (s *AggregationServiceSuite) TestBackfillMatchesIncrementalFold() {
	base := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	for i := int64(1); i <= 5; i++ {
		s.insertAndFold(types.DefaultTenantID, "api_calls", base.Add(time.Duration(i)*10*time.Minute), i*10)
	}

	incremental, err := s.GetStores().Rollups.GetBucket(s.GetContext(), "api_calls", types.GranularityHour, base)
	s.NoError(err)

	s.NoError(s.service.Backfill(s.GetContext(), "api_calls", types.GranularityHour, base, base.Add(time.Hour)))

	recomputed, err := s.GetStores().Rollups.GetBucket(s.GetContext(), "api_calls", types.GranularityHour, base)
	s.NoError(err)
	s.True(recomputed.Sum.Equal(incremental.Sum))
	s.Equal(incremental.Count, recomputed.Count)
	s.True(recomputed.Min.Equal(incremental.Min))
	s.True(recomputed.Max.Equal(incremental.Max))
}

func (s *AggregationServiceSuite) TestBackfillRepairsLateArrivals() {
	base := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	s.insertAndFold(types.DefaultTenantID, "api_calls", base.Add(10*time.Minute), 100)

	// A late event lands in the ledger without being folded
	late := events.NewUsageEvent(types.DefaultTenantID, "api_calls", decimal.NewFromInt(40), "requests", base.Add(30*time.Minute), "", "", "test")
	s.NoError(s.GetStores().Events.BulkInsertEvents(s.GetContext(), []*events.UsageEvent{late}))

	s.NoError(s.service.Backfill(s.GetContext(), "api_calls", types.GranularityHour, base, base.Add(time.Hour)))

	bucket, err := s.GetStores().Rollups.GetBucket(s.GetContext(), "api_calls", types.GranularityHour, base)
	s.NoError(err)
	s.True(bucket.Sum.Equal(decimal.NewFromInt(140)))
	s.Equal(int64(2), bucket.Count)
}

func (s *AggregationServiceSuite) TestTenantIsolation() {
	base := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	s.insertAndFold("tenant-a", "api_calls", base.Add(5*time.Minute), 100)
	s.insertAndFold("tenant-b", "api_calls", base.Add(5*time.Minute), 999)

	bucketA, err := s.GetStores().Rollups.GetBucket(testutil.SetupContextForTenant("tenant-a"), "api_calls", types.GranularityHour, base)
	s.NoError(err)
	s.True(bucketA.Sum.Equal(decimal.NewFromInt(100)))

	bucketB, err := s.GetStores().Rollups.GetBucket(testutil.SetupContextForTenant("tenant-b"), "api_calls", types.GranularityHour, base)
	s.NoError(err)
	s.True(bucketB.Sum.Equal(decimal.NewFromInt(999)))
}

func (s *AggregationServiceSuite) TestFoldExhaustionFlagsBackfill() {
	cfg := *s.GetConfig()
	cfg.Aggregation.MaxRetries = 1
	params := s.GetParams()
	params.Config = &cfg
	svc := service.NewAggregationService(params)

	s.GetStores().Rollups.FailUpserts = 10

	base := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	event := events.NewUsageEvent(types.DefaultTenantID, "api_calls", decimal.NewFromInt(5), "requests", base, "", "", "test")
	s.NoError(s.GetStores().Events.BulkInsertEvents(s.GetContext(), []*events.UsageEvent{event}))

	err := svc.ProcessEvent(s.GetContext(), event)
	s.Error(err)

	candidates, err := s.GetStores().Rollups.ListBackfillCandidates(s.GetContext(), 10)
	s.NoError(err)
	s.NotEmpty(candidates)
}

func (s *AggregationServiceSuite) TestCheckDriftFlagsTamperedBucket() {
	base := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	s.insertAndFold(types.DefaultTenantID, "api_calls", base.Add(5*time.Minute), 100)

	bucket, err := s.GetStores().Rollups.GetBucket(s.GetContext(), "api_calls", types.GranularityHour, base)
	s.NoError(err)
	bucket.Sum = decimal.NewFromInt(42)
	s.NoError(s.GetStores().Rollups.UpsertBucket(s.GetContext(), bucket))

	err = s.service.CheckDrift(s.GetContext(), "api_calls", types.GranularityHour, base, base.Add(time.Hour))
	s.Error(err)
	s.Contains(err.Error(), "drift")

	candidates, listErr := s.GetStores().Rollups.ListBackfillCandidates(s.GetContext(), 10)
	s.NoError(listErr)
	s.NotEmpty(candidates)
}

func (s *AggregationServiceSuite) TestCheckDriftPassesOnHealthyBuckets() {
	base := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	s.insertAndFold(types.DefaultTenantID, "api_calls", base.Add(5*time.Minute), 100)
	s.insertAndFold(types.DefaultTenantID, "api_calls", base.Add(15*time.Minute), 200)

	s.NoError(s.service.CheckDrift(s.GetContext(), "api_calls", types.GranularityHour, base, base.Add(time.Hour)))
}

func (s *AggregationServiceSuite) TestRepairBackfillCandidates() {
	base := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	event := events.NewUsageEvent(types.DefaultTenantID, "api_calls", decimal.NewFromInt(75), "requests", base.Add(5*time.Minute), "", "", "test")
	s.NoError(s.GetStores().Events.BulkInsertEvents(s.GetContext(), []*events.UsageEvent{event}))
	s.NoError(s.GetStores().Rollups.MarkForBackfill(s.GetContext(), "api_calls", types.GranularityHour, base))

	repaired, err := s.service.RepairBackfillCandidates(s.GetContext(), 10)
	s.NoError(err)
	s.Equal(1, repaired)

	bucket, err := s.GetStores().Rollups.GetBucket(s.GetContext(), "api_calls", types.GranularityHour, base)
	s.NoError(err)
	s.True(bucket.Sum.Equal(decimal.NewFromInt(75)))
	s.False(bucket.NeedsBackfill)
}
