package service_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/domain/meter"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/service"
	"github.com/meterline/meterline/internal/testutil"
	"github.com/meterline/meterline/internal/types"
)

type EventServiceSuite struct {
	testutil.BaseServiceSuite
	service  service.EventService
	throttle *service.ThrottleController
}

func TestEventServiceSuite(t *testing.T) {
	suite.Run(t, new(EventServiceSuite))
}

func (s *EventServiceSuite) SetupTest() {
	s.BaseServiceSuite.SetupTest()
	s.throttle = service.NewThrottleController(s.GetConfig(), s.GetLogger())
	s.service = service.NewEventService(s.GetParams(), s.throttle)
	s.registerMeter("api_calls")
}

func (s *EventServiceSuite) registerMeter(metricName string) {
	m := meter.NewMeter("API Calls", metricName, "requests", types.DefaultTenantID, types.DefaultActorID)
	s.NoError(s.GetStores().Meters.CreateMeter(s.GetContext(), m))
}

func (s *EventServiceSuite) TestIngestEventAccepted() {
	resp, err := s.service.IngestEvent(s.GetContext(), &dto.IngestEventRequest{
		MetricName: "api_calls",
		Quantity:   decimal.NewFromInt(5),
		OccurredAt: time.Now().UTC(),
	})
	s.NoError(err)
	s.Equal(types.AckAccepted, resp.Ack.Status)
	s.NotEmpty(resp.Ack.EventID)

	s.NoError(s.service.Flush(s.GetContext()))
	s.Equal(1, s.GetStores().Events.Count())
}

func (s *EventServiceSuite) TestIngestEventIdempotentRetries() {
	req := &dto.IngestEventRequest{
		MetricName:     "api_calls",
		Quantity:       decimal.NewFromInt(5),
		OccurredAt:     time.Now().UTC(),
		IdempotencyKey: "req-123",
	}

	first, err := s.service.IngestEvent(s.GetContext(), req)
	s.NoError(err)
	s.Equal(types.AckAccepted, first.Ack.Status)

	// Retry before the buffer flushes: the pending set catches it
	second, err := s.service.IngestEvent(s.GetContext(), req)
	s.NoError(err)
	s.Equal(types.AckDuplicate, second.Ack.Status)
	s.Equal(first.Ack.EventID, second.Ack.EventID)

	s.NoError(s.service.Flush(s.GetContext()))

	// Retry after the flush: the store catches it
	third, err := s.service.IngestEvent(s.GetContext(), req)
	s.NoError(err)
	s.Equal(types.AckDuplicate, third.Ack.Status)
	s.Equal(first.Ack.EventID, third.Ack.EventID)

	s.NoError(s.service.Flush(s.GetContext()))
	s.Equal(1, s.GetStores().Events.Count())
}

func (s *EventServiceSuite) TestIngestRejectsUnknownMetric() {
	resp, err := s.service.IngestEvent(s.GetContext(), &dto.IngestEventRequest{
		MetricName: "not_registered",
		Quantity:   decimal.NewFromInt(1),
		OccurredAt: time.Now().UTC(),
	})
	s.NoError(err)
	s.Equal(types.AckRejected, resp.Ack.Status)
	s.Contains(resp.Ack.Reason, "unknown metric")
	s.NoError(s.service.Flush(s.GetContext()))
	s.Equal(0, s.GetStores().Events.Count())
}

func (s *EventServiceSuite) TestIngestRejectsNegativeQuantity() {
	resp, err := s.service.IngestEvent(s.GetContext(), &dto.IngestEventRequest{
		MetricName: "api_calls",
		Quantity:   decimal.NewFromInt(-3),
		OccurredAt: time.Now().UTC(),
	})
	s.NoError(err)
	s.Equal(types.AckRejected, resp.Ack.Status)
}

func (s *EventServiceSuite) TestIngestRejectsFarFutureEvent() {
	resp, err := s.service.IngestEvent(s.GetContext(), &dto.IngestEventRequest{
		MetricName: "api_calls",
		Quantity:   decimal.NewFromInt(1),
		OccurredAt: time.Now().UTC().Add(2 * time.Hour),
	})
	s.NoError(err)
	s.Equal(types.AckRejected, resp.Ack.Status)
	s.Contains(resp.Ack.Reason, "future")
}

func (s *EventServiceSuite) TestIngestRejectsEventOlderThanRetentionWindow() {
	resp, err := s.service.IngestEvent(s.GetContext(), &dto.IngestEventRequest{
		MetricName: "api_calls",
		Quantity:   decimal.NewFromInt(1),
		OccurredAt: time.Now().UTC().Add(-100 * 24 * time.Hour),
	})
	s.NoError(err)
	s.Equal(types.AckRejected, resp.Ack.Status)
	s.Contains(resp.Ack.Reason, "retention")
	s.NoError(s.service.Flush(s.GetContext()))
	s.Equal(0, s.GetStores().Events.Count())
}

func (s *EventServiceSuite) TestBulkIngestAcksInOrder() {
	resp, err := s.service.BulkIngestEvents(s.GetContext(), &dto.BulkIngestEventsRequest{
		Events: []*dto.IngestEventRequest{
			{MetricName: "api_calls", Quantity: decimal.NewFromInt(1), OccurredAt: time.Now().UTC()},
			{MetricName: "not_registered", Quantity: decimal.NewFromInt(1), OccurredAt: time.Now().UTC()},
			{MetricName: "api_calls", Quantity: decimal.NewFromInt(2), OccurredAt: time.Now().UTC(), IdempotencyKey: "dup"},
			{MetricName: "api_calls", Quantity: decimal.NewFromInt(2), OccurredAt: time.Now().UTC(), IdempotencyKey: "dup"},
		},
	})
	s.NoError(err)
	s.Len(resp.Acks, 4)
	s.Equal(types.AckAccepted, resp.Acks[0].Status)
	s.Equal(types.AckRejected, resp.Acks[1].Status)
	s.Equal(types.AckAccepted, resp.Acks[2].Status)
	s.Equal(types.AckDuplicate, resp.Acks[3].Status)
	s.Equal(resp.Acks[2].EventID, resp.Acks[3].EventID)

	s.NoError(s.service.Flush(s.GetContext()))
	s.Equal(2, s.GetStores().Events.Count())
}

func (s *EventServiceSuite) TestBulkIngestRejectsOversizedBatch() {
	events := make([]*dto.IngestEventRequest, s.GetConfig().Ingestion.MaxBatchSize+1)
	for i := range events {
		events[i] = &dto.IngestEventRequest{
			MetricName: "api_calls",
			Quantity:   decimal.NewFromInt(1),
			OccurredAt: time.Now().UTC(),
		}
	}

	_, err := s.service.BulkIngestEvents(s.GetContext(), &dto.BulkIngestEventsRequest{Events: events})
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *EventServiceSuite) TestThrottleSignalLimitsIngestion() {
	s.throttle.Activate(types.DefaultTenantID, "api_calls")

	throttled := 0
	for i := 0; i < s.GetConfig().Ingestion.ThrottleBurst+10; i++ {
		_, err := s.service.IngestEvent(s.GetContext(), &dto.IngestEventRequest{
			MetricName: "api_calls",
			Quantity:   decimal.NewFromInt(1),
			OccurredAt: time.Now().UTC(),
		})
		if err != nil {
			s.True(ierr.IsThrottled(err))
			throttled++
		}
	}
	s.Greater(throttled, 0)

	// Other metrics are unaffected
	s.registerMeter("storage_gb")
	resp, err := s.service.IngestEvent(s.GetContext(), &dto.IngestEventRequest{
		MetricName: "storage_gb",
		Quantity:   decimal.NewFromInt(1),
		OccurredAt: time.Now().UTC(),
	})
	s.NoError(err)
	s.Equal(types.AckAccepted, resp.Ack.Status)
}

func (s *EventServiceSuite) TestThrottleSignalLimitsBulkIngestion() {
	s.throttle.Activate(types.DefaultTenantID, "api_calls")

	total := s.GetConfig().Ingestion.ThrottleBurst + 10
	requests := make([]*dto.IngestEventRequest, total)
	for i := range requests {
		requests[i] = &dto.IngestEventRequest{
			MetricName: "api_calls",
			Quantity:   decimal.NewFromInt(1),
			OccurredAt: time.Now().UTC(),
		}
	}

	resp, err := s.service.BulkIngestEvents(s.GetContext(), &dto.BulkIngestEventsRequest{Events: requests})
	s.NoError(err)
	s.Len(resp.Acks, total)

	throttled := 0
	for _, ack := range resp.Acks {
		if ack.Status == types.AckRejected {
			s.Contains(ack.Reason, "throttled")
			throttled++
		}
	}
	s.Greater(throttled, 0)

	s.NoError(s.service.Flush(s.GetContext()))
	s.Equal(total-throttled, s.GetStores().Events.Count())
}

func (s *EventServiceSuite) TestIngestRequiresTenantScope() {
	_, err := s.service.IngestEvent(testutil.SetupContextForTenant(""), &dto.IngestEventRequest{
		MetricName: "api_calls",
		Quantity:   decimal.NewFromInt(1),
	})
	s.Error(err)
}

func (s *EventServiceSuite) TestGetUsageFreshFoldsRawEvents() {
	// Hour-aligned and recent so events stay inside the retention window
	base := time.Now().UTC().Truncate(time.Hour).Add(-2 * time.Hour)
	for i, qty := range []int64{100, 200, 300} {
		_, err := s.service.IngestEvent(s.GetContext(), &dto.IngestEventRequest{
			MetricName: "api_calls",
			Quantity:   decimal.NewFromInt(qty),
			OccurredAt: base.Add(time.Duration(i) * 20 * time.Minute),
		})
		s.NoError(err)
	}
	s.NoError(s.service.Flush(s.GetContext()))

	resp, err := s.service.GetUsage(s.GetContext(), &dto.GetUsageRequest{
		MetricName:  "api_calls",
		Granularity: types.GranularityHour,
		StartTime:   base,
		EndTime:     base.Add(2 * time.Hour),
		Fresh:       true,
	})
	s.NoError(err)
	s.Len(resp.Buckets, 1)
	s.True(resp.TotalSum.Equal(decimal.NewFromInt(600)))
	s.Equal(int64(3), resp.TotalCount)
	s.True(resp.Buckets[0].Min.Equal(decimal.NewFromInt(100)))
	s.True(resp.Buckets[0].Max.Equal(decimal.NewFromInt(300)))
}
