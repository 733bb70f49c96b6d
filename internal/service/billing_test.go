package service_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/domain/events"
	"github.com/meterline/meterline/internal/domain/price"
	"github.com/meterline/meterline/internal/domain/subscription"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/service"
	"github.com/meterline/meterline/internal/testutil"
	"github.com/meterline/meterline/internal/types"
)

type BillingServiceSuite struct {
	testutil.BaseServiceSuite
	service  service.BillingService
	throttle *service.ThrottleController

	periodStart time.Time
	periodEnd   time.Time
}

func TestBillingServiceSuite(t *testing.T) {
	suite.Run(t, new(BillingServiceSuite))
}

func (s *BillingServiceSuite) SetupTest() {
	s.BaseServiceSuite.SetupTest()
	s.throttle = service.NewThrottleController(s.GetConfig(), s.GetLogger())
	s.service = service.NewBillingService(s.GetParams(), s.throttle)
	s.periodStart = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s.periodEnd = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
}

func (s *BillingServiceSuite) setupTenant(tenantID, metricName string, unitPrice, included decimal.Decimal, policy types.OveragePolicy) *subscription.Subscription {
	ctx := testutil.SetupContextForTenant(tenantID)

	sub := subscription.NewSubscription("plan-pro", tenantID, types.DefaultActorID, s.periodStart, s.periodEnd)
	s.NoError(s.GetStores().Subscriptions.CreateSubscription(ctx, sub))

	rule := price.NewPricingRule("plan-pro", metricName, tenantID, types.DefaultActorID)
	rule.UnitPrice = unitPrice
	rule.IncludedQuantity = included
	rule.OveragePolicy = policy
	rule.EffectiveFrom = s.periodStart.Add(-24 * time.Hour)
	s.NoError(s.GetStores().Prices.CreatePricingRule(ctx, rule))

	return sub
}

func (s *BillingServiceSuite) recordUsage(tenantID, metricName string, total int64, parts int) {
	ctx := testutil.SetupContextForTenant(tenantID)
	each := total / int64(parts)
	for i := 0; i < parts; i++ {
		event := events.NewUsageEvent(tenantID, metricName,
			decimal.NewFromInt(each), "requests",
			s.periodStart.Add(time.Duration(i+1)*24*time.Hour), "", "", "test")
		s.NoError(s.GetStores().Events.BulkInsertEvents(ctx, []*events.UsageEvent{event}))
	}
}

func (s *BillingServiceSuite) TestOverageBilling() {
	s.setupTenant("tenant-a", "api_calls",
		decimal.NewFromFloat(0.01), decimal.NewFromInt(1000), types.OverageBill)
	s.recordUsage("tenant-a", "api_calls", 1500, 3)

	ctx := testutil.SetupContextForTenant("tenant-a")
	inv, err := s.service.ComputeDraftInvoice(ctx, s.periodStart, s.periodEnd)
	s.NoError(err)

	s.Equal(types.InvoiceStatusDraft, inv.InvoiceStatus)
	s.Len(inv.LineItems, 1)

	item := inv.LineItems[0]
	s.True(item.Quantity.Equal(decimal.NewFromInt(1500)))
	s.True(item.BillableQuantity.Equal(decimal.NewFromInt(500)))
	s.True(item.Amount.Equal(decimal.NewFromInt(5)), "expected 5.00, got %s", item.Amount)
	s.True(inv.AmountDue.Equal(decimal.NewFromInt(5)))
	s.False(item.LimitExceeded)
	s.Equal(1, item.PricingRuleVersion)
	s.NotEmpty(item.BucketKeys)
}

func (s *BillingServiceSuite) TestUsageWithinIncludedQuantityIsFree() {
	s.setupTenant("tenant-a", "api_calls",
		decimal.NewFromFloat(0.01), decimal.NewFromInt(1000), types.OverageBill)
	s.recordUsage("tenant-a", "api_calls", 900, 3)

	ctx := testutil.SetupContextForTenant("tenant-a")
	inv, err := s.service.ComputeDraftInvoice(ctx, s.periodStart, s.periodEnd)
	s.NoError(err)
	s.True(inv.AmountDue.IsZero())
	s.True(inv.LineItems[0].BillableQuantity.IsZero())
}

func (s *BillingServiceSuite) TestBlockPolicyRaisesLimitExceeded() {
	s.setupTenant("tenant-a", "api_calls",
		decimal.NewFromFloat(0.01), decimal.NewFromInt(1000), types.OverageBlock)
	s.recordUsage("tenant-a", "api_calls", 1500, 3)

	ctx := testutil.SetupContextForTenant("tenant-a")
	inv, err := s.service.ComputeDraftInvoice(ctx, s.periodStart, s.periodEnd)
	s.NoError(err)

	item := inv.LineItems[0]
	s.True(item.LimitExceeded)
	s.True(item.Amount.IsZero())
	s.True(inv.AmountDue.IsZero())
}

func (s *BillingServiceSuite) TestThrottlePolicySignalsIngestion() {
	s.setupTenant("tenant-a", "api_calls",
		decimal.NewFromFloat(0.01), decimal.NewFromInt(1000), types.OverageThrottle)
	s.recordUsage("tenant-a", "api_calls", 1500, 3)

	ctx := testutil.SetupContextForTenant("tenant-a")
	_, err := s.service.ComputeDraftInvoice(ctx, s.periodStart, s.periodEnd)
	s.NoError(err)
	s.True(s.throttle.Active("tenant-a", "api_calls"))

	// Dropping back under the limit clears the signal on the next run
	s.GetStores().Events.DropPartition(ctx, s.periodStart.Add(24*time.Hour).Format("20060102"))
	s.GetStores().Events.DropPartition(ctx, s.periodStart.Add(48*time.Hour).Format("20060102"))
	_, err = s.service.ComputeDraftInvoice(ctx, s.periodStart, s.periodEnd)
	s.NoError(err)
	s.False(s.throttle.Active("tenant-a", "api_calls"))
}

func (s *BillingServiceSuite) TestRerunReplacesDraftDeterministically() {
	s.setupTenant("tenant-a", "api_calls",
		decimal.NewFromFloat(0.01), decimal.NewFromInt(1000), types.OverageBill)
	s.recordUsage("tenant-a", "api_calls", 1500, 3)

	ctx := testutil.SetupContextForTenant("tenant-a")
	first, err := s.service.ComputeDraftInvoice(ctx, s.periodStart, s.periodEnd)
	s.NoError(err)

	second, err := s.service.ComputeDraftInvoice(ctx, s.periodStart, s.periodEnd)
	s.NoError(err)

	s.Equal(first.ID, second.ID)
	s.Equal(first.InvoiceNumber, second.InvoiceNumber)
	s.True(first.AmountDue.Equal(second.AmountDue))
	s.Len(second.LineItems, len(first.LineItems))
	s.Equal(first.LineItems[0].ID, second.LineItems[0].ID)
	s.Equal(first.LineItems[0].BucketKeys, second.LineItems[0].BucketKeys)
}

func (s *BillingServiceSuite) TestFinalizedInvoiceIsNotReplaced() {
	s.setupTenant("tenant-a", "api_calls",
		decimal.NewFromFloat(0.01), decimal.NewFromInt(1000), types.OverageBill)
	s.recordUsage("tenant-a", "api_calls", 1500, 3)

	ctx := testutil.SetupContextForTenant("tenant-a")
	inv, err := s.service.ComputeDraftInvoice(ctx, s.periodStart, s.periodEnd)
	s.NoError(err)
	s.NoError(s.service.FinalizeInvoice(ctx, inv.ID))

	// A rerun leaves the open invoice untouched and drafts anew
	rerun, err := s.service.ComputeDraftInvoice(ctx, s.periodStart, s.periodEnd)
	s.NoError(err)
	s.NotEqual(inv.ID, rerun.ID)

	stored, err := s.GetStores().Invoices.GetInvoice(ctx, inv.ID)
	s.NoError(err)
	s.Equal(types.InvoiceStatusOpen, stored.InvoiceStatus)
	s.True(stored.AmountDue.Equal(decimal.NewFromInt(5)))
}

func (s *BillingServiceSuite) TestInvoiceStatusTransitions() {
	s.setupTenant("tenant-a", "api_calls",
		decimal.NewFromFloat(0.01), decimal.NewFromInt(1000), types.OverageBill)
	s.recordUsage("tenant-a", "api_calls", 1500, 3)

	ctx := testutil.SetupContextForTenant("tenant-a")
	inv, err := s.service.ComputeDraftInvoice(ctx, s.periodStart, s.periodEnd)
	s.NoError(err)

	// paid requires open first
	err = s.service.UpdateInvoiceStatus(ctx, inv.ID, types.InvoiceStatusPaid)
	s.Error(err)

	s.NoError(s.service.FinalizeInvoice(ctx, inv.ID))
	s.NoError(s.service.UpdateInvoiceStatus(ctx, inv.ID, types.InvoiceStatusPaid))

	stored, err := s.GetStores().Invoices.GetInvoice(ctx, inv.ID)
	s.NoError(err)
	s.Equal(types.InvoiceStatusPaid, stored.InvoiceStatus)
}

func (s *BillingServiceSuite) TestMissingPricingRuleHaltsTenant() {
	ctx := testutil.SetupContextForTenant("tenant-a")
	sub := subscription.NewSubscription("plan-pro", "tenant-a", types.DefaultActorID, s.periodStart, s.periodEnd)
	s.NoError(s.GetStores().Subscriptions.CreateSubscription(ctx, sub))

	_, err := s.service.ComputeDraftInvoice(ctx, s.periodStart, s.periodEnd)
	s.Error(err)
	s.True(ierr.IsPricingResolution(err))
}

func (s *BillingServiceSuite) TestRunBillingIsolatesTenantFailures() {
	s.setupTenant("tenant-a", "api_calls",
		decimal.NewFromFloat(0.01), decimal.NewFromInt(1000), types.OverageBill)
	s.recordUsage("tenant-a", "api_calls", 1500, 3)

	// tenant-b has a subscription but no pricing rules
	ctxB := testutil.SetupContextForTenant("tenant-b")
	subB := subscription.NewSubscription("plan-pro", "tenant-b", types.DefaultActorID, s.periodStart, s.periodEnd)
	s.NoError(s.GetStores().Subscriptions.CreateSubscription(ctxB, subB))

	resp, err := s.service.RunBilling(s.GetContext(), &dto.BillingRunRequest{
		PeriodStart: s.periodStart,
		PeriodEnd:   s.periodEnd,
	})
	s.NoError(err)
	s.Equal(1, resp.Succeeded)
	s.Equal(1, resp.Failed)
	s.Len(resp.Results, 2)

	s.Equal("tenant-a", resp.Results[0].TenantID)
	s.Empty(resp.Results[0].Error)
	s.True(resp.Results[0].AmountDue.Equal(decimal.NewFromInt(5)))

	s.Equal("tenant-b", resp.Results[1].TenantID)
	s.NotEmpty(resp.Results[1].Error)
}
