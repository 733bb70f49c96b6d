package service

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/domain/events"
	"github.com/meterline/meterline/internal/domain/invoice"
	"github.com/meterline/meterline/internal/domain/price"
	"github.com/meterline/meterline/internal/domain/rollup"
	"github.com/meterline/meterline/internal/domain/subscription"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/types"
)

// billingFoldGranularity is the bucket width billing folds usage at. Hour
// buckets subdivide any period boundary the calculator accepts.
const billingFoldGranularity = types.GranularityHour

// BillingService turns metered usage into draft invoices. Charges are
// deterministic: the same ledger, rules and period always produce the same
// line items, and every line item carries the provenance to reproduce itself.
type BillingService interface {
	// RunBilling computes draft invoices for the period across tenants.
	// Per-tenant failures are isolated and reported, never fatal to the run.
	RunBilling(ctx context.Context, req *dto.BillingRunRequest) (*dto.BillingRunResponse, error)

	// ComputeDraftInvoice computes or recomputes the draft invoice for the
	// tenant in scope over the given period
	ComputeDraftInvoice(ctx context.Context, periodStart, periodEnd time.Time) (*invoice.Invoice, error)

	// FinalizeInvoice moves a draft invoice to open. Finalized invoices are
	// append-only; a rerun of the period will not touch them.
	FinalizeInvoice(ctx context.Context, id string) error

	// UpdateInvoiceStatus moves an open invoice to paid or void
	UpdateInvoiceStatus(ctx context.Context, id string, status types.InvoiceStatus) error

	GetInvoice(ctx context.Context, id string) (*dto.InvoiceResponse, error)
	ListInvoices(ctx context.Context, limit int) (*dto.ListInvoicesResponse, error)
}

type billingService struct {
	ServiceParams
	throttle *ThrottleController
}

func NewBillingService(params ServiceParams, throttle *ThrottleController) BillingService {
	return &billingService{ServiceParams: params, throttle: throttle}
}

func (s *billingService) RunBilling(ctx context.Context, req *dto.BillingRunRequest) (*dto.BillingRunResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tenantIDs := req.TenantIDs
	if len(tenantIDs) == 0 {
		ids, err := s.SubscriptionRepo.ListTenantIDsWithActiveSubscriptions(ctx)
		if err != nil {
			return nil, err
		}
		tenantIDs = ids
	}
	sort.Strings(tenantIDs)

	resp := &dto.BillingRunResponse{
		PeriodStart: req.PeriodStart.UTC(),
		PeriodEnd:   req.PeriodEnd.UTC(),
		Results:     make([]dto.TenantBillingResult, 0, len(tenantIDs)),
	}

	for _, tenantID := range tenantIDs {
		result := dto.TenantBillingResult{TenantID: tenantID, AmountDue: decimal.Zero}

		err := types.WithTenant(ctx, tenantID, func(ctx context.Context) error {
			inv, err := s.ComputeDraftInvoice(ctx, req.PeriodStart, req.PeriodEnd)
			if err != nil {
				return err
			}
			result.InvoiceID = inv.ID
			result.AmountDue = inv.AmountDue
			return nil
		})
		if err != nil {
			result.Error = err.Error()
			resp.Failed++
			s.Logger.Errorw("billing run failed for tenant",
				"tenant_id", tenantID,
				"period_start", req.PeriodStart,
				"error", err,
			)
		} else {
			resp.Succeeded++
		}
		resp.Results = append(resp.Results, result)
	}

	s.Logger.Infow("billing run complete",
		"period_start", req.PeriodStart,
		"period_end", req.PeriodEnd,
		"succeeded", resp.Succeeded,
		"failed", resp.Failed,
	)
	return resp, nil
}

func (s *billingService) ComputeDraftInvoice(ctx context.Context, periodStart, periodEnd time.Time) (*invoice.Invoice, error) {
	if err := types.ValidateTenantContext(ctx); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Billing requires tenant scope").
			Mark(ierr.ErrPermissionDenied)
	}
	periodStart = periodStart.UTC()
	periodEnd = periodEnd.UTC()

	sub, err := s.SubscriptionRepo.GetActiveSubscription(ctx)
	if err != nil {
		return nil, err
	}
	if !sub.SubscriptionStatus.IsBillable() {
		return nil, ierr.NewError("subscription is not billable").
			WithHintf("Subscription %s is %s", sub.ID, sub.SubscriptionStatus).
			Mark(ierr.ErrInvalidOperation)
	}

	rules, err := s.PriceRepo.ResolveForPeriod(ctx, sub.PlanID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, ierr.NewError("no pricing rules cover the billing period").
			WithHintf("Plan %s has no rule effective over the whole period", sub.PlanID).
			WithReportableDetails(map[string]any{
				"plan_id":      sub.PlanID,
				"period_start": periodStart,
				"period_end":   periodEnd,
			}).
			Mark(ierr.ErrPricingResolution)
	}

	// Line items are ordered by metric name so reruns produce identical output
	sort.Slice(rules, func(i, j int) bool { return rules[i].MetricName < rules[j].MetricName })

	lineItems := make([]*invoice.LineItem, 0, len(rules))
	amountDue := decimal.Zero
	for _, rule := range rules {
		item, err := s.computeLineItem(ctx, rule, periodStart, periodEnd)
		if err != nil {
			return nil, err
		}
		lineItems = append(lineItems, item)
		amountDue = amountDue.Add(item.Amount)
	}

	return s.writeDraft(ctx, sub, periodStart, periodEnd, lineItems, amountDue)
}

// computeLineItem folds the period's usage for one rule and applies its
// overage policy. The fold goes to the raw ledger, never the read cache, so a
// lagging rollup can not understate a charge.
func (s *billingService) computeLineItem(ctx context.Context, rule *price.PricingRule, periodStart, periodEnd time.Time) (*invoice.LineItem, error) {
	tenantID := types.GetTenantID(ctx)

	aggregates, err := s.EventRepo.GetBucketAggregates(ctx, &events.BucketAggregateParams{
		TenantID:       tenantID,
		MetricName:     rule.MetricName,
		Granularity:    billingFoldGranularity,
		StartTime:      periodStart,
		EndTime:        periodEnd,
		RecordedBefore: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	quantity := decimal.Zero
	bucketKeys := make([]string, 0, len(aggregates))
	for _, agg := range aggregates {
		quantity = quantity.Add(agg.Sum)
		bucketKeys = append(bucketKeys, rollup.Key(tenantID, rule.MetricName, billingFoldGranularity, agg.BucketStart))
	}
	sort.Strings(bucketKeys)

	// Identity is assigned by writeDraft once the target invoice is known
	item := &invoice.LineItem{
		MetricName:         rule.MetricName,
		Quantity:           quantity,
		IncludedQuantity:   rule.IncludedQuantity,
		BillableQuantity:   decimal.Zero,
		UnitPrice:          rule.UnitPrice,
		Amount:             decimal.Zero,
		PricingRuleID:      rule.ID,
		PricingRuleVersion: rule.Version,
		BucketKeys:         bucketKeys,
		BaseModel:          types.GetDefaultBaseModel(ctx),
	}

	overage := quantity.Sub(rule.IncludedQuantity)
	if overage.IsNegative() {
		overage = decimal.Zero
	}

	switch rule.OveragePolicy {
	case types.OverageBill:
		item.BillableQuantity = overage
		item.Amount = overage.Mul(rule.UnitPrice)
	case types.OverageBlock:
		if overage.IsPositive() {
			item.LimitExceeded = true
		}
	case types.OverageThrottle:
		if overage.IsPositive() {
			s.throttle.Activate(tenantID, rule.MetricName)
		} else {
			s.throttle.Deactivate(tenantID, rule.MetricName)
		}
	}

	return item, nil
}

// writeDraft creates the period's draft invoice or replaces an existing one.
// A finalized invoice for the period is left untouched and reported as a
// conflict by the repository.
func (s *billingService) writeDraft(ctx context.Context, sub *subscription.Subscription, periodStart, periodEnd time.Time, lineItems []*invoice.LineItem, amountDue decimal.Decimal) (*invoice.Invoice, error) {
	existing, err := s.InvoiceRepo.GetDraftForPeriod(ctx, sub.ID, periodStart, periodEnd)
	if err != nil && !ierr.IsNotFound(err) {
		return nil, err
	}

	if existing != nil {
		existing.AmountDue = amountDue
		existing.LineItems = lineItems
		bindLineItems(existing, lineItems)
		existing.UpdatedAt = time.Now().UTC()
		existing.UpdatedBy = types.GetActorID(ctx)
		if err := s.InvoiceRepo.ReplaceDraft(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	inv := invoice.NewInvoice(sub.ID, sub.PlanID, types.GetTenantID(ctx), types.GetActorID(ctx), periodStart, periodEnd)
	inv.AmountDue = amountDue
	inv.LineItems = lineItems
	bindLineItems(inv, lineItems)
	if err := s.InvoiceRepo.CreateInvoice(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// bindLineItems attaches line items to their invoice. Identity derives from
// the invoice and the item's pricing provenance, so recomputing the same
// draft reproduces ids byte for byte while a fresh invoice gets fresh ones.
func bindLineItems(inv *invoice.Invoice, lineItems []*invoice.LineItem) {
	for _, item := range lineItems {
		item.InvoiceID = inv.ID
		item.ID = types.GenerateDeterministicID(types.UUID_PREFIX_INVOICE_LINE_ITEM,
			inv.ID, item.PricingRuleID, strconv.Itoa(item.PricingRuleVersion), item.MetricName)
	}
}

func (s *billingService) FinalizeInvoice(ctx context.Context, id string) error {
	return s.InvoiceRepo.UpdateInvoiceStatus(ctx, id,
		string(types.InvoiceStatusDraft), string(types.InvoiceStatusOpen))
}

func (s *billingService) UpdateInvoiceStatus(ctx context.Context, id string, status types.InvoiceStatus) error {
	switch status {
	case types.InvoiceStatusOpen:
		return s.FinalizeInvoice(ctx, id)
	case types.InvoiceStatusPaid, types.InvoiceStatusVoid:
		return s.InvoiceRepo.UpdateInvoiceStatus(ctx, id,
			string(types.InvoiceStatusOpen), string(status))
	default:
		return ierr.NewError("invalid invoice status transition").
			WithHintf("Invoices cannot be moved to %s", status).
			Mark(ierr.ErrInvalidOperation)
	}
}

func (s *billingService) GetInvoice(ctx context.Context, id string) (*dto.InvoiceResponse, error) {
	inv, err := s.InvoiceRepo.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.InvoiceResponse{Invoice: inv}, nil
}

func (s *billingService) ListInvoices(ctx context.Context, limit int) (*dto.ListInvoicesResponse, error) {
	invoices, err := s.InvoiceRepo.ListInvoices(ctx, limit)
	if err != nil {
		return nil, err
	}
	return &dto.ListInvoicesResponse{Invoices: invoices}, nil
}
