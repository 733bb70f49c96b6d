package service

import (
	"context"
	"time"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/domain/price"
	"github.com/meterline/meterline/internal/validator"
)

// PriceService manages versioned pricing rules. Publishing a change never
// edits a rule in place; it creates the next version for the plan/metric.
type PriceService interface {
	CreatePricingRule(ctx context.Context, req *dto.CreatePricingRuleRequest) (*dto.PricingRuleResponse, error)
	GetPricingRule(ctx context.Context, id string) (*dto.PricingRuleResponse, error)
	ListPricingRules(ctx context.Context, planID string) (*dto.ListPricingRulesResponse, error)
	ResolveForPeriod(ctx context.Context, planID string, periodStart, periodEnd time.Time) ([]*price.PricingRule, error)
}

type priceService struct {
	ServiceParams
}

func NewPriceService(params ServiceParams) PriceService {
	return &priceService{ServiceParams: params}
}

func (s *priceService) CreatePricingRule(ctx context.Context, req *dto.CreatePricingRuleRequest) (*dto.PricingRuleResponse, error) {
	if err := validator.ValidateRequest(req); err != nil {
		return nil, err
	}

	rule := req.ToPricingRule(ctx)
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := s.PriceRepo.CreatePricingRule(ctx, rule); err != nil {
		return nil, err
	}
	return &dto.PricingRuleResponse{PricingRule: rule}, nil
}

func (s *priceService) GetPricingRule(ctx context.Context, id string) (*dto.PricingRuleResponse, error) {
	rule, err := s.PriceRepo.GetPricingRule(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.PricingRuleResponse{PricingRule: rule}, nil
}

func (s *priceService) ListPricingRules(ctx context.Context, planID string) (*dto.ListPricingRulesResponse, error) {
	rules, err := s.PriceRepo.ListPricingRules(ctx, planID)
	if err != nil {
		return nil, err
	}
	return &dto.ListPricingRulesResponse{PricingRules: rules}, nil
}

func (s *priceService) ResolveForPeriod(ctx context.Context, planID string, periodStart, periodEnd time.Time) ([]*price.PricingRule, error) {
	return s.PriceRepo.ResolveForPeriod(ctx, planID, periodStart, periodEnd)
}
