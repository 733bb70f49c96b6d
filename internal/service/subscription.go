package service

import (
	"context"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/validator"
)

type SubscriptionService interface {
	CreateSubscription(ctx context.Context, req *dto.CreateSubscriptionRequest) (*dto.SubscriptionResponse, error)
	GetSubscription(ctx context.Context, id string) (*dto.SubscriptionResponse, error)
	GetActiveSubscription(ctx context.Context) (*dto.SubscriptionResponse, error)
}

type subscriptionService struct {
	ServiceParams
}

func NewSubscriptionService(params ServiceParams) SubscriptionService {
	return &subscriptionService{ServiceParams: params}
}

func (s *subscriptionService) CreateSubscription(ctx context.Context, req *dto.CreateSubscriptionRequest) (*dto.SubscriptionResponse, error) {
	if err := validator.ValidateRequest(req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sub := req.ToSubscription(ctx)
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	if err := s.SubscriptionRepo.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return &dto.SubscriptionResponse{Subscription: sub}, nil
}

func (s *subscriptionService) GetSubscription(ctx context.Context, id string) (*dto.SubscriptionResponse, error) {
	sub, err := s.SubscriptionRepo.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.SubscriptionResponse{Subscription: sub}, nil
}

func (s *subscriptionService) GetActiveSubscription(ctx context.Context) (*dto.SubscriptionResponse, error) {
	sub, err := s.SubscriptionRepo.GetActiveSubscription(ctx)
	if err != nil {
		return nil, err
	}
	return &dto.SubscriptionResponse{Subscription: sub}, nil
}
