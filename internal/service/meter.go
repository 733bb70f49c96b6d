package service

import (
	"context"

	"github.com/meterline/meterline/internal/api/dto"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/validator"
)

// MeterService manages the meter catalog. Ingestion consults it to reject
// events for unregistered metrics.
type MeterService interface {
	CreateMeter(ctx context.Context, req *dto.CreateMeterRequest) (*dto.MeterResponse, error)
	GetMeter(ctx context.Context, id string) (*dto.MeterResponse, error)
	ListMeters(ctx context.Context) (*dto.ListMetersResponse, error)
	DisableMeter(ctx context.Context, id string) error
}

type meterService struct {
	ServiceParams
}

func NewMeterService(params ServiceParams) MeterService {
	return &meterService{ServiceParams: params}
}

func (s *meterService) CreateMeter(ctx context.Context, req *dto.CreateMeterRequest) (*dto.MeterResponse, error) {
	if err := validator.ValidateRequest(req); err != nil {
		return nil, err
	}

	if existing, err := s.MeterRepo.GetMeterByMetricName(ctx, req.MetricName); err == nil {
		return nil, ierr.NewError("meter already exists for metric").
			WithHintf("Metric %s is already registered as meter %s", req.MetricName, existing.ID).
			Mark(ierr.ErrAlreadyExists)
	} else if !ierr.IsNotFound(err) {
		return nil, err
	}

	m := req.ToMeter(ctx)
	if err := s.MeterRepo.CreateMeter(ctx, m); err != nil {
		return nil, err
	}
	return &dto.MeterResponse{Meter: m}, nil
}

func (s *meterService) GetMeter(ctx context.Context, id string) (*dto.MeterResponse, error) {
	m, err := s.MeterRepo.GetMeter(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.MeterResponse{Meter: m}, nil
}

func (s *meterService) ListMeters(ctx context.Context) (*dto.ListMetersResponse, error) {
	meters, err := s.MeterRepo.ListMeters(ctx)
	if err != nil {
		return nil, err
	}
	return &dto.ListMetersResponse{Meters: meters}, nil
}

func (s *meterService) DisableMeter(ctx context.Context, id string) error {
	if id == "" {
		return ierr.NewError("id is required").
			WithHint("Provide the meter id to disable").
			Mark(ierr.ErrValidation)
	}
	return s.MeterRepo.DisableMeter(ctx, id)
}
