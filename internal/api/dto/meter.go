package dto

import (
	"context"

	"github.com/meterline/meterline/internal/domain/meter"
	"github.com/meterline/meterline/internal/types"
)

type CreateMeterRequest struct {
	MetricName string `json:"metric_name" validate:"required"`
	Name       string `json:"name" validate:"required"`
	Unit       string `json:"unit"`
}

func (r *CreateMeterRequest) ToMeter(ctx context.Context) *meter.Meter {
	return meter.NewMeter(r.Name, r.MetricName, r.Unit, types.GetTenantID(ctx), types.GetActorID(ctx))
}

type MeterResponse struct {
	*meter.Meter
}

type ListMetersResponse struct {
	Meters []*meter.Meter `json:"meters"`
}
