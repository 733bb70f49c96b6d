package meter

import (
	"fmt"
	"time"

	"github.com/meterline/meterline/internal/types"
)

// Meter registers a known metric. Ingestion rejects events whose metric_name
// has no published meter for the tenant in scope.
type Meter struct {
	// ID is the unique identifier for the meter
	ID string `db:"id" json:"id"`

	// MetricName is the identifier events carry; the primary matching field
	MetricName string `db:"metric_name" json:"metric_name"`

	// Name is the display name of the meter
	Name string `db:"name" json:"name"`

	// Unit is the expected unit for quantities of this metric
	Unit string `db:"unit" json:"unit"`

	types.BaseModel
}

// Validate validates the meter configuration
func (m *Meter) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("id is required")
	}
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if m.MetricName == "" {
		return fmt.Errorf("metric_name is required")
	}
	return nil
}

// NewMeter creates a meter with defaults
func NewMeter(name, metricName, unit, tenantID, createdBy string) *Meter {
	now := time.Now().UTC()
	return &Meter{
		ID:         types.GenerateUUIDWithPrefix(types.UUID_PREFIX_METER),
		Name:       name,
		MetricName: metricName,
		Unit:       unit,
		BaseModel: types.BaseModel{
			TenantID:  tenantID,
			Status:    types.StatusPublished,
			CreatedAt: now,
			UpdatedAt: now,
			CreatedBy: createdBy,
			UpdatedBy: createdBy,
		},
	}
}
