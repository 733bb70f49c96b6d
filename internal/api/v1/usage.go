package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/api/dto"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/service"
	"github.com/meterline/meterline/internal/types"
)

type UsageHandler struct {
	eventService service.EventService
}

func NewUsageHandler(eventService service.EventService) *UsageHandler {
	return &UsageHandler{eventService: eventService}
}

// GetUsageSummary godoc
// @Summary Get bucketed usage for a metric over a time range
// @Tags Usage
// @Produce json
// @Param metric_name query string true "Metric name"
// @Param granularity query string true "MINUTE, HOUR or DAY"
// @Param start_time query string true "RFC3339 start of range"
// @Param end_time query string true "RFC3339 end of range"
// @Param fresh query bool false "Bypass the rollup store and fold raw events"
// @Success 200 {object} dto.GetUsageResponse
// @Router /usage/summary [get]
func (h *UsageHandler) GetUsageSummary(c *gin.Context) {
	req, err := usageRequestFromQuery(c)
	if err != nil {
		c.Error(err)
		return
	}

	resp, err := h.eventService.GetUsage(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func usageRequestFromQuery(c *gin.Context) (*dto.GetUsageRequest, error) {
	startTime, err := time.Parse(time.RFC3339, c.Query("start_time"))
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("start_time must be RFC3339").
			Mark(ierr.ErrValidation)
	}
	endTime, err := time.Parse(time.RFC3339, c.Query("end_time"))
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("end_time must be RFC3339").
			Mark(ierr.ErrValidation)
	}

	return &dto.GetUsageRequest{
		MetricName:  c.Query("metric_name"),
		Granularity: types.BucketGranularity(c.Query("granularity")),
		StartTime:   startTime,
		EndTime:     endTime,
		Fresh:       c.Query("fresh") == "true",
	}, nil
}
