package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/api/dto"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/service"
)

type EventsHandler struct {
	eventService service.EventService
}

func NewEventsHandler(eventService service.EventService) *EventsHandler {
	return &EventsHandler{eventService: eventService}
}

// IngestEvent godoc
// @Summary Ingest a usage event
// @Description Accepts one usage event for the authenticated tenant and acknowledges it
// @Tags Events
// @Accept json
// @Produce json
// @Param event body dto.IngestEventRequest true "Event to ingest"
// @Success 202 {object} dto.IngestEventResponse
// @Router /events [post]
func (h *EventsHandler) IngestEvent(c *gin.Context) {
	var req dto.IngestEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid event payload").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.eventService.IngestEvent(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

// BulkIngestEvents godoc
// @Summary Ingest a batch of usage events
// @Description Accepts up to the configured batch size of events and acknowledges each in order
// @Tags Events
// @Accept json
// @Produce json
// @Param events body dto.BulkIngestEventsRequest true "Events to ingest"
// @Success 202 {object} dto.BulkIngestEventsResponse
// @Router /events/batch [post]
func (h *EventsHandler) BulkIngestEvents(c *gin.Context) {
	var req dto.BulkIngestEventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid events payload").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.eventService.BulkIngestEvents(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

// GetUsage godoc
// @Summary Get bucketed usage for a metric
// @Tags Events
// @Produce json
// @Success 200 {object} dto.GetUsageResponse
// @Router /events/usage [post]
func (h *EventsHandler) GetUsage(c *gin.Context) {
	var req dto.GetUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid usage query").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.eventService.GetUsage(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetRawEvents godoc
// @Summary List raw events for audit and debugging
// @Tags Events
// @Produce json
// @Success 200 {object} dto.GetEventsResponse
// @Router /events/query [post]
func (h *EventsHandler) GetRawEvents(c *gin.Context) {
	var req dto.GetEventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid events query").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.eventService.GetRawEvents(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
