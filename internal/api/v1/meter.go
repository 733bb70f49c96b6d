package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/api/dto"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/service"
)

type MeterHandler struct {
	meterService service.MeterService
}

func NewMeterHandler(meterService service.MeterService) *MeterHandler {
	return &MeterHandler{meterService: meterService}
}

// CreateMeter godoc
// @Summary Register a meter
// @Tags Meters
// @Accept json
// @Produce json
// @Param meter body dto.CreateMeterRequest true "Meter to register"
// @Success 201 {object} dto.MeterResponse
// @Router /meters [post]
func (h *MeterHandler) CreateMeter(c *gin.Context) {
	var req dto.CreateMeterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid meter payload").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.meterService.CreateMeter(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// GetMeter godoc
// @Summary Get a meter by id
// @Tags Meters
// @Produce json
// @Param id path string true "Meter ID"
// @Success 200 {object} dto.MeterResponse
// @Router /meters/{id} [get]
func (h *MeterHandler) GetMeter(c *gin.Context) {
	resp, err := h.meterService.GetMeter(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListMeters godoc
// @Summary List the tenant's meters
// @Tags Meters
// @Produce json
// @Success 200 {object} dto.ListMetersResponse
// @Router /meters [get]
func (h *MeterHandler) ListMeters(c *gin.Context) {
	resp, err := h.meterService.ListMeters(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// DisableMeter godoc
// @Summary Disable a meter
// @Description Events for a disabled meter's metric are rejected at ingestion
// @Tags Meters
// @Param id path string true "Meter ID"
// @Success 204
// @Router /meters/{id} [delete]
func (h *MeterHandler) DisableMeter(c *gin.Context) {
	if err := h.meterService.DisableMeter(c.Request.Context(), c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
