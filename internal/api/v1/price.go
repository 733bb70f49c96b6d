package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/api/dto"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/service"
)

type PriceHandler struct {
	priceService service.PriceService
}

func NewPriceHandler(priceService service.PriceService) *PriceHandler {
	return &PriceHandler{priceService: priceService}
}

// CreatePricingRule godoc
// @Summary Publish a pricing rule version
// @Description Creates the next version for the plan/metric; existing versions are immutable
// @Tags Pricing
// @Accept json
// @Produce json
// @Param rule body dto.CreatePricingRuleRequest true "Rule to publish"
// @Success 201 {object} dto.PricingRuleResponse
// @Router /pricing-rules [post]
func (h *PriceHandler) CreatePricingRule(c *gin.Context) {
	var req dto.CreatePricingRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid pricing rule payload").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.priceService.CreatePricingRule(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// GetPricingRule godoc
// @Summary Get a pricing rule by id
// @Tags Pricing
// @Produce json
// @Param id path string true "Pricing rule ID"
// @Success 200 {object} dto.PricingRuleResponse
// @Router /pricing-rules/{id} [get]
func (h *PriceHandler) GetPricingRule(c *gin.Context) {
	resp, err := h.priceService.GetPricingRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListPricingRules godoc
// @Summary List all rule versions for a plan, newest first
// @Tags Pricing
// @Produce json
// @Param plan_id query string true "Plan ID"
// @Success 200 {object} dto.ListPricingRulesResponse
// @Router /pricing-rules [get]
func (h *PriceHandler) ListPricingRules(c *gin.Context) {
	planID := c.Query("plan_id")
	if planID == "" {
		c.Error(ierr.NewError("plan_id is required").
			WithHint("Pass plan_id as a query parameter").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.priceService.ListPricingRules(c.Request.Context(), planID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
