package v1

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/api/dto"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/service"
	"github.com/meterline/meterline/internal/types"
)

type BillingHandler struct {
	billingService service.BillingService
}

func NewBillingHandler(billingService service.BillingService) *BillingHandler {
	return &BillingHandler{billingService: billingService}
}

// RunBilling godoc
// @Summary Trigger a billing run for a period
// @Tags Billing
// @Accept json
// @Produce json
// @Param run body dto.BillingRunRequest true "Billing period"
// @Success 200 {object} dto.BillingRunResponse
// @Router /billing/runs [post]
func (h *BillingHandler) RunBilling(c *gin.Context) {
	var req dto.BillingRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid billing run request").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.billingService.RunBilling(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetInvoice godoc
// @Summary Get an invoice with its line items
// @Tags Billing
// @Produce json
// @Param id path string true "Invoice ID"
// @Success 200 {object} dto.InvoiceResponse
// @Router /invoices/{id} [get]
func (h *BillingHandler) GetInvoice(c *gin.Context) {
	resp, err := h.billingService.GetInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListInvoices godoc
// @Summary List the tenant's invoices
// @Tags Billing
// @Produce json
// @Success 200 {object} dto.ListInvoicesResponse
// @Router /invoices [get]
func (h *BillingHandler) ListInvoices(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.Error(ierr.NewError("invalid limit").
				WithHint("limit must be an integer").
				Mark(ierr.ErrValidation))
			return
		}
		limit = parsed
	}

	resp, err := h.billingService.ListInvoices(c.Request.Context(), limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// UpdateInvoiceStatus godoc
// @Summary Move an invoice through its lifecycle
// @Description draft to open, open to paid or void. Finalized invoices are append-only.
// @Tags Billing
// @Accept json
// @Produce json
// @Param id path string true "Invoice ID"
// @Param status body dto.UpdateInvoiceStatusRequest true "Target status"
// @Success 200 {object} dto.InvoiceResponse
// @Router /invoices/{id}/status [put]
func (h *BillingHandler) UpdateInvoiceStatus(c *gin.Context) {
	var req dto.UpdateInvoiceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid status payload").
			Mark(ierr.ErrValidation))
		return
	}

	id := c.Param("id")
	if err := h.billingService.UpdateInvoiceStatus(c.Request.Context(), id, types.InvoiceStatus(req.Status)); err != nil {
		c.Error(err)
		return
	}

	resp, err := h.billingService.GetInvoice(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
