package errors

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusFromErr(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{NewError("x").Mark(ErrNotFound), http.StatusNotFound},
		{NewError("x").Mark(ErrValidation), http.StatusBadRequest},
		{NewError("x").Mark(ErrScopeViolation), http.StatusForbidden},
		{NewError("x").Mark(ErrPermissionDenied), http.StatusForbidden},
		{NewError("x").Mark(ErrThrottled), http.StatusTooManyRequests},
		{NewError("x").Mark(ErrPricingResolution), http.StatusUnprocessableEntity},
		{NewError("x").Mark(ErrAggregationDrift), http.StatusInternalServerError},
		{NewError("plain").Err(), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.status, HTTPStatusFromErr(tc.err))
	}
}

func TestBuilderMarksSentinel(t *testing.T) {
	err := NewError("bucket not found").
		WithHint("No bucket exists for that key").
		Mark(ErrNotFound)

	assert.True(t, IsNotFound(err))
	assert.False(t, IsValidation(err))
}

func TestErrorResponseSurfacesHintAndDetails(t *testing.T) {
	err := NewError("internal detail").
		WithHint("Usage quantity cannot be negative").
		WithReportableDetails(map[string]any{"quantity": "-5"}).
		Mark(ErrValidation)

	resp := NewErrorResponse(err)

	assert.False(t, resp.Success)
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "Usage quantity cannot be negative")
	assert.Equal(t, "-5", resp.Error.Details["quantity"])
}
