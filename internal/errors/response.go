package errors

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrorDetail is the caller-facing shape of one error
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorResponse is the envelope every error reply uses
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// NewErrorResponse builds the caller-facing response for an error. Hints and
// reportable details surface; internal messages and stack traces do not.
func NewErrorResponse(err error) *ErrorResponse {
	resp := &ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Code:    CodeFromErr(err),
			Message: displayMessage(err),
			Details: reportableDetails(err),
		},
	}
	return resp
}

// CodeFromErr returns the machine-readable code of the sentinel the error is
// marked with
func CodeFromErr(err error) string {
	var internal *InternalError
	if errors.As(err, &internal) {
		return internal.Code
	}
	for sentinel := range statusCodeMap {
		if errors.Is(err, sentinel) {
			if ie, ok := sentinel.(*InternalError); ok {
				return ie.Code
			}
		}
	}
	return ErrCodeSystemError
}

// displayMessage prefers hints over internal error text
func displayMessage(err error) string {
	if hint := errors.FlattenHints(err); hint != "" {
		return hint
	}
	var internal *InternalError
	if errors.As(err, &internal) {
		return internal.Message
	}
	return "an unexpected error occurred"
}

// reportableDetails recovers the structured details attached via
// WithReportableDetails
func reportableDetails(err error) map[string]any {
	var details map[string]any
	for _, payload := range errors.GetAllSafeDetails(err) {
		for _, detail := range payload.SafeDetails {
			raw := strings.TrimPrefix(detail, "__json__:")
			if raw == detail && !strings.HasPrefix(raw, "{") {
				continue
			}
			var decoded map[string]any
			if jsonErr := json.Unmarshal([]byte(raw), &decoded); jsonErr != nil {
				continue
			}
			if details == nil {
				details = make(map[string]any)
			}
			for k, v := range decoded {
				details[k] = v
			}
		}
	}
	return details
}
