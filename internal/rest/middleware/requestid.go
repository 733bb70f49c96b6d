package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/types"
)

const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware attaches a request id to the context and echoes it back
// in the response so callers can correlate logs
func RequestIDMiddleware(c *gin.Context) {
	requestID := c.GetHeader(RequestIDHeader)
	if requestID == "" {
		requestID = types.GenerateUUID()
	}

	ctx := context.WithValue(c.Request.Context(), types.CtxRequestID, requestID)
	c.Request = c.Request.WithContext(ctx)
	c.Writer.Header().Set(RequestIDHeader, requestID)
	c.Next()
}
