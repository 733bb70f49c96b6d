package middleware

import (
	"github.com/gin-gonic/gin"

	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
)

// ErrorHandler converts errors attached to the gin context into the uniform
// error envelope. Handlers call c.Error(err) and return; status mapping and
// shaping happen here.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status := ierr.HTTPStatusFromErr(err)

		if status >= 500 {
			log.Errorw("request failed",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"status", status,
				"error", err,
			)
		} else {
			log.Debugw("request rejected",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"status", status,
				"error", err,
			)
		}

		c.JSON(status, ierr.NewErrorResponse(err))
	}
}
