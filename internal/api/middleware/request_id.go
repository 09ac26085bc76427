package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/splitlease/proposal-sync/pkg/telemetry/correlation"
)

const RequestIDHeader = "X-Request-ID"

// RequestID tags every request with an ID, echoed in the response. A valid
// caller-supplied correlation ID is carried on the request context for logs.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(RequestIDHeader, requestID)

		if cid := strings.TrimSpace(c.GetHeader(correlation.Header)); correlation.Valid(cid) {
			c.Request = c.Request.WithContext(correlation.WithID(c.Request.Context(), cid))
			c.Header(correlation.Header, cid)
		}

		c.Next()
	}
}
