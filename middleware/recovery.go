package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/AnTengye/cerfaflow/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Recovery turns a panic into a 500 carrying the request id. When the
// handler already started writing (a PDF download), the connection is only
// aborted since a JSON body can no longer be sent.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			written := c.Writer.Written()
			logger.Error(c.Request.Context(), "panic recovered",
				"panic", rec,
				"method", c.Request.Method,
				"route", routeOf(c),
				"response_started", written,
				"stack", string(debug.Stack()),
			)

			if written {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":      "Internal server error",
				"request_id": GetRequestID(c),
			})
		}()

		c.Next()
	}
}
