package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mediavault/internal/pkg/response"
)

// multipartOverhead covers boundaries and form fields around the file.
const multipartOverhead = 1 << 20

// BodyLimit caps request bodies at maxFile plus room for multipart framing.
// Requests that declare a larger Content-Length are refused up front.
func BodyLimit(maxFile int64) gin.HandlerFunc {
	limit := maxFile + multipartOverhead
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			c.Header("Connection", "close")
			response.Abort(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "request body exceeds the upload limit")
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
