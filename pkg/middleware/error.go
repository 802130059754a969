package middleware

import (
	"net/http"

	"license-controlplane/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Error renders the last error attached to the gin context as the JSON
// error envelope, mapping the CoreStatus onto the HTTP status code.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		err := c.Errors.Last()
		if err == nil || c.Writer.Written() {
			return
		}

		if v, ok := err.Err.(errutil.BaseError); ok {
			c.JSON(v.Code.HTTPStatus(), v)
			return
		}

		c.JSON(http.StatusInternalServerError, errutil.Internal("internal server error", err.Err))
	}
}
