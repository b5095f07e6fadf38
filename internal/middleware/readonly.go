package middleware

import (
	"net/http"

	"github.com/GoPolymarket/relaygate/internal/pkg/apperrors"
	"github.com/gin-gonic/gin"
)

// ReadOnlyMiddleware rejects every method that could change state. The ops
// API only ever reads the order store.
func ReadOnlyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
		default:
			c.Error(apperrors.New(apperrors.ErrInvalidRequest, "the ops API is read-only", nil))
			c.Abort()
		}
	}
}
