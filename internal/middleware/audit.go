package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/docvault-api/internal/service"
)

// AuditContext attaches the client address and user agent to the request
// context so audit records written by services can carry them.
func AuditContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := service.WithRequestMeta(c.Request.Context(), service.RequestMeta{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
