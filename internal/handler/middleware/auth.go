package middleware

import (
	"github.com/dmehra2102/prod-golang-projects/medvision/pkg/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Authenticate attaches the bearer token's identity to the request context when the token
// is valid. It never rejects: routes decide what an anonymous caller may do, and
// attribution falls back to the DoctorResolver.
func Authenticate(tokens *auth.JWTManager, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.Request)
		if token == "" {
			c.Next()
			return
		}

		claims, err := tokens.ValidateAccessToken(token)
		if err != nil {
			log.Debug("ignoring unusable bearer token",
				zap.Error(err),
				zap.String("request_id", RequestIDFrom(c)),
			)
			c.Next()
			return
		}

		c.Request = c.Request.WithContext(auth.WithClaims(c.Request.Context(), claims))
		c.Next()
	}
}
