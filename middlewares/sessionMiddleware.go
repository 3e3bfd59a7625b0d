package middlewares

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sinanisler/gumroad-api/config"
	"github.com/sinanisler/gumroad-api/utils"
)

// SessionMiddleware resolves the operator for the request. A token is looked
// up in redis; failing that it is parsed as a signed operator JWT, and
// finally it may match the static OPERATOR_API_TOKEN credential. Requests
// without a token pass through unauthenticated; protected handlers reject
// them.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}

		operator, exists, err := config.GetRedisValue("Token:" + token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		if !exists {
			if claims, err := utils.JwtValidate(token); err == nil && claims.Operator != "" {
				operator = claims.Operator
			} else {
				static := strings.TrimSpace(os.Getenv("OPERATOR_API_TOKEN"))
				if static == "" || subtle.ConstantTimeCompare([]byte(token), []byte(static)) != 1 {
					c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
					c.Abort()
					return
				}
				operator = "operator"
			}
		}

		c.Request = c.Request.WithContext(utils.SetOperatorInContext(c.Request.Context(), operator))
		c.Next()
	}
}
