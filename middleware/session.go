package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	CartSessionCookie  = "cart_session"
	ContextCartSession = "cart_session"
)

// CartSession makes sure every request carries a cart session id, issuing a
// new cookie when the browser has none or sends a malformed one.
func CartSession(maxAge int, secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid, err := c.Cookie(CartSessionCookie)
		if err != nil || uuid.Validate(sid) != nil {
			sid = uuid.NewString()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(CartSessionCookie, sid, maxAge, "/", "", secure, true)
		}
		c.Set(ContextCartSession, sid)
		c.Next()
	}
}
