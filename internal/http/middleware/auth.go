package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/srleom/miniclue/internal/http/response"
	"github.com/srleom/miniclue/internal/platform/apierr"
	"github.com/srleom/miniclue/internal/platform/logger"
	"github.com/srleom/miniclue/internal/services"
)

// PushAuth verifies the bearer token on push deliveries. The audience is the
// public URL the bus pushed to. A nil verifier disables the check.
func PushAuth(log *logger.Logger, verifier services.PushVerifier, baseURL string) gin.HandlerFunc {
	if verifier == nil {
		return func(c *gin.Context) { c.Next() }
	}
	baseURL = strings.TrimRight(baseURL, "/")
	log = log.With("middleware", "PushAuth")
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			log.Warn("Push request without bearer token", "path", c.Request.URL.Path)
			abort(c, apierr.Unauthorized(errors.New("missing or malformed authorization header")))
			return
		}
		if err := verifier.Verify(c.Request.Context(), token, baseURL+c.Request.URL.Path); err != nil {
			log.Warn("Push token rejected", "path", c.Request.URL.Path, "error", err)
			abort(c, err)
			return
		}
		c.Next()
	}
}

// RequireAPIToken guards the operational API with a static bearer token. An
// empty token disables the check.
func RequireAPIToken(token string) gin.HandlerFunc {
	if token == "" {
		return func(c *gin.Context) { c.Next() }
	}
	want := []byte(token)
	return func(c *gin.Context) {
		if subtle.ConstantTimeCompare([]byte(bearerToken(c)), want) != 1 {
			abort(c, apierr.Unauthorized(errors.New("missing or invalid token")))
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, err error) {
	var ae *apierr.Error
	if !errors.As(err, &ae) {
		ae = apierr.Unauthorized(err)
	}
	response.RespondError(c, ae.Status, ae.Code, errors.New(http.StatusText(ae.Status)))
	c.Abort()
}

func bearerToken(c *gin.Context) string {
	h := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
