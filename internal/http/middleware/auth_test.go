package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/srleom/miniclue/internal/platform/apierr"
	"github.com/srleom/miniclue/internal/platform/logger"
)

type stubVerifier struct{ gotAudience string }

func (s *stubVerifier) Verify(ctx context.Context, token, audience string) error {
	s.gotAudience = audience
	switch token {
	case "good":
		return nil
	case "other-sa":
		return apierr.Forbidden(errors.New("wrong service account"))
	}
	return apierr.Unauthorized(errors.New("bad token"))
}

func serve(h gin.HandlerFunc, method, path, auth string) int {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Handle(method, "/push/:topic", h, func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.Handle(method, "/api/x", h, func(c *gin.Context) { c.Status(http.StatusNoContent) })
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec.Code
}

func TestPushAuth(t *testing.T) {
	v := &stubVerifier{}
	h := PushAuth(logger.Nop(), v, "https://pipeline.example.com/")

	cases := []struct {
		auth string
		want int
	}{
		{"", http.StatusUnauthorized},
		{"Basic abc", http.StatusUnauthorized},
		{"Bearer nope", http.StatusUnauthorized},
		{"Bearer other-sa", http.StatusForbidden},
		{"bearer good", http.StatusNoContent},
	}
	for _, tc := range cases {
		if got := serve(h, http.MethodPost, "/push/summary", tc.auth); got != tc.want {
			t.Fatalf("auth %q: got %d want %d", tc.auth, got, tc.want)
		}
	}
	if v.gotAudience != "https://pipeline.example.com/push/summary" {
		t.Fatalf("audience = %q", v.gotAudience)
	}

	if got := serve(PushAuth(logger.Nop(), nil, ""), http.MethodPost, "/push/summary", ""); got != http.StatusNoContent {
		t.Fatalf("disabled push auth: got %d", got)
	}
}

func TestRequireAPIToken(t *testing.T) {
	h := RequireAPIToken("s3cret")
	if got := serve(h, http.MethodGet, "/api/x", "Bearer s3cret"); got != http.StatusNoContent {
		t.Fatalf("valid token: got %d", got)
	}
	if got := serve(h, http.MethodGet, "/api/x", "Bearer wrong"); got != http.StatusUnauthorized {
		t.Fatalf("wrong token: got %d", got)
	}
	if got := serve(RequireAPIToken(""), http.MethodGet, "/api/x", ""); got != http.StatusNoContent {
		t.Fatalf("disabled: got %d", got)
	}
}
