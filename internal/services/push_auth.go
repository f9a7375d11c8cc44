package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/api/idtoken"

	"github.com/srleom/miniclue/internal/platform/apierr"
)

// PushVerifier authenticates a push delivery's bearer token against the
// endpoint URL it was sent to.
type PushVerifier interface {
	Verify(ctx context.Context, token, audience string) error
}

type validateFunc func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// googlePushVerifier accepts Google-signed OIDC tokens minted for a push
// subscription's service account.
type googlePushVerifier struct {
	email    string
	validate validateFunc
}

func NewGooglePushVerifier(serviceAccountEmail string) (PushVerifier, error) {
	if strings.TrimSpace(serviceAccountEmail) == "" {
		return nil, errors.New("PUBSUB_SERVICE_ACCOUNT_EMAIL is required for OIDC push auth")
	}
	return &googlePushVerifier{email: serviceAccountEmail, validate: idtoken.Validate}, nil
}

func (v *googlePushVerifier) Verify(ctx context.Context, token, audience string) error {
	payload, err := v.validate(ctx, token, audience)
	if err != nil {
		return apierr.Unauthorized(fmt.Errorf("invalid token: %w", err))
	}
	email, _ := payload.Claims["email"].(string)
	if email == "" {
		return apierr.Forbidden(errors.New("token has no email claim"))
	}
	if verified, _ := payload.Claims["email_verified"].(bool); !verified {
		return apierr.Forbidden(errors.New("token email is not verified"))
	}
	if email != v.email {
		return apierr.Forbidden(errors.New("token email does not match the push service account"))
	}
	return nil
}

// secretPushVerifier accepts HS256 tokens signed with a shared secret, for
// buses that are not Pub/Sub.
type secretPushVerifier struct {
	secret []byte
}

func NewSecretPushVerifier(secret string) (PushVerifier, error) {
	if len(secret) < 16 {
		return nil, errors.New("PUSH_SHARED_SECRET must be at least 16 bytes")
	}
	return &secretPushVerifier{secret: []byte(secret)}, nil
}

func (v *secretPushVerifier) Verify(ctx context.Context, token, audience string) error {
	_, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return apierr.Unauthorized(fmt.Errorf("invalid token: %w", err))
	}
	return nil
}

// SignPushToken mints a token secretPushVerifier accepts.
func SignPushToken(secret, audience string, claims jwt.RegisteredClaims) (string, error) {
	claims.Audience = jwt.ClaimStrings{audience}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
