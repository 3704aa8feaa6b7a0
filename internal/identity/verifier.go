// Package identity verifies opaque bearer credentials against the
// identity service and returns a trusted identity triple. Nothing in
// this package ever reads identity fields from a request body.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/freaksai/roomgate/internal/domain"
)

// Verifier validates a bearer token. Implementations must return an
// error wrapping domain.ErrAuthentication on any verification failure
// so callers can map it without inspecting the cause.
type Verifier interface {
	Verify(ctx context.Context, token string) (domain.VerifiedIdentity, error)
}

// Internal reasons, kept distinct for the log. They all wrap
// domain.ErrAuthentication; clients see one uniform message.
var (
	ErrMalformed = fmt.Errorf("%w: malformed token", domain.ErrAuthentication)
	ErrExpired   = fmt.Errorf("%w: token expired", domain.ErrAuthentication)
	ErrSignature = fmt.Errorf("%w: bad signature", domain.ErrAuthentication)
	ErrNoSubject = fmt.Errorf("%w: token has no subject", domain.ErrAuthentication)
)

type claims struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256 identity tokens locally with a shared
// secret. Issuer is enforced when configured.
type JWTVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer, now: time.Now}
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (domain.VerifiedIdentity, error) {
	var c claims
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return domain.VerifiedIdentity{}, ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return domain.VerifiedIdentity{}, ErrSignature
	default:
		return domain.VerifiedIdentity{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if c.Subject == "" {
		return domain.VerifiedIdentity{}, ErrNoSubject
	}
	return domain.VerifiedIdentity{
		Subject:     domain.SubjectID(c.Subject),
		DisplayName: domain.SanitizeDisplayName(c.Name),
		Email:       c.Email,
	}, nil
}
