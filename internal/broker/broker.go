// Package broker turns "bearer identity token + room id" into a
// time-boxed, capability-restricted room credential.
package broker

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freaksai/roomgate/internal/domain"
	"github.com/freaksai/roomgate/internal/identity"
	"github.com/freaksai/roomgate/internal/provider"
	"github.com/freaksai/roomgate/internal/ratelimit"
)

// Request is the transport-agnostic view of one token request.
// Identity fields never appear here; they come from the verifier.
type Request struct {
	Method        string
	Origin        string
	Authorization string
	RoomID        string
}

// Denied wraps a pipeline rejection with the retry hint the HTTP layer
// needs for 429 responses.
type Denied struct {
	Err        error
	RetryAfter time.Duration
}

func (d *Denied) Error() string { return d.Err.Error() }
func (d *Denied) Unwrap() error { return d.Err }

type Broker struct {
	verifier identity.Verifier
	limiter  ratelimit.Store
	adapter  provider.Adapter
	origins  map[string]struct{}
	limit    int
	ttl      time.Duration
}

func New(verifier identity.Verifier, limiter ratelimit.Store, adapter provider.Adapter, allowedOrigins []string, limit int, ttl time.Duration) *Broker {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[strings.TrimRight(strings.TrimSpace(o), "/")] = struct{}{}
	}
	if ttl <= 0 {
		ttl = domain.DefaultCredentialTTL
	}
	return &Broker{
		verifier: verifier,
		limiter:  limiter,
		adapter:  adapter,
		origins:  origins,
		limit:    limit,
		ttl:      ttl,
	}
}

// IssueToken runs the pipeline in strict order, short-circuiting on the
// first failure: method, origin, authentication, rate limit, input
// validation, minting. Method comes before origin so non-POST probes
// learn nothing about origin policy.
func (b *Broker) IssueToken(ctx context.Context, req Request) (domain.RoomCredential, error) {
	if req.Method != http.MethodPost {
		return domain.RoomCredential{}, &Denied{Err: domain.ErrMethod}
	}
	if !b.originAllowed(req.Origin) {
		return domain.RoomCredential{}, &Denied{Err: domain.ErrOrigin}
	}

	token, ok := bearerToken(req.Authorization)
	if !ok {
		return domain.RoomCredential{}, &Denied{Err: domain.ErrAuthentication}
	}
	who, err := b.verifier.Verify(ctx, token)
	if err != nil {
		log.Warn().Err(err).Str("module", "broker").Msg("identity verification failed")
		return domain.RoomCredential{}, &Denied{Err: domain.ErrAuthentication}
	}

	res := b.limiter.Check("token:"+string(who.Subject), b.limit)
	if !res.Allowed {
		return domain.RoomCredential{}, &Denied{Err: domain.ErrRateLimited, RetryAfter: res.RetryAfter}
	}

	room, err := domain.NormalizeRoomID(req.RoomID)
	if err != nil {
		return domain.RoomCredential{}, &Denied{Err: fmt.Errorf("%w: %v", domain.ErrValidation, err)}
	}

	desc, err := b.adapter.CreateOrGetRoom(ctx, room)
	if err != nil {
		log.Error().Err(err).Str("module", "broker").Str("room", string(room)).Msg("room lookup failed")
		return domain.RoomCredential{}, &Denied{Err: domain.ErrProvider}
	}
	opaque, err := b.adapter.MintCredential(ctx, provider.MintRequest{
		Room:        room,
		Subject:     who.Subject,
		DisplayName: who.DisplayName,
		TTL:         b.ttl,
		Grants:      domain.MemberGrants(),
	})
	if err != nil {
		log.Error().Err(err).Str("module", "broker").Str("room", string(room)).Msg("credential minting failed")
		return domain.RoomCredential{}, &Denied{Err: domain.ErrProvider}
	}

	// Audit trail: subject and room only, never the token.
	log.Info().Str("module", "broker").Str("subject", string(who.Subject)).
		Str("room", string(room)).Dur("ttl", b.ttl).Msg("room credential issued")

	return domain.RoomCredential{
		Token:     opaque,
		RoomURL:   desc.URL,
		ExpiresIn: int(b.ttl.Seconds()),
	}, nil
}

// Authenticate is the shared guard for the admin sibling endpoints:
// origin check plus bearer verification, no rate limiting.
func (b *Broker) Authenticate(ctx context.Context, origin, authorization string) (domain.VerifiedIdentity, error) {
	if !b.originAllowed(origin) {
		return domain.VerifiedIdentity{}, domain.ErrOrigin
	}
	token, ok := bearerToken(authorization)
	if !ok {
		return domain.VerifiedIdentity{}, domain.ErrAuthentication
	}
	who, err := b.verifier.Verify(ctx, token)
	if err != nil {
		log.Warn().Err(err).Str("module", "broker").Msg("identity verification failed")
		return domain.VerifiedIdentity{}, domain.ErrAuthentication
	}
	return who, nil
}

func (b *Broker) originAllowed(origin string) bool {
	origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	if origin == "" {
		return false
	}
	_, ok := b.origins[origin]
	return ok
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
