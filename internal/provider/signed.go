package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/freaksai/roomgate/internal/domain"
)

// adminTokenTTL bounds the credential the adapter mints for its own
// REST calls. Admin grants never appear anywhere else.
const adminTokenTTL = time.Minute

type videoGrant struct {
	Room       string `json:"room"`
	RoomJoin   bool   `json:"roomJoin"`
	CanPublish bool   `json:"canPublish"`
	CanSub     bool   `json:"canSubscribe"`
	CanPubData bool   `json:"canPublishData"`
	RoomAdmin  bool   `json:"roomAdmin,omitempty"`
	RoomRecord bool   `json:"roomRecord,omitempty"`
	RoomCreate bool   `json:"roomCreate,omitempty"`
}

type signedClaims struct {
	Name  string     `json:"name,omitempty"`
	Video videoGrant `json:"video"`
	jwt.RegisteredClaims
}

// SignedAdapter mints HS256 credentials locally with the provider's
// API key/secret; the provider validates them on join, so room creation
// is implicit. Moderation goes through the provider's REST service
// using a one-minute admin-variant credential.
type SignedAdapter struct {
	apiKey    string
	apiSecret []byte
	baseURL   string
	maxTTL    time.Duration
	client    *http.Client
	now       func() time.Time
}

func NewSignedAdapter(apiKey, apiSecret, baseURL string, maxTTL time.Duration) *SignedAdapter {
	return &SignedAdapter{
		apiKey:    apiKey,
		apiSecret: []byte(apiSecret),
		baseURL:   baseURL,
		maxTTL:    maxTTL,
		client:    &http.Client{Timeout: 10 * time.Second},
		now:       time.Now,
	}
}

func (a *SignedAdapter) CreateOrGetRoom(_ context.Context, name domain.RoomID) (RoomDescriptor, error) {
	// Rooms come into existence when the first signed credential is
	// presented; there is nothing to pre-create.
	return RoomDescriptor{Name: name, URL: a.RoomURL(name)}, nil
}

func (a *SignedAdapter) RoomURL(domain.RoomID) string {
	return a.baseURL
}

func (a *SignedAdapter) MintCredential(_ context.Context, req MintRequest) (string, error) {
	ttl := req.TTL
	if ttl <= 0 || ttl > a.maxTTL {
		ttl = a.maxTTL
	}
	now := a.now()
	c := signedClaims{
		Name: req.DisplayName,
		Video: videoGrant{
			Room:       string(req.Room),
			RoomJoin:   req.Grants.RoomJoin,
			CanPublish: req.Grants.Publish,
			CanSub:     req.Grants.Subscribe,
			CanPubData: req.Grants.PublishData,
			RoomAdmin:  req.Grants.Admin,
			RoomRecord: req.Grants.Record,
			RoomCreate: req.Grants.Create,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.apiKey,
			Subject:   string(req.Subject),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.apiSecret)
	if err != nil {
		return "", fmt.Errorf("%w: signing failed", domain.ErrProvider)
	}
	return tok, nil
}

func (a *SignedAdapter) adminToken(room domain.RoomID) (string, error) {
	return a.MintCredential(context.Background(), MintRequest{
		Room:    room,
		Subject: "roomgate-admin",
		TTL:     adminTokenTTL,
		Grants:  domain.GrantSet{RoomJoin: true, Admin: true},
	})
}

func (a *SignedAdapter) apiPost(ctx context.Context, room domain.RoomID, path string, payload, out any) error {
	tok, err := a.adminToken(room)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode request", domain.ErrProvider)
	}
	httpURL := "https://" + trimScheme(a.baseURL) + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, httpURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request", domain.ErrProvider)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := a.client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("module", "provider.signed").Str("path", path).Msg("provider call failed")
		return domain.ErrProvider
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Error().Int("status", resp.StatusCode).Str("module", "provider.signed").Str("path", path).Msg("provider rejected call")
		return domain.ErrProvider
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response", domain.ErrProvider)
	}
	return nil
}

func (a *SignedAdapter) ListParticipants(ctx context.Context, room domain.RoomID) ([]ParticipantInfo, error) {
	var out struct {
		Participants []ParticipantInfo `json:"participants"`
	}
	err := a.apiPost(ctx, room, "/twirp/RoomService/ListParticipants", map[string]string{"room": string(room)}, &out)
	if err != nil {
		return nil, err
	}
	return out.Participants, nil
}

func (a *SignedAdapter) MuteTrack(ctx context.Context, room domain.RoomID, participantID string, kind domain.TrackKind) error {
	return a.apiPost(ctx, room, "/twirp/RoomService/MutePublishedTrack", map[string]any{
		"room":     string(room),
		"identity": participantID,
		"kind":     string(kind),
		"muted":    true,
	}, nil)
}

func (a *SignedAdapter) RemoveParticipant(ctx context.Context, room domain.RoomID, participantID string) error {
	return a.apiPost(ctx, room, "/twirp/RoomService/RemoveParticipant", map[string]string{
		"room":     string(room),
		"identity": participantID,
	}, nil)
}

// trimScheme strips a ws(s):// or http(s):// prefix so the REST base
// can be derived from the configured join URL.
func trimScheme(u string) string {
	for _, p := range []string{"wss://", "ws://", "https://", "http://"} {
		if len(u) >= len(p) && u[:len(p)] == p {
			return u[len(p):]
		}
	}
	return u
}
