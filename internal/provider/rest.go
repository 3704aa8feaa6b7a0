package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freaksai/roomgate/internal/domain"
)

// RESTAdapter delegates room creation and credential minting to the
// provider's HTTP API; the returned token is opaque to us. Wire format
// aside, it enforces the same rules as the signed adapter: clamped TTL
// and no admin grants unless explicitly requested.
type RESTAdapter struct {
	baseURL string
	apiKey  string
	maxTTL  time.Duration
	client  *http.Client
}

func NewRESTAdapter(baseURL, apiKey string, maxTTL time.Duration) *RESTAdapter {
	return &RESTAdapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		maxTTL:  maxTTL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *RESTAdapter) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode request", domain.ErrProvider)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request", domain.ErrProvider)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("module", "provider.rest").Str("path", path).Msg("provider call failed")
		return domain.ErrProvider
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Error().Int("status", resp.StatusCode).Str("module", "provider.rest").Str("path", path).Msg("provider rejected call")
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

func (a *RESTAdapter) CreateOrGetRoom(ctx context.Context, name domain.RoomID) (RoomDescriptor, error) {
	var out struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	err := a.post(ctx, "/v1/rooms", map[string]string{"name": string(name)}, &out)
	if err != nil {
		return RoomDescriptor{}, err
	}
	u := out.URL
	if u == "" {
		u = a.RoomURL(name)
	}
	return RoomDescriptor{Name: name, URL: u}, nil
}

func (a *RESTAdapter) RoomURL(name domain.RoomID) string {
	return a.baseURL + "/rooms/" + url.PathEscape(string(name))
}

func (a *RESTAdapter) MintCredential(ctx context.Context, req MintRequest) (string, error) {
	ttl := req.TTL
	if ttl <= 0 || ttl > a.maxTTL {
		ttl = a.maxTTL
	}
	var out struct {
		Token string `json:"token"`
	}
	err := a.post(ctx, "/v1/tokens", map[string]any{
		"room":       string(req.Room),
		"identity":   string(req.Subject),
		"name":       req.DisplayName,
		"ttlSeconds": int(ttl.Seconds()),
		"grants":     req.Grants,
		"notBefore":  time.Now().Unix(),
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("%w: empty token", domain.ErrProvider)
	}
	return out.Token, nil
}

func (a *RESTAdapter) ListParticipants(ctx context.Context, room domain.RoomID) ([]ParticipantInfo, error) {
	var out struct {
		Participants []ParticipantInfo `json:"participants"`
	}
	err := a.post(ctx, "/v1/rooms/"+url.PathEscape(string(room))+"/participants", map[string]string{}, &out)
	if err != nil {
		return nil, err
	}
	return out.Participants, nil
}

func (a *RESTAdapter) MuteTrack(ctx context.Context, room domain.RoomID, participantID string, kind domain.TrackKind) error {
	return a.post(ctx, "/v1/rooms/"+url.PathEscape(string(room))+"/mute", map[string]string{
		"participant": participantID,
		"kind":        string(kind),
	}, nil)
}

func (a *RESTAdapter) RemoveParticipant(ctx context.Context, room domain.RoomID, participantID string) error {
	return a.post(ctx, "/v1/rooms/"+url.PathEscape(string(room))+"/kick", map[string]string{
		"participant": participantID,
	}, nil)
}
