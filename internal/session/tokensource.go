package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/freaksai/roomgate/internal/domain"
)

// BrokerClient talks to the token broker's HTTP endpoints. It
// implements TokenSource and AdminAPI for the controller.
type BrokerClient struct {
	baseURL string
	origin  string
	// bearer returns the user's current identity token; it is read
	// per request so refreshed tokens are picked up.
	bearer func() string
	client *http.Client
}

func NewBrokerClient(baseURL, origin string, bearer func() string) *BrokerClient {
	return &BrokerClient{
		baseURL: baseURL,
		origin:  origin,
		bearer:  bearer,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (b *BrokerClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", b.origin)
	req.Header.Set("Authorization", "Bearer "+b.bearer())

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return domain.ErrAuthentication
	case http.StatusForbidden:
		return domain.ErrOrigin
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: retry after %s", domain.ErrRateLimited, resp.Header.Get("Retry-After"))
	case http.StatusServiceUnavailable:
		return domain.ErrProvider
	default:
		return fmt.Errorf("broker status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (b *BrokerClient) Token(ctx context.Context, room domain.RoomID) (domain.RoomCredential, error) {
	var cred domain.RoomCredential
	err := b.post(ctx, "/video/token", map[string]string{"roomId": string(room)}, &cred)
	if err != nil {
		return domain.RoomCredential{}, err
	}
	return cred, nil
}

func (b *BrokerClient) Mute(ctx context.Context, room domain.RoomID, participantID string, kind domain.TrackKind) error {
	return b.post(ctx, "/video/admin/mute", map[string]string{
		"roomId":        string(room),
		"participantId": participantID,
		"trackType":     string(kind),
	}, nil)
}

func (b *BrokerClient) Kick(ctx context.Context, room domain.RoomID, participantID string) error {
	return b.post(ctx, "/video/admin/kick", map[string]string{
		"roomId":        string(room),
		"participantId": participantID,
	}, nil)
}
