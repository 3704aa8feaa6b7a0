package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/freaksai/roomgate/internal/domain"
)

// IntrospectVerifier asks the identity service to verify the token.
// The token travels in the request body, never in a URL, so it cannot
// leak through access logs on the identity side.
type IntrospectVerifier struct {
	url    string
	client *http.Client
}

func NewIntrospectVerifier(url string) *IntrospectVerifier {
	return &IntrospectVerifier{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

type introspectRequest struct {
	Token string `json:"token"`
}

type introspectResponse struct {
	Active  bool   `json:"active"`
	Subject string `json:"sub"`
	Name    string `json:"name"`
	Email   string `json:"email"`
}

func (v *IntrospectVerifier) Verify(ctx context.Context, token string) (domain.VerifiedIdentity, error) {
	body, err := json.Marshal(introspectRequest{Token: token})
	if err != nil {
		return domain.VerifiedIdentity{}, fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return domain.VerifiedIdentity{}, fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return domain.VerifiedIdentity{}, fmt.Errorf("%w: identity service unreachable: %v", domain.ErrAuthentication, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.VerifiedIdentity{}, fmt.Errorf("%w: identity service status %d", domain.ErrAuthentication, resp.StatusCode)
	}

	var out introspectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.VerifiedIdentity{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !out.Active {
		return domain.VerifiedIdentity{}, ErrExpired
	}
	if out.Subject == "" {
		return domain.VerifiedIdentity{}, ErrNoSubject
	}
	return domain.VerifiedIdentity{
		Subject:     domain.SubjectID(out.Subject),
		DisplayName: domain.SanitizeDisplayName(out.Name),
		Email:       out.Email,
	}, nil
}
