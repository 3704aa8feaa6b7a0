// Package provider abstracts the external media service. Application
// code never branches on provider identity beyond adapter selection at
// startup; everything speaks through Adapter and AdminAdapter.
package provider

import (
	"context"
	"time"

	"github.com/freaksai/roomgate/internal/domain"
)

// RoomDescriptor is the provider's view of a room.
type RoomDescriptor struct {
	Name domain.RoomID
	URL  string
}

// MintRequest carries only verified fields. TTL above the adapter's
// configured maximum is clamped, never passed through.
type MintRequest struct {
	Room        domain.RoomID
	Subject     domain.SubjectID
	DisplayName string
	TTL         time.Duration
	Grants      domain.GrantSet
}

// Adapter creates/locates rooms and mints room credentials.
// Implementations wrap every transport failure into domain.ErrProvider;
// raw provider error text must not cross this boundary.
type Adapter interface {
	CreateOrGetRoom(ctx context.Context, name domain.RoomID) (RoomDescriptor, error)
	MintCredential(ctx context.Context, req MintRequest) (string, error)
	RoomURL(name domain.RoomID) string
}

// ParticipantInfo is the provider-reported state of one room member.
type ParticipantInfo struct {
	ID             string `json:"id"`
	DisplayName    string `json:"displayName"`
	AudioPublished bool   `json:"audioPublished"`
	VideoPublished bool   `json:"videoPublished"`
	AudioMuted     bool   `json:"audioMuted"`
}

// AdminAdapter covers the moderation surface behind /video/admin/*.
type AdminAdapter interface {
	ListParticipants(ctx context.Context, room domain.RoomID) ([]ParticipantInfo, error)
	MuteTrack(ctx context.Context, room domain.RoomID, participantID string, kind domain.TrackKind) error
	RemoveParticipant(ctx context.Context, room domain.RoomID, participantID string) error
}
