// Package session holds the client-resident room controller: the
// connection state machine, the participant roster and the idempotent
// device controls. Media transport itself belongs to the provider; this
// package only drives it through ProviderConn.
package session

import (
	"context"

	"github.com/freaksai/roomgate/internal/domain"
)

type ConnectionState int

const (
	Idle ConnectionState = iota
	Connecting
	Connected
	Disconnected
	Failed
)

func (s ConnectionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Device is a local capture source the controller can publish.
type Device int

const (
	DeviceCamera Device = iota
	DeviceMic
	DeviceScreen
)

func (d Device) String() string {
	switch d {
	case DeviceCamera:
		return "camera"
	case DeviceMic:
		return "mic"
	case DeviceScreen:
		return "screen"
	}
	return "unknown"
}

// EventKind only hints at why the roster may have changed. The
// controller never patches from an event; it recomputes from
// Snapshot(), so missed or reordered events cannot cause drift.
type EventKind int

const (
	EventParticipantJoined EventKind = iota
	EventParticipantLeft
	EventTrackPublished
	EventTrackUnpublished
	EventTrackMuted
	EventTrackUnmuted
	EventActiveSpeakers
	EventScreenShareEnded // browser/OS stopped the capture
	EventDisconnected     // provider dropped the connection
)

type Event struct {
	Kind EventKind
}

// TrackInfo is the provider-reported state of one published track.
type TrackInfo struct {
	ID     string
	Kind   domain.TrackKind
	Muted  bool
	Live   bool
	Screen bool
}

// ParticipantSnapshot is the provider's authoritative view of one
// member, queried fresh on every reconciliation.
type ParticipantSnapshot struct {
	ID          string
	DisplayName string
	Speaking    bool
	Tracks      []TrackInfo
}

type RoomSnapshot struct {
	LocalID      string
	Participants []ParticipantSnapshot
}

// ProviderConn is one live connection to the media provider. The
// controller consumes Events and re-derives state from Snapshot;
// implementations own the transport and must make both safe for
// concurrent use.
type ProviderConn interface {
	// Join announces the participant to the room. The controller
	// always drains Events before calling Join so early roster
	// events are not missed.
	Join(ctx context.Context) error

	Events() <-chan Event
	Snapshot() RoomSnapshot

	// DeviceEnabled reports the actual publication state, not the
	// last requested one.
	DeviceEnabled(d Device) bool
	EnableDevice(ctx context.Context, d Device) error
	DisableDevice(ctx context.Context, d Device) error

	Close() error
}

// Dialer opens a ProviderConn with a freshly issued credential.
type Dialer func(ctx context.Context, cred domain.RoomCredential) (ProviderConn, error)

// TokenSource fetches room credentials from the token broker.
type TokenSource interface {
	Token(ctx context.Context, room domain.RoomID) (domain.RoomCredential, error)
}

// AdminAPI reaches the broker's sibling moderation endpoints.
type AdminAPI interface {
	Mute(ctx context.Context, room domain.RoomID, participantID string, kind domain.TrackKind) error
	Kick(ctx context.Context, room domain.RoomID, participantID string) error
}
