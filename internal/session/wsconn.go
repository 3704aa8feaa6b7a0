package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/freaksai/roomgate/internal/domain"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsSendBuffer   = 32
	wsEventBuffer  = 64
)

// wsConn is the gorilla/websocket ProviderConn. It mirrors the
// provider's roster pushes into a local snapshot and forwards change
// notifications; it carries no media, only the provider's event and
// control stream.
type wsConn struct {
	conn   *websocket.Conn
	send   chan []byte
	events chan Event

	mu       sync.RWMutex
	closed   bool
	snapshot RoomSnapshot
	devices  map[Device]bool
}

// DialWS opens the provider event-stream connection authenticated with
// the freshly issued room credential.
func DialWS(ctx context.Context, cred domain.RoomCredential) (ProviderConn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cred.Token)
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, cred.RoomURL, header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}
	c := &wsConn{
		conn:    ws,
		send:    make(chan []byte, wsSendBuffer),
		events:  make(chan Event, wsEventBuffer),
		devices: make(map[Device]bool),
	}
	go c.writePump()
	go c.readPump()
	return c, nil
}

type wireMessage struct {
	Type         string            `json:"type"`
	Device       string            `json:"device,omitempty"`
	Local        string            `json:"local,omitempty"`
	Participants []wireParticipant `json:"participants,omitempty"`
}

type wireParticipant struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Speaking bool        `json:"speaking"`
	Tracks   []wireTrack `json:"tracks"`
}

type wireTrack struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Muted  bool   `json:"muted"`
	Live   bool   `json:"live"`
	Screen bool   `json:"screen"`
}

func (c *wsConn) Join(ctx context.Context) error {
	return c.trySend(wireMessage{Type: "join"})
}

func (c *wsConn) Events() <-chan Event { return c.events }

func (c *wsConn) Snapshot() RoomSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := RoomSnapshot{LocalID: c.snapshot.LocalID}
	out.Participants = make([]ParticipantSnapshot, len(c.snapshot.Participants))
	copy(out.Participants, c.snapshot.Participants)
	return out
}

func (c *wsConn) DeviceEnabled(d Device) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.devices[d]
}

func (c *wsConn) EnableDevice(_ context.Context, d Device) error {
	if err := c.trySend(wireMessage{Type: "publish", Device: d.String()}); err != nil {
		return err
	}
	c.mu.Lock()
	c.devices[d] = true
	c.mu.Unlock()
	return nil
}

func (c *wsConn) DisableDevice(_ context.Context, d Device) error {
	if err := c.trySend(wireMessage{Type: "unpublish", Device: d.String()}); err != nil {
		return err
	}
	c.mu.Lock()
	c.devices[d] = false
	c.mu.Unlock()
	return nil
}

func (c *wsConn) trySend(msg wireMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errors.New("backpressure")
	}
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *wsConn) writePump() {
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			log.Error().Err(err).Str("module", "session.ws").Msg("writePump set deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "session.ws").Msg("writePump write error")
			return
		}
	}
}

func (c *wsConn) readPump() {
	defer func() {
		c.emit(Event{Kind: EventDisconnected})
		close(c.events)
		_ = c.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.RLock()
			closed := c.closed
			c.mu.RUnlock()
			if !closed {
				log.Error().Err(err).Str("module", "session.ws").Msg("readPump read error")
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *wsConn) handleMessage(data []byte) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Err(err).Str("module", "session.ws").Msg("bad json from provider")
		return
	}

	// Every roster-bearing message replaces the mirror wholesale; the
	// controller re-derives its state from Snapshot, never from the
	// event payload.
	if msg.Participants != nil || msg.Local != "" {
		c.applyRoster(msg)
	}

	switch msg.Type {
	case "participant_joined":
		c.emit(Event{Kind: EventParticipantJoined})
	case "participant_left":
		c.emit(Event{Kind: EventParticipantLeft})
	case "track_published":
		c.emit(Event{Kind: EventTrackPublished})
	case "track_unpublished":
		c.emit(Event{Kind: EventTrackUnpublished})
	case "track_muted":
		c.emit(Event{Kind: EventTrackMuted})
	case "track_unmuted":
		c.emit(Event{Kind: EventTrackUnmuted})
	case "active_speakers":
		c.emit(Event{Kind: EventActiveSpeakers})
	case "screen_ended":
		c.mu.Lock()
		c.devices[DeviceScreen] = false
		c.mu.Unlock()
		c.emit(Event{Kind: EventScreenShareEnded})
	case "roster":
		c.emit(Event{Kind: EventParticipantJoined})
	default:
		log.Debug().Str("module", "session.ws").Str("type", msg.Type).Msg("ignoring provider message")
	}
}

func (c *wsConn) applyRoster(msg wireMessage) {
	snap := RoomSnapshot{LocalID: msg.Local}
	for _, wp := range msg.Participants {
		ps := ParticipantSnapshot{ID: wp.ID, DisplayName: wp.Name, Speaking: wp.Speaking}
		for _, wt := range wp.Tracks {
			ps.Tracks = append(ps.Tracks, TrackInfo{
				ID:     wt.ID,
				Kind:   domain.TrackKind(wt.Kind),
				Muted:  wt.Muted,
				Live:   wt.Live,
				Screen: wt.Screen,
			})
		}
		snap.Participants = append(snap.Participants, ps)
	}

	c.mu.Lock()
	if snap.LocalID == "" {
		snap.LocalID = c.snapshot.LocalID
	}
	c.snapshot = snap
	// The provider's view of our own publications wins over the
	// optimistic flags set on send.
	for _, ps := range snap.Participants {
		if ps.ID != snap.LocalID {
			continue
		}
		cam, mic, screen := false, false, false
		for _, t := range ps.Tracks {
			if !t.Live {
				continue
			}
			switch {
			case t.Kind == domain.TrackAudio:
				mic = true
			case t.Screen:
				screen = true
			case t.Kind == domain.TrackVideo:
				cam = true
			}
		}
		c.devices[DeviceCamera] = cam
		c.devices[DeviceMic] = mic
		c.devices[DeviceScreen] = screen
	}
	c.mu.Unlock()
}

func (c *wsConn) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		// Dropping is safe: the controller recomputes from Snapshot,
		// so a coalesced notification loses nothing.
	}
}
