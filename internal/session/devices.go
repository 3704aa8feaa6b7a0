package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/freaksai/roomgate/internal/domain"
)

var ErrNotConnected = errors.New("no active room session")

// liveConn snapshots the connection and generation so toggles race
// safely with teardown.
func (c *Controller) liveConn() (ProviderConn, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || (c.state != Connected && c.state != Connecting) {
		return nil, 0, ErrNotConnected
	}
	return c.conn, c.gen, nil
}

// ToggleCamera flips the camera publication. It queries the actual
// publication state first rather than trusting a local boolean, so it
// is idempotent and safe to call concurrently with provider-driven
// state changes.
func (c *Controller) ToggleCamera(ctx context.Context) error {
	conn, gen, err := c.liveConn()
	if err != nil {
		return err
	}
	defer c.reconcile(gen)

	if conn.DeviceEnabled(DeviceCamera) {
		return conn.DisableDevice(ctx, DeviceCamera)
	}
	// One active video publication at a time.
	if conn.DeviceEnabled(DeviceScreen) {
		if err := conn.DisableDevice(ctx, DeviceScreen); err != nil {
			return err
		}
		c.setCameraParked(gen, false)
	}
	if err := conn.EnableDevice(ctx, DeviceCamera); err != nil {
		return fmt.Errorf("%w: camera: %v", domain.ErrMediaPermission, err)
	}
	return nil
}

// ToggleMic flips the microphone publication, same contract as
// ToggleCamera.
func (c *Controller) ToggleMic(ctx context.Context) error {
	conn, gen, err := c.liveConn()
	if err != nil {
		return err
	}
	defer c.reconcile(gen)

	if conn.DeviceEnabled(DeviceMic) {
		return conn.DisableDevice(ctx, DeviceMic)
	}
	if err := conn.EnableDevice(ctx, DeviceMic); err != nil {
		return fmt.Errorf("%w: mic: %v", domain.ErrMediaPermission, err)
	}
	return nil
}

// ToggleScreenShare starts or stops screen capture. Start unpublishes
// the camera first; stop republishes it if it was parked, including
// when the browser ends the capture on its own.
func (c *Controller) ToggleScreenShare(ctx context.Context) error {
	conn, gen, err := c.liveConn()
	if err != nil {
		return err
	}
	defer c.reconcile(gen)

	if conn.DeviceEnabled(DeviceScreen) {
		if err := conn.DisableDevice(ctx, DeviceScreen); err != nil {
			return err
		}
		c.restoreCameraAfterScreenShare(ctx, gen, conn)
		return nil
	}

	cameraWasOn := conn.DeviceEnabled(DeviceCamera)
	if cameraWasOn {
		if err := conn.DisableDevice(ctx, DeviceCamera); err != nil {
			return err
		}
	}
	if err := conn.EnableDevice(ctx, DeviceScreen); err != nil {
		if cameraWasOn {
			_ = conn.EnableDevice(ctx, DeviceCamera)
		}
		return fmt.Errorf("%w: screen: %v", domain.ErrMediaPermission, err)
	}
	c.setCameraParked(gen, cameraWasOn)
	return nil
}

func (c *Controller) setCameraParked(gen uint64, parked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.cameraParked = parked
	}
}

func (c *Controller) restoreCameraAfterScreenShare(ctx context.Context, gen uint64, conn ProviderConn) {
	c.mu.Lock()
	parked := c.cameraParked && c.gen == gen
	c.cameraParked = false
	c.mu.Unlock()
	if !parked {
		return
	}
	if err := conn.EnableDevice(ctx, DeviceCamera); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("camera republish after screen share failed")
	}
}

// MuteParticipant asks the broker's admin endpoint to mute another
// member's track. Any authenticated room member may call this; there is
// no room-role check (known trust-model limitation).
func (c *Controller) MuteParticipant(ctx context.Context, participantID string, kind domain.TrackKind) error {
	room := c.Room()
	if room == "" {
		return ErrNotConnected
	}
	return c.admin.Mute(ctx, room, participantID, kind)
}

// KickParticipant removes a member from the room via the broker's admin
// endpoint. Same trust model as MuteParticipant.
func (c *Controller) KickParticipant(ctx context.Context, participantID string) error {
	room := c.Room()
	if room == "" {
		return ErrNotConnected
	}
	return c.admin.Kick(ctx, room, participantID)
}
