package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freaksai/roomgate/internal/domain"
)

const (
	defaultResyncDelay    = 2 * time.Second
	defaultResyncInterval = 30 * time.Second
	teardownTimeout       = 2 * time.Second
)

// Options tunes the controller. Zero values fall back to defaults.
type Options struct {
	ResyncDelay    time.Duration
	ResyncInterval time.Duration
	// OnChange fires with a roster copy, only when the roster
	// actually changed.
	OnChange func([]domain.Participant)
}

// Controller owns at most one live room session. Every asynchronous
// continuation is guarded by a generation number: a result arriving
// after teardown or after a newer Connect is discarded instead of
// mutating state.
type Controller struct {
	tokens TokenSource
	admin  AdminAPI
	dial   Dialer
	opts   Options

	mu           sync.Mutex
	state        ConnectionState
	gen          uint64
	roomID       domain.RoomID
	conn         ProviderConn
	cancel       context.CancelFunc
	roster       []domain.Participant
	handles      map[string]*domain.TrackHandle
	mediaErr     error
	cameraParked bool
}

func NewController(tokens TokenSource, admin AdminAPI, dial Dialer, opts Options) *Controller {
	if opts.ResyncDelay <= 0 {
		opts.ResyncDelay = defaultResyncDelay
	}
	if opts.ResyncInterval <= 0 {
		opts.ResyncInterval = defaultResyncInterval
	}
	return &Controller{tokens: tokens, admin: admin, dial: dial, opts: opts}
}

func (c *Controller) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Room() domain.RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Roster returns a copy of the current participant list.
func (c *Controller) Roster() []domain.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Participant, len(c.roster))
	copy(out, c.roster)
	return out
}

// LastMediaError reports the non-fatal device failure from the last
// Connect, if any. The session stays up without the affected device.
func (c *Controller) LastMediaError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mediaErr
}

// Connect normalizes the room id, fetches a credential, dials the
// provider and joins the room. Overlapping calls are rejected, not
// queued: a second Connect while Connecting/Connected is a warning
// no-op.
func (c *Controller) Connect(ctx context.Context, rawRoomID string) error {
	room, err := domain.NormalizeRoomID(rawRoomID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	c.mu.Lock()
	if c.state == Connecting || c.state == Connected {
		st := c.state
		c.mu.Unlock()
		log.Warn().Str("module", "session").Str("state", st.String()).Msg("connect ignored, session already active")
		return nil
	}
	c.gen++
	gen := c.gen
	c.state = Connecting
	c.roomID = room
	c.mediaErr = nil
	c.cameraParked = false
	c.mu.Unlock()

	cred, err := c.tokens.Token(ctx, room)
	if err != nil {
		c.failIfCurrent(gen, err)
		return fmt.Errorf("%w: token fetch: %v", domain.ErrConnection, err)
	}
	if !c.current(gen) {
		// Torn down while the fetch was in flight.
		return nil
	}

	conn, err := c.dial(ctx, cred)
	if err != nil {
		c.failIfCurrent(gen, err)
		return fmt.Errorf("%w: dial: %v", domain.ErrConnection, err)
	}

	c.mu.Lock()
	if c.gen != gen || c.state != Connecting {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	sctx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.cancel = cancel
	c.mu.Unlock()

	// The event pump runs before Join so early roster events are
	// never missed.
	go c.eventLoop(sctx, gen, conn)

	if err := conn.Join(ctx); err != nil {
		c.teardownTo(gen, Failed)
		return fmt.Errorf("%w: join: %v", domain.ErrConnection, err)
	}

	// Best-effort device bring-up. A permission failure must not fail
	// the connection; the user stays in the room without the device.
	for _, d := range []Device{DeviceCamera, DeviceMic} {
		if err := conn.EnableDevice(ctx, d); err != nil {
			c.recordMediaError(gen, d, err)
		}
	}

	c.mu.Lock()
	if c.gen == gen && c.state == Connecting {
		c.state = Connected
		log.Info().Str("module", "session").Str("room", string(room)).Msg("connected")
	}
	c.mu.Unlock()

	go c.resyncLoop(sctx, gen)
	c.reconcile(gen)
	return nil
}

// Disconnect tears the session down and resets to Idle regardless of
// teardown errors; device and close failures are swallowed.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancel
	c.gen++
	c.conn = nil
	c.cancel = nil
	c.state = Idle
	c.roomID = ""
	c.roster = nil
	c.handles = nil
	c.mediaErr = nil
	c.cameraParked = false
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		ctx, done := context.WithTimeout(context.Background(), teardownTimeout)
		defer done()
		_ = conn.DisableDevice(ctx, DeviceCamera)
		_ = conn.DisableDevice(ctx, DeviceMic)
		_ = conn.Close()
		log.Info().Str("module", "session").Msg("disconnected")
	}
}

func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Controller) failIfCurrent(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.state = Failed
	log.Error().Err(err).Str("module", "session").Str("room", string(c.roomID)).Msg("connect failed")
}

// teardownTo cancels timers, closes the connection and parks the
// machine in the given state, keeping stale generations out.
func (c *Controller) teardownTo(gen uint64, to ConnectionState) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	cancel := c.cancel
	c.conn = nil
	c.cancel = nil
	c.state = to
	c.roster = nil
	c.handles = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Controller) recordMediaError(gen uint64, d Device, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.mediaErr = fmt.Errorf("%w: %s: %v", domain.ErrMediaPermission, d, err)
	log.Warn().Err(err).Str("module", "session").Str("device", d.String()).Msg("device unavailable, continuing without it")
}

func (c *Controller) eventLoop(ctx context.Context, gen uint64, conn ProviderConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-conn.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case EventDisconnected:
				c.teardownTo(gen, Disconnected)
				return
			case EventScreenShareEnded:
				c.restoreCameraAfterScreenShare(ctx, gen, conn)
				c.reconcile(gen)
			default:
				c.reconcile(gen)
			}
		}
	}
}

// resyncLoop is the backstop against event loss: one delayed re-sync
// shortly after connecting, then a low-frequency timer.
func (c *Controller) resyncLoop(ctx context.Context, gen uint64) {
	delay := time.NewTimer(c.opts.ResyncDelay)
	defer delay.Stop()
	select {
	case <-ctx.Done():
		return
	case <-delay.C:
		c.reconcile(gen)
	}

	tick := time.NewTicker(c.opts.ResyncInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			c.reconcile(gen)
		}
	}
}
