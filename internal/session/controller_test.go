package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/freaksai/roomgate/internal/domain"
)

type fakeTokens struct {
	mu    sync.Mutex
	calls int
	err   error
	block chan struct{} // when set, Token waits until closed
}

func (f *fakeTokens) Token(ctx context.Context, room domain.RoomID) (domain.RoomCredential, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	err := f.err
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return domain.RoomCredential{}, err
	}
	return domain.RoomCredential{Token: "cred", RoomURL: "wss://media.example.com", ExpiresIn: 900}, nil
}

func (f *fakeTokens) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAdmin struct {
	mu     sync.Mutex
	muted  []string
	kicked []string
}

func (f *fakeAdmin) Mute(_ context.Context, room domain.RoomID, participantID string, kind domain.TrackKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = append(f.muted, string(room)+"/"+participantID+"/"+string(kind))
	return nil
}

func (f *fakeAdmin) Kick(_ context.Context, room domain.RoomID, participantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicked = append(f.kicked, string(room)+"/"+participantID)
	return nil
}

type fakeConn struct {
	mu        sync.Mutex
	snap      RoomSnapshot
	devices   map[Device]bool
	events    chan Event
	joined    bool
	closed    bool
	joinErr   error
	enableErr map[Device]error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		devices: map[Device]bool{},
		events:  make(chan Event, 16),
	}
}

func (f *fakeConn) Join(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joined = true
	return nil
}

func (f *fakeConn) Events() <-chan Event { return f.events }

func (f *fakeConn) Snapshot() RoomSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := RoomSnapshot{LocalID: f.snap.LocalID}
	out.Participants = append(out.Participants, f.snap.Participants...)
	return out
}

func (f *fakeConn) DeviceEnabled(d Device) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices[d]
}

func (f *fakeConn) EnableDevice(_ context.Context, d Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enableErr[d]; err != nil {
		return err
	}
	f.devices[d] = true
	return nil
}

func (f *fakeConn) DisableDevice(_ context.Context, d Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[d] = false
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) setSnapshot(snap RoomSnapshot) {
	f.mu.Lock()
	f.snap = snap
	f.mu.Unlock()
}

func (f *fakeConn) push(kind EventKind) {
	f.events <- Event{Kind: kind}
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) wasJoined() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joined
}

func twoPartySnapshot() RoomSnapshot {
	return RoomSnapshot{
		LocalID: "me",
		Participants: []ParticipantSnapshot{
			{ID: "remote-1", DisplayName: "Bob", Tracks: []TrackInfo{
				{ID: "v1", Kind: domain.TrackVideo, Live: true},
				{ID: "a1", Kind: domain.TrackAudio, Live: true},
			}},
			{ID: "me", DisplayName: "Alice"},
		},
	}
}

type harness struct {
	ctrl    *Controller
	tokens  *fakeTokens
	admin   *fakeAdmin
	conn    *fakeConn
	dials   int32
	changes int32
}

func newHarness(opts Options) *harness {
	h := &harness{
		tokens: &fakeTokens{},
		admin:  &fakeAdmin{},
		conn:   newFakeConn(),
	}
	base := opts.OnChange
	opts.OnChange = func(r []domain.Participant) {
		atomic.AddInt32(&h.changes, 1)
		if base != nil {
			base(r)
		}
	}
	// Long resync intervals keep the backstop timers out of the way.
	if opts.ResyncDelay == 0 {
		opts.ResyncDelay = time.Hour
	}
	if opts.ResyncInterval == 0 {
		opts.ResyncInterval = time.Hour
	}
	h.ctrl = NewController(h.tokens, h.admin, func(ctx context.Context, cred domain.RoomCredential) (ProviderConn, error) {
		atomic.AddInt32(&h.dials, 1)
		return h.conn, nil
	}, opts)
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectHappyPath(t *testing.T) {
	h := newHarness(Options{})
	h.conn.setSnapshot(twoPartySnapshot())

	if err := h.ctrl.Connect(context.Background(), "my Room!!"); err != nil {
		t.Fatalf("Connect err=%v", err)
	}
	if got := h.ctrl.State(); got != Connected {
		t.Fatalf("state=%s, want connected", got)
	}
	if got := h.ctrl.Room(); got != "MYROOM" {
		t.Fatalf("room=%q, want MYROOM", got)
	}
	if !h.conn.wasJoined() {
		t.Fatal("join was never issued")
	}
	if !h.conn.DeviceEnabled(DeviceCamera) || !h.conn.DeviceEnabled(DeviceMic) {
		t.Fatal("camera and mic should be enabled after connect")
	}

	roster := h.ctrl.Roster()
	if len(roster) != 2 {
		t.Fatalf("roster len=%d, want 2", len(roster))
	}
	if !roster[0].IsLocal || roster[0].ID != "me" {
		t.Fatalf("local participant must sort first, got %+v", roster[0])
	}
	if roster[1].ID != "remote-1" || roster[1].VideoTrack == nil || roster[1].AudioTrack == nil {
		t.Fatalf("remote participant incomplete: %+v", roster[1])
	}
}

func TestConnectRejectsOverlappingCalls(t *testing.T) {
	h := newHarness(Options{})
	h.tokens.block = make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.ctrl.Connect(context.Background(), "r1")
		}()
	}
	waitFor(t, "first connect to start", func() bool { return h.tokens.callCount() == 1 })
	close(h.tokens.block)
	wg.Wait()

	if got := h.tokens.callCount(); got != 1 {
		t.Fatalf("token fetches=%d, want exactly 1", got)
	}
	if got := atomic.LoadInt32(&h.dials); got != 1 {
		t.Fatalf("dials=%d, want exactly 1", got)
	}
}

func TestConnectWhileConnectedIsNoop(t *testing.T) {
	h := newHarness(Options{})
	if err := h.ctrl.Connect(context.Background(), "r1"); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.Connect(context.Background(), "r2"); err != nil {
		t.Fatalf("second connect should be a no-op, got %v", err)
	}
	if got := h.ctrl.Room(); got != "R1" {
		t.Fatalf("room=%q, the second connect must not take over", got)
	}
	if got := h.tokens.callCount(); got != 1 {
		t.Fatalf("token fetches=%d, want 1", got)
	}
}

func TestDisconnectBeforeTokenResolves(t *testing.T) {
	h := newHarness(Options{})
	h.tokens.block = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Connect(context.Background(), "r1") }()
	waitFor(t, "token fetch to start", func() bool { return h.tokens.callCount() == 1 })

	h.ctrl.Disconnect()
	close(h.tokens.block)
	if err := <-done; err != nil {
		t.Fatalf("stale connect should be discarded silently, got %v", err)
	}

	if got := h.ctrl.State(); got != Idle {
		t.Fatalf("state=%s, want idle", got)
	}
	if got := atomic.LoadInt32(&h.dials); got != 0 {
		t.Fatalf("dials=%d, no provider connection may be opened after teardown", got)
	}
}

func TestConnectTokenFailure(t *testing.T) {
	h := newHarness(Options{})
	h.tokens.err = errors.New("broker down")

	err := h.ctrl.Connect(context.Background(), "r1")
	if !errors.Is(err, domain.ErrConnection) {
		t.Fatalf("err=%v, want ErrConnection", err)
	}
	if got := h.ctrl.State(); got != Failed {
		t.Fatalf("state=%s, want failed", got)
	}

	// A fresh connect restarts the cycle from Failed.
	h.tokens.err = nil
	if err := h.ctrl.Connect(context.Background(), "r1"); err != nil {
		t.Fatalf("retry err=%v", err)
	}
	if got := h.ctrl.State(); got != Connected {
		t.Fatalf("state=%s, want connected", got)
	}
}

func TestJoinFailure(t *testing.T) {
	h := newHarness(Options{})
	h.conn.joinErr = errors.New("room full")

	err := h.ctrl.Connect(context.Background(), "r1")
	if !errors.Is(err, domain.ErrConnection) {
		t.Fatalf("err=%v, want ErrConnection", err)
	}
	if got := h.ctrl.State(); got != Failed {
		t.Fatalf("state=%s, want failed", got)
	}
	if !h.conn.isClosed() {
		t.Fatal("provider connection must be closed on join failure")
	}
}

func TestMediaPermissionFailureIsNonFatal(t *testing.T) {
	h := newHarness(Options{})
	h.conn.enableErr = map[Device]error{DeviceCamera: errors.New("permission denied")}

	if err := h.ctrl.Connect(context.Background(), "r1"); err != nil {
		t.Fatalf("Connect err=%v, media failure must not fail the connection", err)
	}
	if got := h.ctrl.State(); got != Connected {
		t.Fatalf("state=%s, want connected", got)
	}
	if !errors.Is(h.ctrl.LastMediaError(), domain.ErrMediaPermission) {
		t.Fatalf("LastMediaError=%v, want ErrMediaPermission", h.ctrl.LastMediaError())
	}
	if h.conn.DeviceEnabled(DeviceCamera) {
		t.Fatal("camera must stay off")
	}
	if !h.conn.DeviceEnabled(DeviceMic) {
		t.Fatal("mic bring-up must still be attempted")
	}
}

func TestReconcileStableRosterIsReferenceStable(t *testing.T) {
	h := newHarness(Options{})
	h.conn.setSnapshot(twoPartySnapshot())
	if err := h.ctrl.Connect(context.Background(), "r1"); err != nil {
		t.Fatal(err)
	}

	before := atomic.LoadInt32(&h.changes)
	firstRoster := h.ctrl.Roster()

	// Same structural state pushed again: no observable mutation.
	h.conn.setSnapshot(twoPartySnapshot())
	h.conn.push(EventTrackMuted)
	time.Sleep(50 * time.Millisecond)

	if got := atomic.LoadInt32(&h.changes); got != before {
		t.Fatalf("OnChange fired %d extra times for an unchanged roster", got-before)
	}
	after := h.ctrl.Roster()
	if after[1].VideoTrack.ID != firstRoster[1].VideoTrack.ID {
		t.Fatal("unchanged roster must keep the same track handles")
	}
}

func TestTrackHandleReuseAndReplacement(t *testing.T) {
	h := newHarness(Options{})
	h.conn.setSnapshot(twoPartySnapshot())
	if err := h.ctrl.Connect(context.Background(), "r1"); err != nil {
		t.Fatal(err)
	}
	orig := h.ctrl.Roster()[1]

	// Video track replaced: new handle. Audio untouched: same handle.
	snap := twoPartySnapshot()
	snap.Participants[0].Tracks[0].ID = "v2"
	h.conn.setSnapshot(snap)
	h.conn.push(EventTrackPublished)
	waitFor(t, "video handle replacement", func() bool {
		r := h.ctrl.Roster()
		return r[1].VideoTrack != nil && r[1].VideoTrack.TrackID == "v2"
	})
	next := h.ctrl.Roster()[1]
	if next.VideoTrack.ID == orig.VideoTrack.ID {
		t.Fatal("replaced track must get a fresh handle")
	}
	if next.AudioTrack.ID != orig.AudioTrack.ID {
		t.Fatal("audio handle must survive a video-only change")
	}

	// Audio unpublished: audio handle dropped, video handle stable.
	snap2 := twoPartySnapshot()
	snap2.Participants[0].Tracks[0].ID = "v2"
	snap2.Participants[0].Tracks = snap2.Participants[0].Tracks[:1]
	h.conn.setSnapshot(snap2)
	h.conn.push(EventTrackUnpublished)
	waitFor(t, "audio unpublish", func() bool {
		return h.ctrl.Roster()[1].AudioTrack == nil
	})
	if h.ctrl.Roster()[1].VideoTrack.ID != next.VideoTrack.ID {
		t.Fatal("video handle must be unaffected by audio unpublish")
	}
}

func TestToggleCameraIsIdempotentAgainstActualState(t *testing.T) {
	h := newHarness(Options{})
	if err := h.ctrl.Connect(context.Background(), "r1"); err != nil {
		t.Fatal(err)
	}

	// Camera is on after connect; a provider-driven change flips it
	// off behind our back.
	_ = h.conn.DisableDevice(context.Background(), DeviceCamera)

	// Toggle consults the real publication state, so this enables
	// rather than "toggling" a stale local boolean to off.
	if err := h.ctrl.ToggleCamera(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !h.conn.DeviceEnabled(DeviceCamera) {
		t.Fatal("camera should be on")
	}
	if err := h.ctrl.ToggleCamera(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.conn.DeviceEnabled(DeviceCamera) {
		t.Fatal("camera should be off")
	}
}

func TestToggleWithoutSession(t *testing.T) {
	h := newHarness(Options{})
	if err := h.ctrl.ToggleCamera(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err=%v, want ErrNotConnected", err)
	}
}

func TestScreenShareSwapsSingleVideoPublication(t *testing.T) {
	h := newHarness(Options{})
	if err := h.ctrl.Connect(context.Background(), "r1"); err != nil {
		t.Fatal(err)
	}
	if !h.conn.DeviceEnabled(DeviceCamera) {
		t.Fatal("precondition: camera on")
	}

	if err := h.ctrl.ToggleScreenShare(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.conn.DeviceEnabled(DeviceCamera) || !h.conn.DeviceEnabled(DeviceScreen) {
		t.Fatal("screen share start must unpublish the camera")
	}

	if err := h.ctrl.ToggleScreenShare(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !h.conn.DeviceEnabled(DeviceCamera) || h.conn.DeviceEnabled(DeviceScreen) {
		t.Fatal("screen share stop must republish the camera")
	}
}

func TestScreenShareBrowserStopRepublishesCamera(t *testing.T) {
	h := newHarness(Options{})
	if err := h.ctrl.Connect(context.Background(), "r1"); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.ToggleScreenShare(context.Background()); err != nil {
		t.Fatal(err)
	}

	// The browser ends the capture on its own.
	_ = h.conn.DisableDevice(context.Background(), DeviceScreen)
	h.conn.push(EventScreenShareEnded)

	waitFor(t, "camera republish", func() bool { return h.conn.DeviceEnabled(DeviceCamera) })
}

func TestScreenShareFailureRestoresCamera(t *testing.T) {
	h := newHarness(Options{})
	if err := h.ctrl.Connect(context.Background(), "r1"); err != nil {
		t.Fatal(err)
	}
	h.conn.mu.Lock()
	h.conn.enableErr = map[Device]error{DeviceScreen: errors.New("capture denied")}
	h.conn.mu.Unlock()

	err := h.ctrl.ToggleScreenShare(context.Background())
	if !errors.Is(err, domain.ErrMediaPermission) {
		t.Fatalf("err=%v, want ErrMediaPermission", err)
	}
	if !h.conn.DeviceEnabled(DeviceCamera) {
		t.Fatal("camera must be restored when screen capture fails")
	}
}

func TestDisconnectResetsEverything(t *testing.T) {
	h := newHarness(Options{})
	h.conn.setSnapshot(twoPartySnapshot())
	if err := h.ctrl.Connect(context.Background(), "r1"); err != nil {
		t.Fatal(err)
	}

	h.ctrl.Disconnect()
	if got := h.ctrl.State(); got != Idle {
		t.Fatalf("state=%s, want idle", got)
	}
	if got := h.ctrl.Room(); got != "" {
		t.Fatalf("room=%q, want empty", got)
	}
	if len(h.ctrl.Roster()) != 0 {
		t.Fatal("roster must be cleared")
	}
	if !h.conn.isClosed() {
		t.Fatal("provider connection must be closed")
	}
	if h.conn.DeviceEnabled(DeviceCamera) || h.conn.DeviceEnabled(DeviceMic) {
		t.Fatal("devices must be disabled before leaving")
	}
}

func TestProviderDisconnectEventParksStateDisconnected(t *testing.T) {
	h := newHarness(Options{})
	if err := h.ctrl.Connect(context.Background(), "r1"); err != nil {
		t.Fatal(err)
	}
	h.conn.push(EventDisconnected)
	waitFor(t, "disconnected state", func() bool { return h.ctrl.State() == Disconnected })
	if !h.conn.isClosed() {
		t.Fatal("connection must be closed after provider drop")
	}
}

func TestResyncBackstopCatchesMissedEvents(t *testing.T) {
	h := newHarness(Options{ResyncDelay: 20 * time.Millisecond})
	if err := h.ctrl.Connect(context.Background(), "r1"); err != nil {
		t.Fatal(err)
	}

	// Roster changes but the event is lost; the delayed re-sync must
	// still pick it up.
	h.conn.setSnapshot(twoPartySnapshot())
	waitFor(t, "delayed resync", func() bool { return len(h.ctrl.Roster()) == 2 })
}

func TestAdminActions(t *testing.T) {
	h := newHarness(Options{})
	if err := h.ctrl.Connect(context.Background(), "r1"); err != nil {
		t.Fatal(err)
	}

	if err := h.ctrl.MuteParticipant(context.Background(), "p2", domain.TrackAudio); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.KickParticipant(context.Background(), "p2"); err != nil {
		t.Fatal(err)
	}
	if h.admin.muted[0] != "R1/p2/audio" || h.admin.kicked[0] != "R1/p2" {
		t.Fatalf("admin calls=%v %v", h.admin.muted, h.admin.kicked)
	}

	h.ctrl.Disconnect()
	if err := h.ctrl.MuteParticipant(context.Background(), "p2", domain.TrackAudio); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err=%v, want ErrNotConnected", err)
	}
}
