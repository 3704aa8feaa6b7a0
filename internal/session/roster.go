package session

import (
	"sort"

	"github.com/google/uuid"

	"github.com/freaksai/roomgate/internal/domain"
)

// reconcile recomputes the whole roster from the provider's current
// authoritative state. It is triggered by every provider event and by
// the re-sync timers; incremental patching is deliberately avoided so
// missed or reordered events cannot cause drift. When the recomputed
// roster is structurally identical to the previous one, no state is
// mutated and OnChange does not fire.
func (c *Controller) reconcile(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.conn == nil {
		c.mu.Unlock()
		return
	}
	snap := c.conn.Snapshot()

	next, handles := buildRoster(snap, c.handles)
	if rostersEqual(c.roster, next) {
		c.mu.Unlock()
		return
	}
	c.roster = next
	c.handles = handles
	cb := c.opts.OnChange
	out := make([]domain.Participant, len(next))
	copy(out, next)
	c.mu.Unlock()

	if cb != nil {
		cb(out)
	}
}

// buildRoster maps a provider snapshot to participants, reusing track
// handles from prev as long as the underlying track id is unchanged and
// the track is still live. A new handle means a genuinely new stream.
func buildRoster(snap RoomSnapshot, prev map[string]*domain.TrackHandle) ([]domain.Participant, map[string]*domain.TrackHandle) {
	handles := make(map[string]*domain.TrackHandle, len(prev))
	out := make([]domain.Participant, 0, len(snap.Participants))

	for _, ps := range snap.Participants {
		p := domain.Participant{
			ID:          ps.ID,
			DisplayName: ps.DisplayName,
			IsLocal:     ps.ID == snap.LocalID,
			IsSpeaking:  ps.Speaking,
		}
		for _, t := range ps.Tracks {
			if !t.Live {
				continue
			}
			switch t.Kind {
			case domain.TrackAudio:
				p.MicEnabled = !t.Muted
				p.AudioTrack = adoptHandle(handles, prev, ps.ID, t)
			case domain.TrackVideo:
				if t.Screen {
					p.ScreenShareEnabled = true
				} else {
					p.CameraEnabled = !t.Muted
				}
				p.VideoTrack = adoptHandle(handles, prev, ps.ID, t)
			}
		}
		out = append(out, p)
	}

	// Local first, remotes in stable id order.
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsLocal != out[j].IsLocal {
			return out[i].IsLocal
		}
		return out[i].ID < out[j].ID
	})
	return out, handles
}

func adoptHandle(handles, prev map[string]*domain.TrackHandle, participantID string, t TrackInfo) *domain.TrackHandle {
	key := participantID + "/" + string(t.Kind)
	if h, ok := prev[key]; ok && h.TrackID == t.ID {
		handles[key] = h
		return h
	}
	h := &domain.TrackHandle{ID: uuid.NewString(), TrackID: t.ID, Kind: t.Kind}
	handles[key] = h
	return h
}

func rostersEqual(a, b []domain.Participant) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID ||
			a[i].DisplayName != b[i].DisplayName ||
			a[i].IsLocal != b[i].IsLocal ||
			a[i].CameraEnabled != b[i].CameraEnabled ||
			a[i].MicEnabled != b[i].MicEnabled ||
			a[i].ScreenShareEnabled != b[i].ScreenShareEnabled ||
			a[i].IsSpeaking != b[i].IsSpeaking ||
			!handlesEqual(a[i].VideoTrack, b[i].VideoTrack) ||
			!handlesEqual(a[i].AudioTrack, b[i].AudioTrack) {
			return false
		}
	}
	return true
}

func handlesEqual(a, b *domain.TrackHandle) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID && a.TrackID == b.TrackID
}
