package domain

// TrackKind distinguishes the publications a participant may hold.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
	TrackAll   TrackKind = "all"
)

// TrackHandle wraps one live provider track. Handles are reused across
// roster recomputes while TrackID is unchanged and the track is live, so
// consumers can treat handle identity as stream identity.
type TrackHandle struct {
	ID      string // handle id, stable for the lifetime of the track
	TrackID string // provider-side track sid
	Kind    TrackKind
}

// Participant is one entry of a room roster as the session controller
// exposes it. The local entry reflects actual hardware track state, not
// requested state.
type Participant struct {
	ID          string
	DisplayName string
	IsLocal     bool

	CameraEnabled      bool
	MicEnabled         bool
	ScreenShareEnabled bool
	IsSpeaking         bool

	VideoTrack *TrackHandle
	AudioTrack *TrackHandle
}
