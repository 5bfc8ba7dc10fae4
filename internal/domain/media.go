package domain

// TrackKind is the media kind of a track.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// MediaPreferences is what the caller would like to send.
type MediaPreferences struct {
	WantVideo bool
	WantAudio bool
}

// MediaConstraints is a single capture attempt passed to a MediaDevices layer.
type MediaConstraints struct {
	Video            bool
	Audio            bool
	Width            int
	Height           int
	EchoCancellation bool
	NoiseSuppression bool
}

// Label names the attempt for logs, e.g. "video+audio".
func (c MediaConstraints) Label() string {
	switch {
	case c.Video && c.Audio:
		return "video+audio"
	case c.Video:
		return "video-only"
	case c.Audio:
		return "audio-only"
	}
	return "none"
}

// LocalTrack is a captured camera or microphone track. Disabling a track keeps
// it attached to the peer connection; Stop releases the device and is
// idempotent.
type LocalTrack interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop() error
}

// MediaStream groups the local tracks of one capture.
type MediaStream interface {
	ID() string
	Tracks() []LocalTrack
}

// LocalMediaState describes what the Media Acquirer obtained. Stream is nil
// when nothing was captured.
type LocalMediaState struct {
	HasVideoTrack bool
	HasAudioTrack bool
	Stream        MediaStream
}

// Track returns the first track of the given kind, or nil.
func (s LocalMediaState) Track(kind TrackKind) LocalTrack {
	if s.Stream == nil {
		return nil
	}
	for _, t := range s.Stream.Tracks() {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

// RemoteTrack is a track received from the other participant.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() TrackKind
}

// RemoteStream collects the remote tracks received so far.
type RemoteStream struct {
	ID     string
	Tracks []RemoteTrack
}

// HasKind reports whether a remote track of kind has arrived.
func (s *RemoteStream) HasKind(kind TrackKind) bool {
	if s == nil {
		return false
	}
	for _, t := range s.Tracks {
		if t.Kind() == kind {
			return true
		}
	}
	return false
}
