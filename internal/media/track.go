package media

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"skillswap/native/internal/domain"
)

// Track wraps a captured pion TrackLocal with an enabled flag. While disabled
// the track stays bound to its senders but its packets are dropped, so muting
// never renegotiates.
type Track struct {
	src  webrtc.TrackLocal
	stop func() error

	enabled  atomic.Bool
	stopOnce sync.Once
	stopErr  error
	stopped  atomic.Bool

	mu    sync.Mutex
	bound map[string]*gatedContext
}

// NewTrack wraps src; stop releases the underlying device.
func NewTrack(src webrtc.TrackLocal, stop func() error) *Track {
	t := &Track{
		src:   src,
		stop:  stop,
		bound: make(map[string]*gatedContext),
	}
	t.enabled.Store(true)
	return t
}

func (t *Track) ID() string { return t.src.ID() }

func (t *Track) Kind() domain.TrackKind {
	if t.src.Kind() == webrtc.RTPCodecTypeVideo {
		return domain.TrackVideo
	}
	return domain.TrackAudio
}

func (t *Track) Enabled() bool { return t.enabled.Load() }

func (t *Track) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// Stop releases the device once; later calls return the first result.
func (t *Track) Stop() error {
	t.stopOnce.Do(func() {
		t.stopped.Store(true)
		if t.stop != nil {
			t.stopErr = t.stop()
		}
	})
	return t.stopErr
}

// Stopped reports whether Stop has run.
func (t *Track) Stopped() bool { return t.stopped.Load() }

// TrackLocal returns the gated pion track to attach to a peer connection.
func (t *Track) TrackLocal() webrtc.TrackLocal { return &gatedTrack{t: t} }

type gatedTrack struct{ t *Track }

func (g *gatedTrack) ID() string                { return g.t.src.ID() }
func (g *gatedTrack) RID() string               { return g.t.src.RID() }
func (g *gatedTrack) StreamID() string          { return g.t.src.StreamID() }
func (g *gatedTrack) Kind() webrtc.RTPCodecType { return g.t.src.Kind() }

func (g *gatedTrack) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	gc := &gatedContext{TrackLocalContext: ctx, track: g.t}
	g.t.mu.Lock()
	g.t.bound[ctx.ID()] = gc
	g.t.mu.Unlock()
	return g.t.src.Bind(gc)
}

func (g *gatedTrack) Unbind(ctx webrtc.TrackLocalContext) error {
	g.t.mu.Lock()
	gc, ok := g.t.bound[ctx.ID()]
	delete(g.t.bound, ctx.ID())
	g.t.mu.Unlock()
	if !ok {
		return g.t.src.Unbind(ctx)
	}
	return g.t.src.Unbind(gc)
}

type gatedContext struct {
	webrtc.TrackLocalContext
	track *Track
}

func (c *gatedContext) WriteStream() webrtc.TrackLocalWriter {
	return &gatedWriter{TrackLocalWriter: c.TrackLocalContext.WriteStream(), track: c.track}
}

type gatedWriter struct {
	webrtc.TrackLocalWriter
	track *Track
}

func (w *gatedWriter) WriteRTP(header *rtp.Header, payload []byte) (int, error) {
	if !w.track.Enabled() {
		return len(payload), nil
	}
	return w.TrackLocalWriter.WriteRTP(header, payload)
}

func (w *gatedWriter) Write(b []byte) (int, error) {
	if !w.track.Enabled() {
		return len(b), nil
	}
	return w.TrackLocalWriter.Write(b)
}

// Stream is a set of local tracks from one capture.
type Stream struct {
	id     string
	tracks []domain.LocalTrack
}

// NewStream groups tracks under a fresh stream id.
func NewStream(tracks ...domain.LocalTrack) *Stream {
	return &Stream{id: uuid.NewString(), tracks: tracks}
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []domain.LocalTrack {
	out := make([]domain.LocalTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}
