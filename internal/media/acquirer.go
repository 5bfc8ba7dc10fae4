// Package media acquires local camera and microphone tracks with graceful
// degradation from video+audio to audio-only.
package media

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"skillswap/native/internal/domain"
)

const (
	defaultWidth  = 1280
	defaultHeight = 720
)

// Acquirer drives a MediaDevices layer through the capture fallback ladder.
type Acquirer struct {
	devices domain.MediaDevices
	width   int
	height  int
	logger  zerolog.Logger
}

// Option configures an Acquirer.
type Option func(*Acquirer)

// WithResolution sets the target capture resolution.
func WithResolution(width, height int) Option {
	return func(a *Acquirer) {
		a.width, a.height = width, height
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Acquirer) {
		a.logger = l
	}
}

// NewAcquirer creates an Acquirer over devices.
func NewAcquirer(devices domain.MediaDevices, opts ...Option) *Acquirer {
	a := &Acquirer{
		devices: devices,
		width:   defaultWidth,
		height:  defaultHeight,
		logger:  log.With().Str("component", "media").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Acquire captures local media for prefs. A "not found" failure for the
// combined capture falls back to audio-only; a permission failure is returned
// immediately so the UI can show settings guidance. The caller owns the
// returned stream and must Release it.
func (a *Acquirer) Acquire(ctx context.Context, prefs domain.MediaPreferences) (domain.LocalMediaState, error) {
	attempts := a.ladder(prefs)
	if len(attempts) == 0 {
		a.logger.Info().Msg("no local media requested")
		return domain.LocalMediaState{}, nil
	}

	var notFound error
	for _, c := range attempts {
		if err := ctx.Err(); err != nil {
			return domain.LocalMediaState{}, domain.NewCallError(domain.KindMediaUnknown, "acquire "+c.Label(), err)
		}

		stream, err := a.devices.GetUserMedia(ctx, c)
		if err == nil {
			state := stateOf(stream)
			a.logger.Info().
				Str("attempt", c.Label()).
				Bool("video", state.HasVideoTrack).
				Bool("audio", state.HasAudioTrack).
				Msg("local media captured")
			return state, nil
		}

		kind := Classify(err)
		a.logger.Warn().Err(err).Str("attempt", c.Label()).Str("kind", kind.String()).Msg("capture failed")

		switch kind {
		case domain.KindMediaDeviceNotFound:
			notFound = err
			continue
		case domain.KindMediaPermissionDenied:
			return domain.LocalMediaState{}, domain.NewCallError(kind, "acquire "+c.Label(), err)
		default:
			return domain.LocalMediaState{}, domain.NewCallError(domain.KindMediaUnknown, "acquire "+c.Label(), err)
		}
	}
	return domain.LocalMediaState{}, domain.NewCallError(domain.KindMediaDeviceNotFound, "acquire", notFound)
}

func (a *Acquirer) ladder(prefs domain.MediaPreferences) []domain.MediaConstraints {
	video := domain.MediaConstraints{Video: true, Width: a.width, Height: a.height}
	audio := domain.MediaConstraints{Audio: true, EchoCancellation: true, NoiseSuppression: true}

	switch {
	case prefs.WantVideo && prefs.WantAudio:
		both := video
		both.Audio, both.EchoCancellation, both.NoiseSuppression = true, true, true
		return []domain.MediaConstraints{both, audio}
	case prefs.WantVideo:
		return []domain.MediaConstraints{video}
	case prefs.WantAudio:
		return []domain.MediaConstraints{audio}
	}
	return nil
}

func stateOf(stream domain.MediaStream) domain.LocalMediaState {
	state := domain.LocalMediaState{Stream: stream}
	if stream == nil {
		return state
	}
	for _, t := range stream.Tracks() {
		switch t.Kind() {
		case domain.TrackVideo:
			state.HasVideoTrack = true
		case domain.TrackAudio:
			state.HasAudioTrack = true
		}
	}
	return state
}

// Release stops every track of state so the devices are freed for other
// applications.
func Release(state domain.LocalMediaState) error {
	if state.Stream == nil {
		return nil
	}
	var err error
	for _, t := range state.Stream.Tracks() {
		err = multierr.Append(err, t.Stop())
	}
	return err
}
