//go:build linux

package media

import (
	"context"
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // registers V4L2 cameras
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers microphones
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"skillswap/native/internal/domain"
)

// Devices captures from local cameras and microphones through
// pion/mediadevices, encoding VP8 video and Opus audio.
type Devices struct {
	selector *mediadevices.CodecSelector
	logger   zerolog.Logger
}

// NewDevices builds the codec selector used for every capture.
func NewDevices(logger zerolog.Logger) (*Devices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return &Devices{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		logger: logger,
	}, nil
}

// RegisterCodecs registers the encoder codecs on the peer's media engine.
func (d *Devices) RegisterCodecs(m *webrtc.MediaEngine) error {
	d.selector.Populate(m)
	return nil
}

// GetUserMedia opens the devices for one capture attempt. Devices are
// enumerated first so a missing camera fails fast as "not found".
func (d *Devices) GetUserMedia(ctx context.Context, c domain.MediaConstraints) (domain.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var haveVideo, haveAudio bool
	for _, info := range mediadevices.EnumerateDevices() {
		switch info.Kind {
		case mediadevices.VideoInput:
			haveVideo = true
		case mediadevices.AudioInput:
			haveAudio = true
		}
		d.logger.Debug().Str("label", info.Label).Msg("media device")
	}
	if c.Video && !haveVideo {
		return nil, fmt.Errorf("no camera: %w", domain.ErrMediaDeviceNotFound)
	}
	if c.Audio && !haveAudio {
		return nil, fmt.Errorf("no microphone: %w", domain.ErrMediaDeviceNotFound)
	}
	if c.EchoCancellation || c.NoiseSuppression {
		d.logger.Debug().Msg("audio processing hints are not applied by the native capture layer")
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
	if c.Video {
		width, height := c.Width, c.Height
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			// Raw formats only; MJPEG nodes on some cameras emit frames the
			// VP8 encoder rejects.
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			if width > 0 {
				mc.Width = prop.IntRanged{Max: width}
			}
			if height > 0 {
				mc.Height = prop.IntRanged{Max: height}
			}
		}
	}
	if c.Audio {
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmt.Errorf("get user media (%s): %w", c.Label(), err)
	}

	var tracks []domain.LocalTrack
	for _, mt := range stream.GetTracks() {
		mt := mt
		mt.OnEnded(func(err error) {
			if err != nil {
				d.logger.Warn().Err(err).Str("track", mt.ID()).Msg("local track ended")
			}
		})
		tracks = append(tracks, NewTrack(mt, mt.Close))
	}
	return NewStream(tracks...), nil
}
