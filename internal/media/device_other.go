//go:build !linux

package media

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"skillswap/native/internal/domain"
)

// Devices reports no capture hardware on platforms without a native driver.
// Every capture attempt fails with ErrMediaDeviceNotFound, so Acquire reports
// MediaDeviceNotFound and the session ends Disconnected with that error.
type Devices struct {
	logger zerolog.Logger
}

// NewDevices returns the capture-less device layer.
func NewDevices(logger zerolog.Logger) (*Devices, error) {
	return &Devices{logger: logger}, nil
}

// RegisterCodecs registers pion's default codecs.
func (d *Devices) RegisterCodecs(m *webrtc.MediaEngine) error {
	return m.RegisterDefaultCodecs()
}

// GetUserMedia always fails with ErrMediaDeviceNotFound.
func (d *Devices) GetUserMedia(_ context.Context, c domain.MediaConstraints) (domain.MediaStream, error) {
	d.logger.Info().Str("attempt", c.Label()).Msg("no native capture on this platform")
	return nil, fmt.Errorf("%s capture unsupported: %w", c.Label(), domain.ErrMediaDeviceNotFound)
}
