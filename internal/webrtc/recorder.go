package webrtc

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"

	"skillswap/native/internal/domain"
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// Recorder writes remote tracks into a directory: H264 as Annex-B
// (remote.h264), VP8 as IVF (remote.ivf) and Opus as Ogg (remote.ogg).
// Other codecs are drained.
type Recorder struct {
	dir    string
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewRecorder creates dir if needed.
func NewRecorder(dir string, logger zerolog.Logger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}
	return &Recorder{dir: dir, logger: logger}, nil
}

// Record starts writing track in the background until it ends.
func (r *Recorder) Record(track domain.RemoteTrack) {
	rt, ok := track.(*RemoteTrack)
	if !ok {
		r.logger.Warn().Str("track", track.ID()).Msg("not a pion track, not recording")
		return
	}
	remote := rt.Remote()
	codec := remote.Codec()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		var err error
		switch strings.ToLower(codec.MimeType) {
		case strings.ToLower(pion.MimeTypeH264):
			err = r.writeH264(remote)
		case strings.ToLower(pion.MimeTypeVP8):
			err = r.writeIVF(remote)
		case strings.ToLower(pion.MimeTypeOpus):
			err = r.writeOgg(remote, codec)
		default:
			r.logger.Info().Str("codec", codec.MimeType).Msg("unsupported codec, draining")
			Drain(rt)
		}
		if err != nil {
			r.logger.Warn().Err(err).Str("codec", codec.MimeType).Msg("recording stopped")
		}
	}()
}

// Wait blocks until every recording goroutine has finished.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

func (r *Recorder) writeH264(track *pion.TrackRemote) error {
	f, err := os.Create(filepath.Join(r.dir, "remote.h264"))
	if err != nil {
		return fmt.Errorf("create h264 file: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	defer w.Flush()

	r.logger.Info().Msg("recording H264 video track")
	depack := NewH264Depacketizer()
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return nil
		}
		for _, nalu := range depack.Depacketize(pkt.SequenceNumber, pkt.Payload) {
			if len(nalu) == 0 {
				continue
			}
			if _, err := w.Write(annexBStartCode); err != nil {
				return err
			}
			if _, err := w.Write(nalu); err != nil {
				return err
			}
		}
	}
}

func (r *Recorder) writeIVF(track *pion.TrackRemote) error {
	w, err := ivfwriter.New(filepath.Join(r.dir, "remote.ivf"))
	if err != nil {
		return fmt.Errorf("create ivf writer: %w", err)
	}
	defer w.Close()

	r.logger.Info().Msg("recording VP8 video track")
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return nil
		}
		if err := w.WriteRTP(pkt); err != nil {
			return err
		}
	}
}

func (r *Recorder) writeOgg(track *pion.TrackRemote, codec pion.RTPCodecParameters) error {
	channels := codec.Channels
	if channels == 0 {
		channels = 2
	}
	w, err := oggwriter.New(filepath.Join(r.dir, "remote.ogg"), codec.ClockRate, channels)
	if err != nil {
		return fmt.Errorf("create ogg writer: %w", err)
	}
	defer w.Close()

	r.logger.Info().Msg("recording Opus audio track")
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return nil
		}
		if err := w.WriteRTP(pkt); err != nil {
			return err
		}
	}
}

// Drain reads and discards a remote track until it ends.
func Drain(track *RemoteTrack) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Remote().Read(buf); err != nil {
			return
		}
	}
}
