//go:build mediadevices

package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // registers camera adapters
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers microphone adapters
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// DeviceSource captures from the first camera and microphone found.
// Building it needs cgo plus libvpx and libopus.
type DeviceSource struct {
	Width, Height int
	Logger        *slog.Logger

	once     sync.Once
	selector *mediadevices.CodecSelector
	initErr  error
}

var _ Source = (*DeviceSource)(nil)

// NewDeviceSource returns a source capturing 640x480 video.
func NewDeviceSource(logger *slog.Logger) *DeviceSource {
	return &DeviceSource{Width: 640, Height: 480, Logger: logger}
}

// CodecSelector exposes the encoders so the peer connection's media engine
// can register matching codecs.
func (s *DeviceSource) CodecSelector() (*mediadevices.CodecSelector, error) {
	s.once.Do(func() {
		vpxParams, err := vpx.NewVP8Params()
		if err != nil {
			s.initErr = fmt.Errorf("failed to create VP8 params: %w", err)
			return
		}
		vpxParams.BitRate = 500_000
		vpxParams.KeyFrameInterval = 60
		vpxParams.Deadline = 200 * time.Millisecond

		opusParams, err := opus.NewParams()
		if err != nil {
			s.initErr = fmt.Errorf("failed to create Opus params: %w", err)
			return
		}
		opusParams.BitRate = 32_000
		opusParams.Latency = opus.Latency20ms

		s.selector = mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		)
	})
	return s.selector, s.initErr
}

// RegisterCodecs adds the device encoders to m.
func (s *DeviceSource) RegisterCodecs(m *webrtc.MediaEngine) error {
	selector, err := s.CodecSelector()
	if err != nil {
		return err
	}
	selector.Populate(m)
	return nil
}

func (s *DeviceSource) GetUserMedia(ctx context.Context, c Constraints) (LocalStream, error) {
	if !c.Audio && !c.Video {
		return nil, ErrNothingWanted
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	selector, err := s.CodecSelector()
	if err != nil {
		return nil, err
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: selector}
	if c.Video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			mc.Width = prop.Int(s.Width)
			mc.Height = prop.Int(s.Height)
		}
	}
	if c.Audio {
		constraints.Audio = func(mc *mediadevices.MediaTrackConstraints) {
			mc.SampleRate = prop.Int(48000)
			mc.ChannelCount = prop.Int(1)
		}
	}

	ms, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}

	stream := &deviceStream{id: uuid.NewString(), ms: ms}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("capture devices opened", "stream_id", stream.id, "tracks", len(ms.GetTracks()))
	return stream, nil
}

type deviceStream struct {
	id   string
	ms   mediadevices.MediaStream
	once sync.Once
}

func (s *deviceStream) ID() string { return s.id }

func (s *deviceStream) Tracks() []webrtc.TrackLocal {
	var tracks []webrtc.TrackLocal
	for _, t := range s.ms.GetTracks() {
		tracks = append(tracks, t)
	}
	return tracks
}

func (s *deviceStream) Stop() {
	s.once.Do(func() {
		for _, t := range s.ms.GetTracks() {
			t.Close()
		}
	})
}
