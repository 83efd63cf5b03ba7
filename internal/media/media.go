// Package media acquires local audio/video and renders remote streams.
// Local capture comes from a Source (media files by default, real devices
// with the mediadevices build tag); remote tracks are drained into a Sink,
// one per remote stream.
package media

import (
	"context"
	"errors"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var (
	ErrNoDevice      = errors.New("no capture device available")
	ErrNothingWanted = errors.New("neither audio nor video requested")
	ErrStopped       = errors.New("stream stopped")
)

// Constraints select which kinds of media to capture.
type Constraints struct {
	Audio bool
	Video bool
}

// DefaultConstraints asks for both audio and video.
var DefaultConstraints = Constraints{Audio: true, Video: true}

// LocalStream is captured local media. Stop releases the underlying
// devices or files and ends every track; it is safe to call twice.
type LocalStream interface {
	ID() string
	Tracks() []webrtc.TrackLocal
	Stop()
}

// Source acquires a LocalStream, the equivalent of getUserMedia.
type Source interface {
	GetUserMedia(ctx context.Context, c Constraints) (LocalStream, error)
}

// RemoteTrack is the read side of a received track. *webrtc.TrackRemote
// satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

var _ RemoteTrack = (*webrtc.TrackRemote)(nil)

// Sink renders one remote stream. Every track of the stream is attached
// to the same sink.
type Sink interface {
	StreamID() string
	Attach(track RemoteTrack) error
	Stats() SinkStats
	Close() error
}

// SinkFactory makes a sink for a newly seen remote stream.
type SinkFactory interface {
	NewSink(streamID string) (Sink, error)
}

// SinkStats count what a sink has consumed so far.
type SinkStats struct {
	StreamID string
	Tracks   int
	Kinds    []string
	Packets  uint64
	Bytes    uint64
	Output   string
}
