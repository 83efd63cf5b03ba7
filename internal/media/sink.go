package media

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/h264writer"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// DiscardSinks drains remote tracks and only counts what arrives.
type DiscardSinks struct {
	Logger *slog.Logger
}

func (f DiscardSinks) NewSink(streamID string) (Sink, error) {
	return newStreamSink(streamID, f.Logger, nil), nil
}

// RecordSinks writes each remote stream under Dir: VP8 to IVF, H264 to
// Annex-B and Opus to Ogg. Other codecs are drained without recording.
type RecordSinks struct {
	Dir    string
	Logger *slog.Logger
}

func (f RecordSinks) NewSink(streamID string) (Sink, error) {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}
	dir := f.Dir
	return newStreamSink(streamID, f.Logger, func(track RemoteTrack) (media.Writer, string, error) {
		base := filepath.Join(dir, safeName(streamID)+"-"+track.Kind().String())
		mime := track.Codec().MimeType
		switch {
		case strings.EqualFold(mime, webrtc.MimeTypeVP8):
			w, err := ivfwriter.New(base + ".ivf")
			return w, base + ".ivf", err
		case strings.EqualFold(mime, webrtc.MimeTypeH264):
			w, err := h264writer.New(base + ".h264")
			return w, base + ".h264", err
		case strings.EqualFold(mime, webrtc.MimeTypeOpus):
			w, err := oggwriter.New(base+".ogg", 48000, 2)
			return w, base + ".ogg", err
		default:
			return nil, "", nil
		}
	}), nil
}

type writerFunc func(track RemoteTrack) (media.Writer, string, error)

type streamSink struct {
	streamID  string
	newWriter writerFunc
	log       *slog.Logger

	mu      sync.Mutex
	tracks  map[string]string
	writers []media.Writer
	outputs []string
	closed  bool

	packets atomic.Uint64
	bytes   atomic.Uint64
}

func newStreamSink(streamID string, logger *slog.Logger, newWriter writerFunc) *streamSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &streamSink{
		streamID:  streamID,
		newWriter: newWriter,
		log:       logger.With("stream_id", streamID),
		tracks:    make(map[string]string),
	}
}

func (s *streamSink) StreamID() string { return s.streamID }

// Attach starts draining track. A track already attached is ignored.
func (s *streamSink) Attach(track RemoteTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStopped
	}
	if _, ok := s.tracks[track.ID()]; ok {
		return nil
	}

	var w media.Writer
	if s.newWriter != nil {
		writer, output, err := s.newWriter(track)
		if err != nil {
			return fmt.Errorf("open recording for track %s: %w", track.ID(), err)
		}
		if writer != nil {
			w = writer
			s.writers = append(s.writers, writer)
			s.outputs = append(s.outputs, output)
		} else {
			s.log.Warn("codec not recordable, draining only", "codec", track.Codec().MimeType)
		}
	}

	s.tracks[track.ID()] = track.Kind().String()
	go s.drain(track, w)

	s.log.Debug("remote track attached", "track_id", track.ID(), "kind", track.Kind())
	return nil
}

func (s *streamSink) drain(track RemoteTrack, w media.Writer) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(len(pkt.Payload)))

		if w == nil {
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		err = w.WriteRTP(pkt)
		s.mu.Unlock()
		if err != nil {
			s.log.Warn("recording write failed", "track_id", track.ID(), "err", err)
			return
		}
	}
}

func (s *streamSink) Stats() SinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	kinds := make([]string, 0, len(s.tracks))
	for _, k := range s.tracks {
		kinds = append(kinds, k)
	}
	return SinkStats{
		StreamID: s.streamID,
		Tracks:   len(s.tracks),
		Kinds:    kinds,
		Packets:  s.packets.Load(),
		Bytes:    s.bytes.Load(),
		Output:   strings.Join(s.outputs, ", "),
	}
}

// Close finalizes recordings. Tracks still being read stop on their next
// packet or when the peer connection closes them.
func (s *streamSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for _, w := range s.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.writers = nil
	return errors.Join(errs...)
}

func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
	if s == "" {
		return "stream"
	}
	return s
}
