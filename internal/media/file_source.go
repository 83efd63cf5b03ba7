package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const oggPageDuration = 20 * time.Millisecond

var errNoFrames = errors.New("no media frames in file")

// FileSource plays VP8 IVF and Opus Ogg files as if they were a camera and
// microphone, looping at EOF. A requested kind with no file gets a silent
// track, so the call still negotiates both m-lines.
type FileSource struct {
	VideoFile string
	AudioFile string
	Logger    *slog.Logger
}

var _ Source = (*FileSource)(nil)

// GetUserMedia validates the files and starts pumping samples.
func (s *FileSource) GetUserMedia(ctx context.Context, c Constraints) (LocalStream, error) {
	if !c.Audio && !c.Video {
		return nil, ErrNothingWanted
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	videoPath, audioPath := "", ""
	if c.Video {
		videoPath = s.VideoFile
	}
	if c.Audio {
		audioPath = s.AudioFile
	}
	video, audio, err := ValidateFiles(videoPath, audioPath)
	if err != nil {
		return nil, err
	}

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	stream := &fileStream{
		id:   uuid.NewString(),
		done: make(chan struct{}),
		log:  logger,
	}

	if c.Video {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", stream.id)
		if err != nil {
			return nil, fmt.Errorf("create video track: %w", err)
		}
		stream.tracks = append(stream.tracks, track)
		if video != nil {
			stream.pump(func() error { return stream.playIVF(video.Path, track) })
		}
	}

	if c.Audio {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", stream.id)
		if err != nil {
			stream.Stop()
			return nil, fmt.Errorf("create audio track: %w", err)
		}
		stream.tracks = append(stream.tracks, track)
		if audio != nil {
			stream.pump(func() error { return stream.playOgg(audio.Path, track) })
		}
	}

	logger.Debug("local media acquired", "stream_id", stream.id,
		"video_file", videoPath, "audio_file", audioPath)
	return stream, nil
}

type fileStream struct {
	id     string
	tracks []webrtc.TrackLocal
	log    *slog.Logger

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (s *fileStream) ID() string                  { return s.id }
func (s *fileStream) Tracks() []webrtc.TrackLocal { return s.tracks }

func (s *fileStream) Stop() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
}

// pump runs play until Stop, restarting it at EOF.
func (s *fileStream) pump(play func() error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			err := play()
			if errors.Is(err, ErrStopped) {
				return
			}
			if err != nil {
				s.log.Warn("media file playback stopped", "stream_id", s.id, "err", err)
				return
			}
		}
	}()
}

func (s *fileStream) playIVF(path string, track *webrtc.TrackLocalStaticSample) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader, header, err := ivfreader.NewWith(file)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	frameDuration := time.Second / 30
	if header.TimebaseNumerator > 0 && header.TimebaseDenominator > 0 {
		frameDuration = time.Duration(float64(time.Second) *
			float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for frames := 0; ; frames++ {
		select {
		case <-s.done:
			return ErrStopped
		case <-ticker.C:
		}

		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if frames == 0 {
				return fmt.Errorf("%s: %w", path, errNoFrames)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		if err := track.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
			return err
		}
	}
}

func (s *fileStream) playOgg(path string, track *webrtc.TrackLocalStaticSample) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader, _, err := oggreader.NewWith(file)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	var lastGranule uint64

	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	for pages := 0; ; pages++ {
		select {
		case <-s.done:
			return ErrStopped
		case <-ticker.C:
		}

		page, header, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if pages == 0 {
				return fmt.Errorf("%s: %w", path, errNoFrames)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		// Granule positions count 48kHz samples.
		samples := float64(header.GranulePosition - lastGranule)
		lastGranule = header.GranulePosition
		duration := time.Duration((samples / 48000) * float64(time.Second))

		if err := track.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
			return err
		}
	}
}
