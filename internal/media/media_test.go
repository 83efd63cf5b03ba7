package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type fakeTrack struct {
	id, stream string
	kind       webrtc.RTPCodecType
	mime       string
	packets    chan *rtp.Packet
}

func newFakeTrack(id, stream string, kind webrtc.RTPCodecType, mime string) *fakeTrack {
	return &fakeTrack{id: id, stream: stream, kind: kind, mime: mime, packets: make(chan *rtp.Packet, 16)}
}

func (t *fakeTrack) ID() string                { return t.id }
func (t *fakeTrack) StreamID() string          { return t.stream }
func (t *fakeTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *fakeTrack) Codec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: t.mime}}
}

func (t *fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-t.packets
	if !ok {
		return nil, nil, io.EOF
	}
	return pkt, nil, nil
}

func TestValidateFiles(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "clip.ivf")
	if err := os.WriteFile(good, []byte("DKIF"), 0o644); err != nil {
		t.Fatal(err)
	}
	folder := filepath.Join(dir, "folder.ogg")
	if err := os.Mkdir(folder, 0o755); err != nil {
		t.Fatal(err)
	}
	empty := filepath.Join(dir, "empty.ogg")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	video, audio, err := ValidateFiles(good, "")
	if err != nil {
		t.Fatalf("ValidateFiles: %v", err)
	}
	if video == nil || video.Container != "ivf" || audio != nil {
		t.Errorf("video=%+v audio=%+v", video, audio)
	}

	tests := []struct {
		name, video, audio, want string
	}{
		{"missing", filepath.Join(dir, "nope.ivf"), "", "does not exist"},
		{"empty", "", empty, "file is empty"},
		{"extension", filepath.Join(dir, "clip.mp4"), "", "unsupported extension"},
		{"directory", "", folder, "is a directory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ValidateFiles(tt.video, tt.audio)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestFileSourceIdleTracks(t *testing.T) {
	src := &FileSource{}

	stream, err := src.GetUserMedia(context.Background(), DefaultConstraints)
	if err != nil {
		t.Fatalf("GetUserMedia: %v", err)
	}
	defer stream.Stop()

	tracks := stream.Tracks()
	if len(tracks) != 2 {
		t.Fatalf("got %d tracks, want 2", len(tracks))
	}
	kinds := map[webrtc.RTPCodecType]bool{}
	for _, tr := range tracks {
		kinds[tr.Kind()] = true
		if tr.StreamID() != stream.ID() {
			t.Errorf("track stream id %q, want %q", tr.StreamID(), stream.ID())
		}
	}
	if !kinds[webrtc.RTPCodecTypeAudio] || !kinds[webrtc.RTPCodecTypeVideo] {
		t.Errorf("kinds = %v", kinds)
	}

	stream.Stop()
}

func TestFileSourceRejectsEmptyConstraints(t *testing.T) {
	_, err := (&FileSource{}).GetUserMedia(context.Background(), Constraints{})
	if !errors.Is(err, ErrNothingWanted) {
		t.Errorf("err = %v, want ErrNothingWanted", err)
	}
}

func TestFileSourceBadFile(t *testing.T) {
	src := &FileSource{VideoFile: filepath.Join(t.TempDir(), "missing.ivf")}
	if _, err := src.GetUserMedia(context.Background(), DefaultConstraints); err == nil {
		t.Error("expected validation error")
	}
}

func TestSinkIgnoresDuplicateTrack(t *testing.T) {
	sink, err := DiscardSinks{}.NewSink("stream-1")
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	track := newFakeTrack("t1", "stream-1", webrtc.RTPCodecTypeVideo, webrtc.MimeTypeVP8)
	if err := sink.Attach(track); err != nil {
		t.Fatal(err)
	}
	if err := sink.Attach(track); err != nil {
		t.Fatal(err)
	}

	track.packets <- &rtp.Packet{Payload: []byte{1, 2, 3}}
	close(track.packets)

	deadline := time.Now().Add(time.Second)
	for sink.Stats().Packets == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	st := sink.Stats()
	if st.Tracks != 1 || st.Packets != 1 || st.Bytes != 3 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSinkAttachAfterClose(t *testing.T) {
	sink, _ := DiscardSinks{}.NewSink("s")
	sink.Close()
	if err := sink.Attach(newFakeTrack("t", "s", webrtc.RTPCodecTypeAudio, webrtc.MimeTypeOpus)); !errors.Is(err, ErrStopped) {
		t.Errorf("err = %v, want ErrStopped", err)
	}
}

func TestRecordSinkWritesOgg(t *testing.T) {
	dir := t.TempDir()
	sink, err := RecordSinks{Dir: dir}.NewSink("remote/stream")
	if err != nil {
		t.Fatal(err)
	}

	track := newFakeTrack("a1", "remote/stream", webrtc.RTPCodecTypeAudio, webrtc.MimeTypeOpus)
	if err := sink.Attach(track); err != nil {
		t.Fatal(err)
	}
	close(track.packets)

	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	path := filepath.Join(dir, "remote_stream-audio.ogg")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read recording: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("OggS")) {
		t.Errorf("recording does not start with an Ogg page")
	}
	if got := sink.Stats().Output; got != path {
		t.Errorf("output = %q, want %q", got, path)
	}
}
