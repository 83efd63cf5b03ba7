package call

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/Foodstream-io/livecall/internal/media"
	"github.com/Foodstream-io/livecall/internal/signaling"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
)

type fakePeer struct {
	mu         sync.Mutex
	tracks     int
	removed    bool
	closed     int
	local      *pion.SessionDescription
	remote     *pion.SessionDescription
	candidates []string
	offerErr   error

	onCandidate func(pion.ICECandidateInit)
	onTrack     func(media.RemoteTrack)
	onState     func(pion.PeerConnectionState)
}

func (p *fakePeer) AddTrack(pion.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks++
	return nil
}

func (p *fakePeer) RemoveTracks() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = true
	return nil
}

func (p *fakePeer) CreateOffer() (pion.SessionDescription, error) {
	if p.offerErr != nil {
		return pion.SessionDescription{}, p.offerErr
	}
	return pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (p *fakePeer) CreateAnswer() (pion.SessionDescription, error) {
	return pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (p *fakePeer) SetLocalDescription(d pion.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = &d
	return nil
}

func (p *fakePeer) SetRemoteDescription(d pion.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = &d
	return nil
}

func (p *fakePeer) LocalDescription() *pion.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

func (p *fakePeer) AddICECandidate(c pion.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errors.New("remote description not set")
	}
	p.candidates = append(p.candidates, c.Candidate)
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(pion.ICECandidateInit))             { p.onCandidate = fn }
func (p *fakePeer) OnTrack(fn func(media.RemoteTrack))                        { p.onTrack = fn }
func (p *fakePeer) OnConnectionStateChange(fn func(pion.PeerConnectionState)) { p.onState = fn }

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

type fakeFactory struct {
	pc  *fakePeer
	err error
}

func (f *fakeFactory) NewPeerConnection() (PeerConnection, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pc, nil
}

type fakeStream struct {
	mu      sync.Mutex
	stopped int
}

func (s *fakeStream) ID() string                { return "local" }
func (s *fakeStream) Tracks() []pion.TrackLocal { return []pion.TrackLocal{nil, nil} }
func (s *fakeStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
}

type fakeSource struct {
	stream *fakeStream
	err    error
}

func (s *fakeSource) GetUserMedia(context.Context, media.Constraints) (media.LocalStream, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.stream, nil
}

type fakeSignaler struct {
	answer signaling.SessionDescription
	err    error
	offers []signaling.SessionDescription
}

func (s *fakeSignaler) PostOffer(_ context.Context, _ string, offer signaling.SessionDescription) (signaling.SessionDescription, error) {
	s.offers = append(s.offers, offer)
	return s.answer, s.err
}

type fakeRemoteTrack struct{ id, stream string }

func (t fakeRemoteTrack) ID() string                     { return t.id }
func (t fakeRemoteTrack) StreamID() string               { return t.stream }
func (t fakeRemoteTrack) Kind() pion.RTPCodecType        { return pion.RTPCodecTypeVideo }
func (t fakeRemoteTrack) Codec() pion.RTPCodecParameters { return pion.RTPCodecParameters{} }
func (t fakeRemoteTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, io.EOF
}

type harness struct {
	pc     *fakePeer
	stream *fakeStream
	sig    *fakeSignaler
	ctrl   *Controller
	states []State
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		pc:     &fakePeer{},
		stream: &fakeStream{},
		sig:    &fakeSignaler{answer: signaling.SessionDescription{Type: "answer", SDP: "v=0...answer..."}},
	}
	h.ctrl = New(Config{
		Factory:  &fakeFactory{pc: h.pc},
		Source:   &fakeSource{stream: h.stream},
		Signaler: h.sig,
	})
	h.ctrl.OnStateChange(func(s State) { h.states = append(h.states, s) })
	return h
}

func candidate(s string) signaling.ICECandidate {
	mid := "0"
	return signaling.ICECandidate{Candidate: s, SDPMid: &mid}
}

func TestControllerOffererFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.ctrl.Start(ctx, "r-123"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := h.ctrl.State(); got != StateCreatingOffer {
		t.Fatalf("state after Start = %s", got)
	}
	if h.pc.tracks != 2 {
		t.Errorf("added %d tracks, want 2", h.pc.tracks)
	}

	if err := h.ctrl.Negotiate(ctx); err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if got := h.ctrl.State(); got != StateConnected {
		t.Fatalf("state after Negotiate = %s", got)
	}
	if len(h.sig.offers) != 1 || h.sig.offers[0].Type != "offer" {
		t.Errorf("offers = %+v", h.sig.offers)
	}
	if h.pc.remote == nil || h.pc.remote.SDP != "v=0...answer..." {
		t.Errorf("remote description = %+v", h.pc.remote)
	}

	want := []State{StateAcquiringMedia, StateCreatingOffer, StateAwaitingAnswer, StateConnected}
	if len(h.states) != len(want) {
		t.Fatalf("states = %v, want %v", h.states, want)
	}
	for i := range want {
		if h.states[i] != want[i] {
			t.Errorf("states[%d] = %s, want %s", i, h.states[i], want[i])
		}
	}
}

func TestControllerBuffersEarlyCandidates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.ctrl.AddRemoteCandidate(candidate("candidate:early-1")); err != nil {
		t.Fatalf("AddRemoteCandidate before Start: %v", err)
	}
	if err := h.ctrl.Start(ctx, "r-1"); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.AddRemoteCandidate(candidate("candidate:early-2")); err != nil {
		t.Fatal(err)
	}
	if len(h.pc.candidates) != 0 {
		t.Fatalf("candidates applied before remote description: %v", h.pc.candidates)
	}

	if err := h.ctrl.Negotiate(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.AddRemoteCandidate(candidate("candidate:late")); err != nil {
		t.Fatal(err)
	}

	want := []string{"candidate:early-1", "candidate:early-2", "candidate:late"}
	if len(h.pc.candidates) != len(want) {
		t.Fatalf("applied %v, want %v", h.pc.candidates, want)
	}
	for i := range want {
		if h.pc.candidates[i] != want[i] {
			t.Errorf("applied[%d] = %s, want %s", i, h.pc.candidates[i], want[i])
		}
	}
}

func TestControllerNegotiationFailureCloses(t *testing.T) {
	h := newHarness(t)
	h.sig.err = &signaling.Error{Op: "post offer", Err: signaling.ErrSignaling, StatusCode: 500}
	ctx := context.Background()

	if err := h.ctrl.Start(ctx, "r-1"); err != nil {
		t.Fatal(err)
	}
	err := h.ctrl.Negotiate(ctx)
	if !errors.Is(err, ErrNegotiation) {
		t.Fatalf("err = %v, want ErrNegotiation", err)
	}
	if !errors.Is(err, signaling.ErrSignaling) {
		t.Errorf("err = %v, want the signaling cause preserved", err)
	}
	if got := h.ctrl.State(); got != StateClosed {
		t.Errorf("state = %s, want closed", got)
	}
	if h.stream.stopped != 1 {
		t.Errorf("media stopped %d times, want 1", h.stream.stopped)
	}
	if h.pc.closed != 1 || !h.pc.removed {
		t.Errorf("peer closed=%d removed=%v", h.pc.closed, h.pc.removed)
	}
	if err := h.ctrl.AddRemoteCandidate(candidate("candidate:x")); !errors.Is(err, ErrClosed) {
		t.Errorf("AddRemoteCandidate after close = %v, want ErrClosed", err)
	}
}

func TestControllerMalformedAnswer(t *testing.T) {
	h := newHarness(t)
	h.sig.answer = signaling.SessionDescription{Type: "offer", SDP: "v=0"}
	ctx := context.Background()

	if err := h.ctrl.Start(ctx, "r-1"); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.Negotiate(ctx); !errors.Is(err, ErrNegotiation) {
		t.Fatalf("err = %v, want ErrNegotiation", err)
	}
	if h.ctrl.State() != StateClosed {
		t.Errorf("state = %s", h.ctrl.State())
	}
}

func TestControllerOfferFailure(t *testing.T) {
	h := newHarness(t)
	h.pc.offerErr = errors.New("no codecs")
	ctx := context.Background()

	if err := h.ctrl.Start(ctx, "r-1"); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.Negotiate(ctx); !errors.Is(err, ErrNegotiation) {
		t.Fatalf("err = %v", err)
	}
	if len(h.sig.offers) != 0 {
		t.Error("offer was posted despite creation failure")
	}
}

func TestControllerMediaDenied(t *testing.T) {
	denied := errors.New("permission denied")
	ctrl := New(Config{
		Factory:  &fakeFactory{pc: &fakePeer{}},
		Source:   &fakeSource{err: denied},
		Signaler: &fakeSignaler{},
	})

	err := ctrl.Start(context.Background(), "r-1")
	if !errors.Is(err, ErrMediaAcquisition) || !errors.Is(err, denied) {
		t.Fatalf("err = %v", err)
	}
	if ctrl.State() != StateClosed {
		t.Errorf("state = %s", ctrl.State())
	}
}

func TestControllerPeerConnectionFailure(t *testing.T) {
	broken := errors.New("no codecs registered")
	stream := &fakeStream{}
	ctrl := New(Config{
		Factory:  &fakeFactory{err: broken},
		Source:   &fakeSource{stream: stream},
		Signaler: &fakeSignaler{},
	})

	err := ctrl.Start(context.Background(), "r-1")
	if !errors.Is(err, ErrNegotiation) || !errors.Is(err, broken) {
		t.Fatalf("err = %v", err)
	}
	if errors.Is(err, ErrMediaAcquisition) {
		t.Error("peer connection failure reported as a media failure")
	}
	if ctrl.State() != StateClosed {
		t.Errorf("state = %s", ctrl.State())
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()
	if stream.stopped != 1 {
		t.Errorf("local media stopped %d times, want 1", stream.stopped)
	}
}

func TestControllerStopIsIdempotent(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Start(context.Background(), "r-1"); err != nil {
		t.Fatal(err)
	}

	h.ctrl.Stop()
	h.ctrl.Stop()

	if h.pc.closed != 1 {
		t.Errorf("peer closed %d times, want 1", h.pc.closed)
	}
	if h.stream.stopped != 1 {
		t.Errorf("media stopped %d times, want 1", h.stream.stopped)
	}

	// Stop on a controller that never started is also fine.
	New(Config{}).Stop()
}

func TestControllerDuplicateStreamRendersOnce(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Start(context.Background(), "r-1"); err != nil {
		t.Fatal(err)
	}

	track := fakeRemoteTrack{id: "v1", stream: "remote"}
	h.pc.onTrack(track)
	h.pc.onTrack(track)
	h.pc.onTrack(fakeRemoteTrack{id: "a1", stream: "remote"})

	if got := h.ctrl.Sinks(); len(got) != 1 || got[0] != "remote" {
		t.Fatalf("sinks = %v, want [remote]", got)
	}

	h.ctrl.Stop()
	if got := h.ctrl.Sinks(); len(got) != 0 {
		t.Errorf("sinks after Stop = %v", got)
	}
}

func TestControllerForwardsLocalCandidates(t *testing.T) {
	h := newHarness(t)
	var got []string
	h.ctrl.OnLocalCandidate(func(c signaling.ICECandidate) { got = append(got, c.Candidate) })

	if err := h.ctrl.Start(context.Background(), "r-1"); err != nil {
		t.Fatal(err)
	}
	h.pc.onCandidate(pion.ICECandidateInit{Candidate: "candidate:local"})
	h.ctrl.Stop()
	h.pc.onCandidate(pion.ICECandidateInit{Candidate: "candidate:after-stop"})

	if len(got) != 1 || got[0] != "candidate:local" {
		t.Errorf("forwarded %v", got)
	}
}

func TestControllerReportsConnectionFailure(t *testing.T) {
	h := newHarness(t)
	var failures []error
	h.ctrl.OnFailure(func(err error) { failures = append(failures, err) })

	if err := h.ctrl.Start(context.Background(), "r-1"); err != nil {
		t.Fatal(err)
	}
	h.pc.onState(pion.PeerConnectionStateConnected)
	h.pc.onState(pion.PeerConnectionStateFailed)

	if len(failures) != 1 || !errors.Is(failures[0], ErrConnectionFailed) {
		t.Errorf("failures = %v", failures)
	}
	if h.ctrl.ConnectionState() != pion.PeerConnectionStateFailed {
		t.Errorf("connection state = %s", h.ctrl.ConnectionState())
	}
}

func TestControllerAnswererFlow(t *testing.T) {
	pc := &fakePeer{}
	ctrl := New(Config{
		Factory: &fakeFactory{pc: pc},
		Source:  &fakeSource{stream: &fakeStream{}},
		Role:    RoleAnswerer,
	})
	ctx := context.Background()

	if err := ctrl.Start(ctx, "r-1"); err != nil {
		t.Fatal(err)
	}
	if ctrl.State() != StateAwaitingOffer {
		t.Fatalf("state = %s", ctrl.State())
	}
	if err := ctrl.Negotiate(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Negotiate on answerer = %v, want ErrInvalidState", err)
	}

	answer, err := ctrl.Answer(ctx, signaling.SessionDescription{Type: "offer", SDP: "v=0 remote offer"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if answer.Type != "answer" || answer.SDP != "v=0 answer" {
		t.Errorf("answer = %+v", answer)
	}
	if ctrl.State() != StateConnected {
		t.Errorf("state = %s", ctrl.State())
	}
}
