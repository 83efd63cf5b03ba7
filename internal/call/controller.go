// Package call owns the negotiation state machine of one WebRTC call: it
// acquires local media, builds the peer connection, exchanges the offer and
// answer through signaling and buffers remote candidates that arrive before
// the remote description.
package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/Foodstream-io/livecall/internal/media"
	"github.com/Foodstream-io/livecall/internal/signaling"
	pion "github.com/pion/webrtc/v4"
)

// Role decides which side of the offer/answer exchange the controller plays.
type Role int

const (
	RoleOfferer Role = iota
	RoleAnswerer
)

// Signaler sends the local offer and returns the remote answer.
type Signaler interface {
	PostOffer(ctx context.Context, roomID string, offer signaling.SessionDescription) (signaling.SessionDescription, error)
}

// Config wires a Controller to its collaborators.
type Config struct {
	Factory     Factory
	Source      media.Source
	Constraints media.Constraints
	Sinks       media.SinkFactory
	Signaler    Signaler
	Role        Role
	Logger      *slog.Logger
}

// Controller drives one peer connection through
// idle, acquiring-media, creating-offer, awaiting-answer, connected, closed.
// Callbacks are never invoked with the controller's lock held.
type Controller struct {
	cfg   Config
	log   *slog.Logger
	sinks *SinkSet

	mu        sync.Mutex
	state     State
	roomID    string
	pc        PeerConnection
	stream    media.LocalStream
	remoteSet bool
	pending   []signaling.ICECandidate
	connState pion.PeerConnectionState

	onLocalCandidate func(signaling.ICECandidate)
	onStateChange    func(State)
	onFailure        func(error)
}

// New returns an idle controller.
func New(cfg Config) *Controller {
	if cfg.Constraints == (media.Constraints{}) {
		cfg.Constraints = media.DefaultConstraints
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:   cfg,
		log:   logger,
		sinks: NewSinkSet(cfg.Sinks, logger),
		state: StateIdle,
	}
}

// OnLocalCandidate registers the receiver of locally gathered candidates.
func (c *Controller) OnLocalCandidate(fn func(signaling.ICECandidate)) {
	c.mu.Lock()
	c.onLocalCandidate = fn
	c.mu.Unlock()
}

// OnStateChange registers a callback for every state transition.
func (c *Controller) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.onStateChange = fn
	c.mu.Unlock()
}

// OnFailure registers a callback for when the connection fails after
// negotiation.
func (c *Controller) OnFailure(fn func(error)) {
	c.mu.Lock()
	c.onFailure = fn
	c.mu.Unlock()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectionState is the transport-level state pion reports.
func (c *Controller) ConnectionState() pion.PeerConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connState
}

// RoomID is the room passed to Start.
func (c *Controller) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Sinks lists the remote streams being rendered.
func (c *Controller) Sinks() []string {
	return c.sinks.StreamIDs()
}

// SinkStats reports per-stream counters.
func (c *Controller) SinkStats() []media.SinkStats {
	return c.sinks.Stats()
}

// Start acquires local media and builds the peer connection with every
// local track attached.
func (c *Controller) Start(ctx context.Context, roomID string) error {
	if err := c.transition(StateAcquiringMedia); err != nil {
		return newError("start", ErrInvalidState, err)
	}
	c.mu.Lock()
	c.roomID = roomID
	c.mu.Unlock()

	stream, err := c.cfg.Source.GetUserMedia(ctx, c.cfg.Constraints)
	if err != nil {
		c.fail()
		return newError("acquire media", ErrMediaAcquisition, err)
	}
	if !c.adopt(func() { c.stream = stream }) {
		stream.Stop()
		return newError("acquire media", ErrClosed, nil)
	}

	pc, err := c.cfg.Factory.NewPeerConnection()
	if err != nil {
		c.fail()
		return newError("create peer connection", ErrNegotiation, err)
	}
	if !c.adopt(func() { c.pc = pc }) {
		pc.Close()
		return newError("create peer connection", ErrClosed, nil)
	}

	pc.OnICECandidate(c.handleLocalCandidate)
	pc.OnTrack(c.handleRemoteTrack)
	pc.OnConnectionStateChange(c.handleConnectionState)

	for _, track := range stream.Tracks() {
		if err := pc.AddTrack(track); err != nil {
			c.fail()
			return newError("add track", ErrMediaAcquisition, err)
		}
	}

	next := StateCreatingOffer
	if c.cfg.Role == RoleAnswerer {
		next = StateAwaitingOffer
	}
	if err := c.transition(next); err != nil {
		return newError("start", ErrClosed, err)
	}

	c.log.Debug("call started", "room_id", roomID, "tracks", len(stream.Tracks()))
	return nil
}

// Negotiate runs the offerer side: create and set the offer, post it, set
// the answer. Any failure closes the controller.
func (c *Controller) Negotiate(ctx context.Context) error {
	c.mu.Lock()
	state, pc, roomID := c.state, c.pc, c.roomID
	c.mu.Unlock()

	if state != StateCreatingOffer {
		return &Error{Op: "negotiate", Kind: ErrInvalidState, State: state}
	}

	offer, err := pc.CreateOffer()
	if err != nil {
		return c.negotiationFailed("create offer", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return c.negotiationFailed("set local description", err)
	}
	if err := c.transition(StateAwaitingAnswer); err != nil {
		return c.negotiationFailed("await answer", err)
	}

	// The local description may already carry gathered candidates.
	local := offer
	if ld := pc.LocalDescription(); ld != nil {
		local = *ld
	}

	answer, err := c.cfg.Signaler.PostOffer(ctx, roomID, signaling.SessionDescriptionFromPion(local))
	if err != nil {
		return c.negotiationFailed("post offer", err)
	}
	if answer.Type == "" {
		answer.Type = signaling.SDPTypeAnswer
	}
	remote, err := answer.ToPion()
	if err != nil {
		return c.negotiationFailed("parse answer", err)
	}
	if remote.Type != pion.SDPTypeAnswer {
		return c.negotiationFailed("parse answer", errors.New("server replied with "+answer.Type+", not an answer"))
	}

	if err := c.setRemote(pc, remote); err != nil {
		return c.negotiationFailed("set remote description", err)
	}
	if err := c.transition(StateConnected); err != nil {
		return c.negotiationFailed("connect", err)
	}

	c.log.Info("call negotiated", "room_id", roomID)
	return nil
}

// Answer runs the answerer side for a remote offer and returns the local
// answer to send back.
func (c *Controller) Answer(ctx context.Context, offer signaling.SessionDescription) (signaling.SessionDescription, error) {
	c.mu.Lock()
	state, pc, roomID := c.state, c.pc, c.roomID
	c.mu.Unlock()

	if state != StateAwaitingOffer {
		return signaling.SessionDescription{}, &Error{Op: "answer", Kind: ErrInvalidState, State: state}
	}
	if err := ctx.Err(); err != nil {
		return signaling.SessionDescription{}, c.negotiationFailed("answer", err)
	}

	remote, err := offer.ToPion()
	if err != nil {
		return signaling.SessionDescription{}, c.negotiationFailed("parse offer", err)
	}
	if remote.Type != pion.SDPTypeOffer {
		return signaling.SessionDescription{}, c.negotiationFailed("parse offer", errors.New("expected an offer, got "+offer.Type))
	}
	if err := c.transition(StateCreatingAnswer); err != nil {
		return signaling.SessionDescription{}, c.negotiationFailed("create answer", err)
	}

	if err := c.setRemote(pc, remote); err != nil {
		return signaling.SessionDescription{}, c.negotiationFailed("set remote description", err)
	}
	answer, err := pc.CreateAnswer()
	if err != nil {
		return signaling.SessionDescription{}, c.negotiationFailed("create answer", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return signaling.SessionDescription{}, c.negotiationFailed("set local description", err)
	}
	if err := c.transition(StateConnected); err != nil {
		return signaling.SessionDescription{}, c.negotiationFailed("connect", err)
	}

	local := answer
	if ld := pc.LocalDescription(); ld != nil {
		local = *ld
	}
	c.log.Info("call answered", "room_id", roomID)
	return signaling.SessionDescriptionFromPion(local), nil
}

// AddRemoteCandidate applies a remote candidate, or queues it until the
// remote description is set.
func (c *Controller) AddRemoteCandidate(candidate signaling.ICECandidate) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.remoteSet || c.pc == nil {
		c.pending = append(c.pending, candidate)
		c.mu.Unlock()
		return nil
	}
	pc := c.pc
	c.mu.Unlock()

	return pc.AddICECandidate(candidate.ToPion())
}

// Stop removes senders, closes the connection, clears sinks and releases
// local media. Calling it again does nothing.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.fail()
}

// setRemote applies desc and then replays buffered candidates.
func (c *Controller) setRemote(pc PeerConnection, desc pion.SessionDescription) error {
	if err := pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	for {
		c.mu.Lock()
		if c.state == StateClosed {
			c.mu.Unlock()
			return ErrClosed
		}
		pending := c.pending
		c.pending = nil
		if len(pending) == 0 {
			c.remoteSet = true
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()

		for _, cand := range pending {
			if err := pc.AddICECandidate(cand.ToPion()); err != nil {
				c.log.Warn("buffered candidate rejected", "candidate", cand.Candidate, "err", err)
			}
		}
	}
}

func (c *Controller) negotiationFailed(op string, err error) error {
	state := c.State()
	c.fail()
	kind := ErrNegotiation
	if errors.Is(err, ErrClosed) || state == StateClosed {
		kind = ErrClosed
	}
	return &Error{Op: op, Kind: kind, Err: err, State: state}
}

// adopt stores a freshly acquired resource unless the controller was
// stopped meanwhile.
func (c *Controller) adopt(set func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return false
	}
	set()
	return true
}

// fail moves to closed and releases everything held.
func (c *Controller) fail() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	pc, stream := c.pc, c.stream
	c.pc, c.stream = nil, nil
	c.pending = nil
	c.remoteSet = false
	onState := c.onStateChange
	c.mu.Unlock()

	if pc != nil {
		if err := pc.RemoveTracks(); err != nil {
			c.log.Debug("remove tracks failed", "err", err)
		}
		if err := pc.Close(); err != nil {
			c.log.Debug("close peer connection failed", "err", err)
		}
	}
	if err := c.sinks.Clear(); err != nil {
		c.log.Warn("closing remote sinks failed", "err", err)
	}
	if stream != nil {
		stream.Stop()
	}

	c.log.Debug("call state changed", "state", StateClosed)
	if onState != nil {
		onState(StateClosed)
	}
}

func (c *Controller) transition(to State) error {
	c.mu.Lock()
	from := c.state
	if !canTransition(from, to) {
		c.mu.Unlock()
		if from == StateClosed {
			return ErrClosed
		}
		return &Error{Op: "transition to " + string(to), Kind: ErrInvalidState, State: from}
	}
	c.state = to
	onState := c.onStateChange
	c.mu.Unlock()

	c.log.Debug("call state changed", "from", from, "to", to)
	if onState != nil {
		onState(to)
	}
	return nil
}

func (c *Controller) handleLocalCandidate(init pion.ICECandidateInit) {
	c.mu.Lock()
	fn, closed := c.onLocalCandidate, c.state == StateClosed
	c.mu.Unlock()

	if closed || fn == nil {
		return
	}
	fn(signaling.ICECandidateFromPion(init))
}

func (c *Controller) handleRemoteTrack(track media.RemoteTrack) {
	c.log.Debug("remote track received", "track_id", track.ID(), "stream_id", track.StreamID(), "kind", track.Kind())
	if err := c.sinks.Attach(track); err != nil && !errors.Is(err, ErrClosed) {
		c.log.Warn("rendering remote track failed", "stream_id", track.StreamID(), "err", err)
	}
}

func (c *Controller) handleConnectionState(s pion.PeerConnectionState) {
	c.mu.Lock()
	c.connState = s
	onFailure, closed := c.onFailure, c.state == StateClosed
	c.mu.Unlock()

	c.log.Info("peer connection state", "state", s.String())
	if s == pion.PeerConnectionStateFailed && !closed && onFailure != nil {
		onFailure(newError("connection", ErrConnectionFailed, nil))
	}
}
