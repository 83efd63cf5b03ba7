// Package session is the user-facing call lifecycle: create a room, join it,
// leave it. A Manager owns at most one call at a time.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Foodstream-io/livecall/internal/call"
	"github.com/Foodstream-io/livecall/internal/media"
	"github.com/Foodstream-io/livecall/internal/relay"
	"github.com/Foodstream-io/livecall/internal/signaling"
	"github.com/Foodstream-io/livecall/internal/store"
)

var (
	ErrInvalidRoom = errors.New("invalid room id")
	ErrConflict    = errors.New("a call is already active")
	ErrNotJoined   = errors.New("not in a room")
)

// Signaling is everything the session needs from the server.
type Signaling interface {
	CreateRoom(ctx context.Context, name string) (string, error)
	PostOffer(ctx context.Context, roomID string, offer signaling.SessionDescription) (signaling.SessionDescription, error)
	PostICECandidate(ctx context.Context, roomID string, candidate signaling.ICECandidate) error
	PollICECandidates(ctx context.Context, roomID string) ([]signaling.ICECandidate, error)
	Disconnect(ctx context.Context, roomID string) error
}

// Feed is a push channel for candidates that can be closed.
type Feed interface {
	relay.Feed
	Close() error
}

// FeedDialer opens a candidate feed bound to roomID.
type FeedDialer func(ctx context.Context, roomID string) (Feed, error)

// Config wires a Manager.
type Config struct {
	Signaling   Signaling
	Factory     call.Factory
	Source      media.Source
	Constraints media.Constraints
	Sinks       media.SinkFactory

	// Store persists created rooms. Nil disables persistence.
	Store     *store.Store
	ServerURL string

	PollInterval     time.Duration
	NotifyDisconnect bool

	// DialFeed, when set, adds a push feed next to polling.
	DialFeed FeedDialer

	// OnStateChange sees every controller transition.
	OnStateChange func(roomID string, state call.State)

	// OnFailure is told when an established call fails on its own.
	OnFailure func(roomID string, err error)

	Logger *slog.Logger
}

// Status is a snapshot for display.
type Status struct {
	RoomID     string
	Joined     bool
	State      call.State
	Connection string
	Streams    []media.SinkStats
	Relay      relay.Stats
}

// Manager runs one call at a time.
type Manager struct {
	cfg Config
	log *slog.Logger

	mu     sync.Mutex
	active *callSession
}

type callSession struct {
	roomID string
	ctrl   *call.Controller
	relay  *relay.Relay
	feed   Feed
	cancel context.CancelFunc

	mu       sync.Mutex
	joined   bool
	stopped  bool
	teardown sync.Once
}

// New builds a manager.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, log: logger}
}

// CreateRoom asks the server for a room and remembers its id.
func (m *Manager) CreateRoom(ctx context.Context, name string) (string, error) {
	roomID, err := m.cfg.Signaling.CreateRoom(ctx, name)
	if err != nil {
		return "", err
	}

	if m.cfg.Store != nil {
		st := store.State{
			RoomID:    roomID,
			RoomName:  strings.TrimSpace(name),
			ServerURL: m.cfg.ServerURL,
		}
		if err := m.cfg.Store.Save(st); err != nil {
			m.log.Warn("could not remember room", "room_id", roomID, "err", err)
		}
	}

	m.log.Info("room created", "room_id", roomID)
	return roomID, nil
}

// SavedRoom returns the room remembered by the last CreateRoom.
func (m *Manager) SavedRoom() (store.State, error) {
	if m.cfg.Store == nil {
		return store.State{}, nil
	}
	return m.cfg.Store.Load()
}

// JoinRoom starts local media, negotiates with the server and starts the
// candidate relay. ctx bounds the whole call; LeaveRoom ends it earlier.
// On failure nothing is left running.
func (m *Manager) JoinRoom(ctx context.Context, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return ErrInvalidRoom
	}

	logger := m.log.With("room_id", roomID)

	ctrl := call.New(call.Config{
		Factory:     m.cfg.Factory,
		Source:      m.cfg.Source,
		Constraints: m.cfg.Constraints,
		Sinks:       m.cfg.Sinks,
		Signaler:    m.cfg.Signaling,
		Logger:      logger,
	})

	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return ErrConflict
	}
	sessCtx, cancel := context.WithCancel(ctx)
	sess := &callSession{roomID: roomID, ctrl: ctrl, cancel: cancel}
	m.active = sess
	m.mu.Unlock()

	if m.cfg.OnStateChange != nil {
		ctrl.OnStateChange(func(s call.State) { m.cfg.OnStateChange(roomID, s) })
	}
	ctrl.OnFailure(func(err error) { m.handleFailure(sess, err) })

	var feed Feed
	if m.cfg.DialFeed != nil {
		f, err := m.cfg.DialFeed(sessCtx, roomID)
		if err != nil {
			logger.Warn("candidate feed unavailable, polling only", "err", err)
		} else {
			feed = f
		}
	}

	relayCfg := relay.Config{
		RoomID:    roomID,
		Interval:  m.cfg.PollInterval,
		Signaling: m.cfg.Signaling,
		Applier:   ctrl,
		Logger:    logger,
	}
	if feed != nil {
		relayCfg.Feed = feed
	}
	rl := relay.New(relayCfg)
	ctrl.OnLocalCandidate(rl.Forward)

	if !sess.attach(rl, feed) {
		// LeaveRoom ran while the feed was dialing.
		if feed != nil {
			feed.Close()
		}
		m.abort(sess)
		return &call.Error{Op: "join", Kind: call.ErrClosed}
	}

	if err := ctrl.Start(sessCtx, roomID); err != nil {
		m.abort(sess)
		return err
	}

	// The relay runs before the offer goes out so candidates gathered
	// during negotiation are posted right away.
	if err := rl.Start(sessCtx); err != nil {
		m.abort(sess)
		return err
	}

	if err := ctrl.Negotiate(sessCtx); err != nil {
		m.abort(sess)
		return err
	}

	m.mu.Lock()
	current := m.active == sess
	if current {
		sess.mu.Lock()
		sess.joined = true
		sess.mu.Unlock()
	}
	m.mu.Unlock()
	if !current {
		return &call.Error{Op: "join", Kind: call.ErrClosed}
	}

	logger.Info("joined room")
	return nil
}

// LeaveRoom stops the relay and the call and releases media. It is safe to
// call when not in a room.
func (m *Manager) LeaveRoom(ctx context.Context) error {
	m.mu.Lock()
	sess := m.active
	m.active = nil
	m.mu.Unlock()

	if sess == nil {
		return nil
	}

	sess.stop()

	sess.mu.Lock()
	joined := sess.joined
	sess.mu.Unlock()

	if joined && m.cfg.NotifyDisconnect {
		if err := m.cfg.Signaling.Disconnect(ctx, sess.roomID); err != nil {
			m.log.Warn("disconnect notification failed", "room_id", sess.roomID, "err", err)
		}
	}

	m.log.Info("left room", "room_id", sess.roomID)
	return nil
}

// Active reports whether a call is joining or joined.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// RoomID returns the room of the joined call.
func (m *Manager) RoomID() (string, error) {
	m.mu.Lock()
	sess := m.active
	m.mu.Unlock()

	if sess == nil {
		return "", ErrNotJoined
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.joined {
		return "", ErrNotJoined
	}
	return sess.roomID, nil
}

// Status describes the current call, if any.
func (m *Manager) Status() Status {
	m.mu.Lock()
	sess := m.active
	m.mu.Unlock()

	if sess == nil {
		return Status{State: call.StateIdle}
	}

	sess.mu.Lock()
	joined, rl := sess.joined, sess.relay
	sess.mu.Unlock()

	st := Status{
		RoomID:     sess.roomID,
		Joined:     joined,
		State:      sess.ctrl.State(),
		Connection: sess.ctrl.ConnectionState().String(),
		Streams:    sess.ctrl.SinkStats(),
	}
	if rl != nil {
		st.Relay = rl.Stats()
	}
	return st
}

// abort tears down a join that failed part way.
func (m *Manager) abort(sess *callSession) {
	sess.stop()

	m.mu.Lock()
	if m.active == sess {
		m.active = nil
	}
	m.mu.Unlock()
}

func (m *Manager) handleFailure(sess *callSession, err error) {
	m.log.Warn("call failed", "room_id", sess.roomID, "err", err)

	// The failure arrives on a pion callback; tear down elsewhere.
	go m.abort(sess)

	if m.cfg.OnFailure != nil {
		m.cfg.OnFailure(sess.roomID, err)
	}
}

// attach records the relay and feed. It reports false when the session
// was already torn down, in which case the caller owns both.
func (s *callSession) attach(rl *relay.Relay, feed Feed) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.relay, s.feed = rl, feed
	return true
}

func (s *callSession) stop() {
	s.teardown.Do(func() {
		s.cancel()

		s.mu.Lock()
		s.stopped = true
		rl, feed := s.relay, s.feed
		s.mu.Unlock()

		if rl != nil {
			rl.Stop()
		}
		if feed != nil {
			feed.Close()
		}
		s.ctrl.Stop()
	})
}
