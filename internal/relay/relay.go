// Package relay trickles ICE candidates through the signaling server: local
// candidates are posted as they are gathered, and remote ones are polled on
// a fixed interval and handed to the peer connection exactly once.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Foodstream-io/livecall/internal/signaling"
)

const DefaultInterval = 2 * time.Second

var ErrAlreadyStarted = errors.New("relay already started")

// Signaling is the part of the signaling transport the relay needs.
type Signaling interface {
	PostICECandidate(ctx context.Context, roomID string, candidate signaling.ICECandidate) error
	PollICECandidates(ctx context.Context, roomID string) ([]signaling.ICECandidate, error)
}

// Applier receives remote candidates, typically the call controller.
type Applier interface {
	AddRemoteCandidate(candidate signaling.ICECandidate) error
}

// Feed is an optional push channel for candidates alongside polling.
type Feed interface {
	Candidates() <-chan signaling.ICECandidate
	Send(candidate signaling.ICECandidate) error
}

// Warning is a non-fatal relay failure. The relay keeps running.
type Warning struct {
	Op        string
	Candidate string
	Err       error
}

func (w *Warning) Error() string {
	if w.Candidate != "" {
		return fmt.Sprintf("ice relay %s %q: %v", w.Op, w.Candidate, w.Err)
	}
	return fmt.Sprintf("ice relay %s: %v", w.Op, w.Err)
}

func (w *Warning) Unwrap() error { return w.Err }

// Config for a Relay.
type Config struct {
	RoomID    string
	Interval  time.Duration
	Signaling Signaling
	Applier   Applier
	Feed      Feed

	// OnWarning, if set, sees every Warning in addition to the log.
	OnWarning func(*Warning)

	Logger *slog.Logger
}

// Stats are running counters, safe to read at any time.
type Stats struct {
	Forwarded       uint64
	ForwardFailures uint64
	Polls           uint64
	Received        uint64
	Applied         uint64
	ApplyFailures   uint64
	Duplicates      uint64
	EndOfCandidates uint64
}

// Relay is the candidate relay loop for one room.
type Relay struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	gen     uint64
	started bool
	stopped bool
	seen    map[string]struct{}

	wg sync.WaitGroup

	forwarded, forwardFailures atomic.Uint64
	polls, received, applied   atomic.Uint64
	applyFailures, duplicates  atomic.Uint64
	endOfCandidates            atomic.Uint64
}

// New builds a relay. Nothing runs until Start.
func New(cfg Config) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		cfg:  cfg,
		log:  logger.With("room_id", cfg.RoomID),
		seen: make(map[string]struct{}),
	}
}

// Start begins polling. The first poll happens one interval after Start.
// A stopped relay cannot be restarted.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started || r.stopped {
		return ErrAlreadyStarted
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	gen := r.gen

	r.wg.Add(1)
	go r.pollLoop(r.ctx, gen)

	if r.cfg.Feed != nil {
		r.wg.Add(1)
		go r.feedLoop(r.ctx, gen)
	}

	r.log.Debug("ice relay started", "interval", r.cfg.Interval)
	return nil
}

// Forward posts a local candidate without blocking the caller. It is a
// no-op before Start and after Stop.
func (r *Relay) Forward(candidate signaling.ICECandidate) {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	ctx, gen := r.ctx, r.gen
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		if !r.current(ctx, gen) {
			return
		}

		if err := r.cfg.Signaling.PostICECandidate(ctx, r.cfg.RoomID, candidate); err != nil {
			if ctx.Err() == nil {
				r.forwardFailures.Add(1)
				r.warn(&Warning{Op: "post", Candidate: candidate.Candidate, Err: err})
			}
			return
		}
		r.forwarded.Add(1)

		if r.cfg.Feed != nil && r.current(ctx, gen) {
			if err := r.cfg.Feed.Send(candidate); err != nil {
				r.log.Debug("candidate feed send failed", "err", err)
			}
		}
	}()
}

// Stop cancels outstanding requests and waits for the loop to exit. Once
// it returns no further requests are issued. Safe to call more than once.
func (r *Relay) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.gen++
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	r.log.Debug("ice relay stopped", "forwarded", r.forwarded.Load(), "applied", r.applied.Load())
}

// Stats returns a snapshot of the counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Forwarded:       r.forwarded.Load(),
		ForwardFailures: r.forwardFailures.Load(),
		Polls:           r.polls.Load(),
		Received:        r.received.Load(),
		Applied:         r.applied.Load(),
		ApplyFailures:   r.applyFailures.Load(),
		Duplicates:      r.duplicates.Load(),
		EndOfCandidates: r.endOfCandidates.Load(),
	}
}

func (r *Relay) pollLoop(ctx context.Context, gen uint64) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce(ctx, gen)
		}
	}
}

func (r *Relay) pollOnce(ctx context.Context, gen uint64) {
	if !r.current(ctx, gen) {
		return
	}

	candidates, err := r.cfg.Signaling.PollICECandidates(ctx, r.cfg.RoomID)
	r.polls.Add(1)
	if err != nil {
		if ctx.Err() == nil {
			r.warn(&Warning{Op: "poll", Err: err})
		}
		return
	}

	// A response that lands after Stop belongs to a dead session.
	if !r.current(ctx, gen) {
		return
	}

	for _, c := range candidates {
		r.apply(c)
	}
}

func (r *Relay) feedLoop(ctx context.Context, gen uint64) {
	defer r.wg.Done()

	incoming := r.cfg.Feed.Candidates()
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-incoming:
			if !ok {
				r.log.Debug("candidate feed closed, polling only")
				return
			}
			if !r.current(ctx, gen) {
				return
			}
			r.apply(c)
		}
	}
}

// apply hands c to the applier unless it was already applied.
func (r *Relay) apply(c signaling.ICECandidate) {
	r.received.Add(1)
	if c.Candidate == "" {
		r.endOfCandidates.Add(1)
		r.log.Debug("skipping end-of-candidates marker")
		return
	}

	key := c.Key()
	r.mu.Lock()
	if _, dup := r.seen[key]; dup {
		r.mu.Unlock()
		r.duplicates.Add(1)
		return
	}
	r.seen[key] = struct{}{}
	r.mu.Unlock()

	if err := r.cfg.Applier.AddRemoteCandidate(c); err != nil {
		r.applyFailures.Add(1)
		r.warn(&Warning{Op: "apply", Candidate: c.Candidate, Err: err})
		return
	}
	r.applied.Add(1)
}

func (r *Relay) current(ctx context.Context, gen uint64) bool {
	if ctx.Err() != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.stopped && r.gen == gen
}

func (r *Relay) warn(w *Warning) {
	r.log.Warn("ice relay warning", "op", w.Op, "err", w.Err)
	if r.cfg.OnWarning != nil {
		r.cfg.OnWarning(w)
	}
}
