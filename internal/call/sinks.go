package call

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/Foodstream-io/livecall/internal/media"
)

// SinkSet keeps one sink per remote stream. A stream that is already
// rendered is never given a second sink.
type SinkSet struct {
	factory media.SinkFactory
	log     *slog.Logger

	mu     sync.Mutex
	sinks  map[string]media.Sink
	closed bool
}

// NewSinkSet creates sinks with factory, discarding media when nil.
func NewSinkSet(factory media.SinkFactory, logger *slog.Logger) *SinkSet {
	if factory == nil {
		factory = media.DiscardSinks{Logger: logger}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SinkSet{
		factory: factory,
		log:     logger,
		sinks:   make(map[string]media.Sink),
	}
}

// Attach routes track to the sink for its stream, creating the sink on
// first sight.
func (s *SinkSet) Attach(track media.RemoteTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	streamID := track.StreamID()
	sink, ok := s.sinks[streamID]
	if !ok {
		var err error
		if sink, err = s.factory.NewSink(streamID); err != nil {
			return err
		}
		s.sinks[streamID] = sink
		s.log.Info("remote stream rendered", "stream_id", streamID)
	}
	return sink.Attach(track)
}

// StreamIDs lists rendered streams in sorted order.
func (s *SinkSet) StreamIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.sinks))
	for id := range s.sinks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns per-stream counters in stream order.
func (s *SinkSet) Stats() []media.SinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]media.SinkStats, 0, len(s.sinks))
	for _, sink := range s.sinks {
		stats = append(stats, sink.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].StreamID < stats[j].StreamID })
	return stats
}

// Len is the number of rendered streams.
func (s *SinkSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sinks)
}

// Clear closes every sink. Later Attach calls fail with ErrClosed.
func (s *SinkSet) Clear() error {
	s.mu.Lock()
	sinks := s.sinks
	s.sinks = make(map[string]media.Sink)
	s.closed = true
	s.mu.Unlock()

	var errs []error
	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
