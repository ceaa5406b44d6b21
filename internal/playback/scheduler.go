package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Segment is one unit of synthesized audio. The reassembler constructs it
// from an audio-bearing envelope; the scheduler owns it from enqueue until
// it is played or discarded.
type Segment struct {
	StreamID   string
	Part       int
	Data       []byte
	Format     string
	EnqueuedAt time.Time
}

// Player turns a segment into audible output. Play blocks until the
// segment finishes, fails, or ctx is cancelled.
type Player interface {
	Play(ctx context.Context, seg Segment) error
	Close() error
}

// NowPlaying identifies the segment currently being played.
type NowPlaying struct {
	StreamID string `json:"stream_id"`
	Part     int    `json:"part"`
}

// Snapshot is a point-in-time view of the queue for observers.
type Snapshot struct {
	Playing    bool       `json:"playing"`
	Current    NowPlaying `json:"current,omitempty"`
	QueueDepth int        `json:"queue_depth"`
}

// Scheduler serializes playback of audio segments: FIFO order, at most one
// segment audible at a time, promptly cancelable. A failing segment is
// logged and skipped so the queue always drains.
type Scheduler struct {
	player Player
	log    *slog.Logger

	mu      sync.Mutex
	queue   []Segment
	playing bool
	current NowPlaying
	cancel  context.CancelFunc
	closed  bool
}

func NewScheduler(player Player, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		player: player,
		log:    log.With("component", "playback"),
	}
}

// Enqueue appends a segment and starts the drain loop if idle.
func (s *Scheduler) Enqueue(seg Segment) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if seg.EnqueuedAt.IsZero() {
		seg.EnqueuedAt = time.Now()
	}
	s.queue = append(s.queue, seg)
	start := !s.playing
	if start {
		s.playing = true
	}
	s.mu.Unlock()

	if start {
		go s.drain()
	}
}

func (s *Scheduler) drain() {
	for {
		s.mu.Lock()
		if s.closed || len(s.queue) == 0 {
			s.playing = false
			s.current = NowPlaying{}
			s.mu.Unlock()
			return
		}
		seg := s.queue[0]
		s.queue = s.queue[1:]
		s.current = NowPlaying{StreamID: seg.StreamID, Part: seg.Part}
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.mu.Unlock()

		err := s.player.Play(ctx, seg)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			// Skipping is deliberate: one bad segment never stalls the queue.
			s.log.Warn("segment playback failed, skipping",
				"stream_id", seg.StreamID,
				"part", seg.Part,
				"format", seg.Format,
				"error", err)
		}

		s.mu.Lock()
		s.cancel = nil
		s.current = NowPlaying{}
		s.mu.Unlock()
	}
}

// Stop halts the in-progress segment, if any. The queue is untouched, so
// playback resumes with the next segment; callers wanting a full interrupt
// call Clear first.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Clear discards every queued segment without playing it and returns the
// number discarded. The currently playing segment is not affected.
func (s *Scheduler) Clear() int {
	s.mu.Lock()
	n := len(s.queue)
	s.queue = nil
	s.mu.Unlock()

	if n > 0 {
		s.log.Debug("cleared playback queue", "discarded", n)
	}
	return n
}

// IsPlaying reports whether a segment is being played or waiting to be.
func (s *Scheduler) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *Scheduler) Stats() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Playing:    s.current != NowPlaying{},
		Current:    s.current,
		QueueDepth: len(s.queue),
	}
}

// Close stops playback, discards the queue, and releases the player.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue = nil
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return s.player.Close()
}
