package session

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/eleven-am/voice-client/internal/conn"
	"github.com/eleven-am/voice-client/internal/playback"
	"github.com/eleven-am/voice-client/internal/protocol"
	"github.com/eleven-am/voice-client/internal/reassembly"
	"github.com/eleven-am/voice-client/internal/shared"
	"github.com/google/uuid"
)

const defaultHistoryLimit = 20

// Config tunes per-session behavior.
type Config struct {
	// HistoryLimit caps how many prior turns are replayed to the backend
	// with each outgoing message. Oldest turns fall off first.
	HistoryLimit int
}

func (c Config) withDefaults() Config {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = defaultHistoryLimit
	}
	return c
}

// Listener receives session-level events for the surrounding UI. Nil
// callbacks are skipped. Callbacks run on the session goroutine and must
// not block.
type Listener struct {
	OnPartial       func(messageID, accumulated string)
	OnFinal         func(messageID, text string)
	OnTranscription func(text string)
	OnNotice        func(kind, message string)
	OnState         func(old, next conn.State)
}

// Session is the conversational core: it feeds decoded envelopes from the
// connection into the reassembler, schedules synthesized audio, and keeps
// the bounded history that rides along with every outgoing turn.
type Session struct {
	id    string
	cfg   Config
	mgr   *conn.Manager
	sched *playback.Scheduler
	lis   Listener
	log   *slog.Logger
	reasm *reassembly.Reassembler

	mu      sync.Mutex
	history []protocol.HistoryEntry

	wg      sync.WaitGroup
	started bool
}

func New(cfg Config, mgr *conn.Manager, sched *playback.Scheduler, lis Listener, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	sessionID := uuid.New().String()
	s := &Session{
		id:    sessionID,
		cfg:   cfg.withDefaults(),
		mgr:   mgr,
		sched: sched,
		lis:   lis,
		log:   log.With("component", "session", "session_id", sessionID),
	}
	s.reasm = reassembly.New(reassembly.Callbacks{
		OnStreamStart: func(id string) {
			s.log.Debug("assistant stream started", "message_id", id)
		},
		OnTextChunk: func(id, _, accumulated string) {
			if s.lis.OnPartial != nil {
				s.lis.OnPartial(id, accumulated)
			}
		},
		OnFinalMessage:  s.handleFinal,
		OnTranscription: s.handleTranscription,
		OnNotice: func(kind, message string) {
			if s.lis.OnNotice != nil {
				s.lis.OnNotice(kind, message)
			}
		},
		OnAudioSegment: func(seg playback.Segment) {
			s.sched.Enqueue(seg)
		},
	}, log)
	mgr.OnStateChange(func(old, next conn.State) {
		if s.lis.OnState != nil {
			s.lis.OnState(old, next)
		}
	})
	return s
}

// Start connects the socket and begins consuming inbound envelopes. The
// consume loop is the only goroutine that touches the reassembler, which
// keeps message handling strictly ordered.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if err := s.mgr.Connect(); err != nil {
		return err
	}
	s.wg.Add(1)
	go s.consume()
	return nil
}

func (s *Session) consume() {
	defer s.wg.Done()
	for env := range s.mgr.Events() {
		s.reasm.Handle(env)
	}
}

// SendText ships one user turn with the current history window. When the
// socket is not open the turn is dropped, never queued, and the caller is
// told via the error and a notice.
func (s *Session) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	env := protocol.TextTurn(text, s.History(), time.Now())
	if err := s.mgr.Send(env); err != nil {
		s.reportSendFailure(err)
		return err
	}
	s.record("user", text)
	return nil
}

// SendAudio ships one recorded user utterance. The turn enters history
// once its transcription comes back, not at send time.
func (s *Session) SendAudio(data []byte, format string) error {
	if len(data) == 0 {
		return nil
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	env := protocol.AudioTurn(encoded, format, s.History(), time.Now())
	if err := s.mgr.Send(env); err != nil {
		s.reportSendFailure(err)
		return err
	}
	return nil
}

// Interrupt discards all pending audio and silences the current segment,
// in that order, so nothing queued slips into playback behind the stop.
// Returns how many segments were discarded.
func (s *Session) Interrupt() int {
	n := s.sched.Clear()
	s.sched.Stop()
	s.log.Info("playback interrupted", "discarded", n)
	return n
}

// Reconnect manually restarts the connection, including after reconnect
// attempts were exhausted.
func (s *Session) Reconnect() error {
	return s.mgr.Connect()
}

// History returns a copy of the rolling turn window.
func (s *Session) History() []protocol.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// Stats exposes the session's moving parts for the status surface.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	turns := len(s.history)
	s.mu.Unlock()
	return Stats{
		SessionID:     s.id,
		Connection:    s.mgr.Stats(),
		Playback:      s.sched.Stats(),
		ActiveStreams: s.reasm.ActiveStreams(),
		DroppedFrames: s.reasm.Dropped(),
		HistoryTurns:  turns,
	}
}

// Stats is a point-in-time view across the session's layers.
type Stats struct {
	SessionID     string            `json:"session_id"`
	Connection    conn.Snapshot     `json:"connection"`
	Playback      playback.Snapshot `json:"playback"`
	ActiveStreams int               `json:"active_streams"`
	DroppedFrames int               `json:"dropped_frames"`
	HistoryTurns  int               `json:"history_turns"`
}

// Close tears down the socket, waits for the consume loop, and releases
// the playback device.
func (s *Session) Close() error {
	err := s.mgr.Close()
	s.wg.Wait()
	if cerr := s.sched.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Session) handleFinal(id, text string) {
	if text != "" {
		s.record("assistant", text)
	}
	if s.lis.OnFinal != nil {
		s.lis.OnFinal(id, text)
	}
}

func (s *Session) handleTranscription(text string) {
	s.record("user", text)
	if s.lis.OnTranscription != nil {
		s.lis.OnTranscription(text)
	}
}

func (s *Session) record(role, content string) {
	s.mu.Lock()
	s.history = append(s.history, protocol.HistoryEntry{Role: role, Content: content})
	if over := len(s.history) - s.cfg.HistoryLimit; over > 0 {
		s.history = s.history[over:]
	}
	s.mu.Unlock()
}

func (s *Session) reportSendFailure(err error) {
	if errors.Is(err, shared.ErrNotConnected) {
		s.log.Warn("dropping outbound message, socket not open")
		if s.lis.OnNotice != nil {
			s.lis.OnNotice("dropped", "not connected, message discarded")
		}
		return
	}
	s.log.Error("send failed", "error", err)
}
