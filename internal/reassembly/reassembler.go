package reassembly

import (
	"encoding/base64"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/eleven-am/voice-client/internal/playback"
	"github.com/eleven-am/voice-client/internal/protocol"
	"github.com/eleven-am/voice-client/internal/shared"
)

// processedCap bounds the replay-protection set. Old message ids are
// evicted in arrival order once the cap is reached.
const processedCap = 1024

// Callbacks receive reassembled output. Nil callbacks are skipped. They are
// invoked on the caller's goroutine, so handlers must not block.
type Callbacks struct {
	OnStreamStart   func(messageID string)
	OnTextChunk     func(messageID, chunk, accumulated string)
	OnFinalMessage  func(messageID, text string)
	OnTranscription func(text string)
	OnNotice        func(kind, message string)
	OnAudioSegment  func(seg playback.Segment)
}

type activeStream struct {
	builder   strings.Builder
	startedAt time.Time
	chunks    int
}

// Reassembler folds the chunked wire stream back into whole messages. Each
// in-flight stream accumulates text chunks until its stream_end arrives;
// the stream_end's full response text is authoritative over whatever was
// accumulated. Finished message ids are remembered so replays are no-ops.
type Reassembler struct {
	cb  Callbacks
	log *slog.Logger

	mu        sync.Mutex
	active    map[string]*activeStream
	processed map[string]struct{}
	order     []string
	dropped   int
}

func New(cb Callbacks, log *slog.Logger) *Reassembler {
	if log == nil {
		log = slog.Default()
	}
	return &Reassembler{
		cb:        cb,
		log:       log.With("component", "reassembly"),
		active:    make(map[string]*activeStream),
		processed: make(map[string]struct{}),
	}
}

// Handle routes one decoded envelope. Control traffic never reaches here;
// the connection layer answers it in place.
func (r *Reassembler) Handle(env protocol.Envelope) {
	switch env.Type {
	case protocol.MessageTypeStreamStart:
		r.handleStreamStart(env)
	case protocol.MessageTypeTextChunk:
		r.handleTextChunk(env)
	case protocol.MessageTypeStreamEnd:
		r.handleStreamEnd(env)
	case protocol.MessageTypeBotResponse:
		r.handleBotResponse(env)
	case protocol.MessageTypeTTSAudio:
		r.handleTTSAudio(env)
	case protocol.MessageTypeTranscription:
		r.notifyTranscription(env.Text)
	case protocol.MessageTypeError:
		r.notify("error", env.Message)
	case protocol.MessageTypeTranscriptionError:
		// The backend puts this one's message in the text field.
		msg := env.Text
		if msg == "" {
			msg = env.Message
		}
		r.notify("transcription_error", msg)
	case protocol.MessageTypeConnectionAck:
		r.notify("connected", env.Message)
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		r.log.Debug("dropping unhandled message", "type", string(env.Type))
	}
}

func (r *Reassembler) handleStreamStart(env protocol.Envelope) {
	id := env.StreamID()
	if id == "" {
		id = shared.NewID("msg")
	}

	r.mu.Lock()
	if _, done := r.processed[id]; done {
		r.mu.Unlock()
		return
	}
	if _, exists := r.active[id]; exists {
		// Duplicate start for a live stream keeps the accumulated text.
		r.mu.Unlock()
		return
	}
	r.active[id] = &activeStream{startedAt: time.Now()}
	r.mu.Unlock()

	if r.cb.OnStreamStart != nil {
		r.cb.OnStreamStart(id)
	}
}

func (r *Reassembler) handleTextChunk(env protocol.Envelope) {
	r.mu.Lock()
	st, ok := r.active[env.StreamID()]
	if !ok {
		r.dropped++
		r.mu.Unlock()
		r.log.Debug("chunk for unknown stream", "message_id", env.StreamID())
		return
	}
	chunk := env.ChunkText()
	st.builder.WriteString(chunk)
	st.chunks++
	accumulated := st.builder.String()
	r.mu.Unlock()

	if r.cb.OnTextChunk != nil {
		r.cb.OnTextChunk(env.StreamID(), chunk, accumulated)
	}
}

func (r *Reassembler) handleStreamEnd(env protocol.Envelope) {
	id := env.StreamID()

	r.mu.Lock()
	if _, done := r.processed[id]; done {
		r.mu.Unlock()
		return
	}
	var accumulated string
	if st, ok := r.active[id]; ok {
		accumulated = st.builder.String()
		delete(r.active, id)
		r.log.Debug("stream complete",
			"message_id", id,
			"chunks", st.chunks,
			"elapsed", time.Since(st.startedAt))
	}
	r.markProcessedLocked(id)
	r.mu.Unlock()

	text := env.FinalText()
	if text == "" {
		text = accumulated
	}
	if r.cb.OnFinalMessage != nil {
		r.cb.OnFinalMessage(id, text)
	}
}

func (r *Reassembler) handleBotResponse(env protocol.Envelope) {
	id := env.StreamID()
	if id == "" {
		id = shared.NewID("msg")
	}

	r.mu.Lock()
	if _, done := r.processed[id]; done {
		r.mu.Unlock()
		return
	}
	delete(r.active, id)
	r.markProcessedLocked(id)
	r.mu.Unlock()

	text := env.Text
	if text == "" {
		text = env.FinalText()
	}
	if r.cb.OnFinalMessage != nil {
		r.cb.OnFinalMessage(id, text)
	}
	if env.Audio != "" {
		r.emitAudio(env, id)
	}
}

func (r *Reassembler) handleTTSAudio(env protocol.Envelope) {
	if env.Audio == "" {
		r.log.Debug("tts_audio without payload", "part_id", env.PartID)
		return
	}
	streamID := env.StreamID()
	if streamID == "" {
		streamID, _ = protocol.ParsePartID(env.PartID)
	}
	r.emitAudio(env, streamID)
}

func (r *Reassembler) emitAudio(env protocol.Envelope, streamID string) {
	data, err := base64.StdEncoding.DecodeString(env.Audio)
	if err != nil {
		r.log.Warn("discarding undecodable audio payload",
			"part_id", env.PartID,
			"error", err)
		return
	}

	_, part := protocol.ParsePartID(env.PartID)
	if r.cb.OnAudioSegment != nil {
		r.cb.OnAudioSegment(playback.Segment{
			StreamID: streamID,
			Part:     part,
			Data:     data,
			Format:   env.AudioFormat(),
		})
	}
}

func (r *Reassembler) notifyTranscription(text string) {
	if text == "" {
		return
	}
	if r.cb.OnTranscription != nil {
		r.cb.OnTranscription(text)
	}
}

func (r *Reassembler) notify(kind, message string) {
	if r.cb.OnNotice != nil {
		r.cb.OnNotice(kind, message)
	}
}

// markProcessedLocked records a finished message id, evicting the oldest
// entry when the set is full. Caller holds r.mu.
func (r *Reassembler) markProcessedLocked(id string) {
	if _, ok := r.processed[id]; ok {
		return
	}
	if len(r.order) >= processedCap {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.processed, oldest)
	}
	r.processed[id] = struct{}{}
	r.order = append(r.order, id)
}

// ActiveStreams reports how many streams are mid-flight.
func (r *Reassembler) ActiveStreams() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Dropped reports how many envelopes were discarded as unroutable.
func (r *Reassembler) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
