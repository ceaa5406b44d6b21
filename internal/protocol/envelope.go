package protocol

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

type MessageType string

const (
	MessageTypePing               MessageType = "ping"
	MessageTypePong               MessageType = "pong"
	MessageTypeHeartbeat          MessageType = "heartbeat"
	MessageTypeHeartbeatAck       MessageType = "heartbeat_ack"
	MessageTypeConnectionAck      MessageType = "connection_ack"
	MessageTypeText               MessageType = "text"
	MessageTypeUserAudio          MessageType = "user_audio"
	MessageTypeStreamStart        MessageType = "stream_start"
	MessageTypeTextChunk          MessageType = "text_chunk"
	MessageTypeStreamEnd          MessageType = "stream_end"
	MessageTypeBotResponse        MessageType = "bot_response"
	MessageTypeTTSAudio           MessageType = "tts_audio"
	MessageTypeError              MessageType = "error"
	MessageTypeTranscriptionError MessageType = "transcription_error"
	MessageTypeTranscription      MessageType = "transcription_result"
	MessageTypeUnknown            MessageType = ""
)

// HistoryEntry is one prior turn sent alongside a text message so the
// backend can build conversational context.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Envelope is the union of every message exchanged on the socket. It is
// decoded exactly once at the transport boundary; handlers switch on Type
// and read only the fields their variant carries.
type Envelope struct {
	Type      MessageType    `json:"type"`
	MessageID string         `json:"message_id,omitempty"`
	ID        string         `json:"id,omitempty"`
	Text      string         `json:"text,omitempty"`
	Chunk     string         `json:"chunk,omitempty"`
	FullText  string         `json:"full_text,omitempty"`
	FullResp  string         `json:"full_response,omitempty"`
	Message   string         `json:"message,omitempty"`
	Audio     string         `json:"audio,omitempty"`
	Format    string         `json:"format,omitempty"`
	AudioFmt  string         `json:"audio_format,omitempty"`
	PartID    string         `json:"part_id,omitempty"`
	History   []HistoryEntry `json:"history,omitempty"`
	Timestamp float64        `json:"timestamp,omitempty"`
}

// Decode parses one wire frame. Unknown types are not an error; callers
// classify and drop them so a protocol addition never kills the session.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// StreamID returns the stream correlation id, accepting both the
// message_id and id field spellings.
func (e Envelope) StreamID() string {
	if e.MessageID != "" {
		return e.MessageID
	}
	return e.ID
}

// ChunkText returns the delta text of a text_chunk. The backend sends it
// in the text field; chunk is accepted as well.
func (e Envelope) ChunkText() string {
	if e.Chunk != "" {
		return e.Chunk
	}
	return e.Text
}

// FinalText returns the authoritative text of a stream_end, accepting both
// field spellings the backend has used.
func (e Envelope) FinalText() string {
	if e.FullResp != "" {
		return e.FullResp
	}
	return e.FullText
}

// AudioFormat returns the payload format tag, accepting both field
// spellings. Defaults to mp3, the backend's synthesis output.
func (e Envelope) AudioFormat() string {
	if e.Format != "" {
		return e.Format
	}
	if e.AudioFmt != "" {
		return e.AudioFmt
	}
	return "mp3"
}

// IsControl reports whether the envelope is liveness traffic owned by the
// connection layer rather than application data.
func (e Envelope) IsControl() bool {
	switch e.Type {
	case MessageTypePing, MessageTypePong, MessageTypeHeartbeat, MessageTypeHeartbeatAck:
		return true
	}
	return false
}

func Ping(now time.Time) Envelope {
	return Envelope{
		Type:      MessageTypePing,
		Timestamp: unixFloat(now),
	}
}

func HeartbeatAck(now time.Time) Envelope {
	return Envelope{
		Type:      MessageTypeHeartbeatAck,
		Timestamp: unixFloat(now),
	}
}

func TextTurn(text string, history []HistoryEntry, now time.Time) Envelope {
	return Envelope{
		Type:      MessageTypeText,
		Text:      text,
		History:   history,
		Timestamp: unixFloat(now),
	}
}

func AudioTurn(audioB64, format string, history []HistoryEntry, now time.Time) Envelope {
	return Envelope{
		Type:      MessageTypeUserAudio,
		Audio:     audioB64,
		Format:    format,
		History:   history,
		Timestamp: unixFloat(now),
	}
}

// ParsePartID splits a part id of the form "<message_id>_<index>". The
// backend numbers synthesis parts per stream this way. A part id that does
// not follow the convention yields index -1, which callers treat as
// arrival order.
func ParsePartID(partID string) (streamID string, index int) {
	i := strings.LastIndex(partID, "_")
	if i < 0 {
		return partID, -1
	}
	n, err := strconv.Atoi(partID[i+1:])
	if err != nil || n < 0 {
		return partID, -1
	}
	return partID[:i], n
}

func unixFloat(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000.0
}
