package reassembly

import (
	"encoding/base64"
	"fmt"
	"sync"
	"testing"

	"github.com/eleven-am/voice-client/internal/playback"
	"github.com/eleven-am/voice-client/internal/protocol"
)

type recorder struct {
	mu             sync.Mutex
	starts         []string
	chunks         []string
	finals         map[string]string
	finalOrder     []string
	transcriptions []string
	notices        []string
	segments       []playback.Segment
}

func newRecorder() *recorder {
	return &recorder{finals: make(map[string]string)}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnStreamStart: func(id string) {
			r.mu.Lock()
			r.starts = append(r.starts, id)
			r.mu.Unlock()
		},
		OnTextChunk: func(id, chunk, accumulated string) {
			r.mu.Lock()
			r.chunks = append(r.chunks, accumulated)
			r.mu.Unlock()
		},
		OnFinalMessage: func(id, text string) {
			r.mu.Lock()
			r.finals[id] = text
			r.finalOrder = append(r.finalOrder, id)
			r.mu.Unlock()
		},
		OnTranscription: func(text string) {
			r.mu.Lock()
			r.transcriptions = append(r.transcriptions, text)
			r.mu.Unlock()
		},
		OnNotice: func(kind, message string) {
			r.mu.Lock()
			r.notices = append(r.notices, kind+": "+message)
			r.mu.Unlock()
		},
		OnAudioSegment: func(seg playback.Segment) {
			r.mu.Lock()
			r.segments = append(r.segments, seg)
			r.mu.Unlock()
		},
	}
}

func TestReassembler_StreamLifecycle(t *testing.T) {
	rec := newRecorder()
	r := New(rec.callbacks(), nil)

	r.Handle(protocol.Envelope{Type: protocol.MessageTypeStreamStart, MessageID: "m1"})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeTextChunk, MessageID: "m1", Chunk: "Hello, "})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeTextChunk, MessageID: "m1", Chunk: "world."})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeStreamEnd, MessageID: "m1", FullResp: "Hello, world."})

	if len(rec.starts) != 1 || rec.starts[0] != "m1" {
		t.Errorf("unexpected starts: %v", rec.starts)
	}
	if len(rec.chunks) != 2 || rec.chunks[1] != "Hello, world." {
		t.Errorf("unexpected accumulations: %v", rec.chunks)
	}
	if rec.finals["m1"] != "Hello, world." {
		t.Errorf("unexpected final text: %q", rec.finals["m1"])
	}
	if r.ActiveStreams() != 0 {
		t.Errorf("stream should be closed, %d active", r.ActiveStreams())
	}
}

func TestReassembler_IDFieldVariantAccepted(t *testing.T) {
	rec := newRecorder()
	r := New(rec.callbacks(), nil)

	r.Handle(protocol.Envelope{Type: protocol.MessageTypeStreamStart, ID: "m1"})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeTextChunk, ID: "m1", Text: "hello"})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeStreamEnd, ID: "m1", FullText: "hello"})

	if rec.finals["m1"] != "hello" {
		t.Errorf("id-keyed stream not reassembled: %v", rec.finals)
	}
}

func TestReassembler_ChunkInTextFieldAccepted(t *testing.T) {
	rec := newRecorder()
	r := New(rec.callbacks(), nil)

	r.Handle(protocol.Envelope{Type: protocol.MessageTypeStreamStart, MessageID: "m1"})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeTextChunk, MessageID: "m1", Text: "from the "})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeTextChunk, MessageID: "m1", Text: "text field"})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeStreamEnd, MessageID: "m1"})

	if rec.finals["m1"] != "from the text field" {
		t.Errorf("expected accumulation from text field, got %q", rec.finals["m1"])
	}
}

func TestReassembler_StreamEndTextIsAuthoritative(t *testing.T) {
	rec := newRecorder()
	r := New(rec.callbacks(), nil)

	r.Handle(protocol.Envelope{Type: protocol.MessageTypeStreamStart, MessageID: "m1"})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeTextChunk, MessageID: "m1", Chunk: "partial gar"})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeStreamEnd, MessageID: "m1", FullResp: "The corrected full answer."})

	if rec.finals["m1"] != "The corrected full answer." {
		t.Errorf("full_response must win over accumulation, got %q", rec.finals["m1"])
	}
}

func TestReassembler_StreamEndWithoutFullTextUsesAccumulation(t *testing.T) {
	rec := newRecorder()
	r := New(rec.callbacks(), nil)

	r.Handle(protocol.Envelope{Type: protocol.MessageTypeStreamStart, MessageID: "m1"})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeTextChunk, MessageID: "m1", Chunk: "alpha "})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeTextChunk, MessageID: "m1", Chunk: "beta"})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeStreamEnd, MessageID: "m1"})

	if rec.finals["m1"] != "alpha beta" {
		t.Errorf("expected accumulated text, got %q", rec.finals["m1"])
	}
}

func TestReassembler_DuplicateStreamStartIgnored(t *testing.T) {
	rec := newRecorder()
	r := New(rec.callbacks(), nil)

	r.Handle(protocol.Envelope{Type: protocol.MessageTypeStreamStart, MessageID: "m1"})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeTextChunk, MessageID: "m1", Chunk: "kept"})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeStreamStart, MessageID: "m1"})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeStreamEnd, MessageID: "m1"})

	if len(rec.starts) != 1 {
		t.Errorf("duplicate start must not re-notify, got %d", len(rec.starts))
	}
	if rec.finals["m1"] != "kept" {
		t.Errorf("duplicate start must not reset accumulation, got %q", rec.finals["m1"])
	}
}

func TestReassembler_ChunkForUnknownStreamDropped(t *testing.T) {
	rec := newRecorder()
	r := New(rec.callbacks(), nil)

	r.Handle(protocol.Envelope{Type: protocol.MessageTypeTextChunk, MessageID: "ghost", Chunk: "orphan"})

	if len(rec.chunks) != 0 {
		t.Errorf("orphan chunk must be dropped, got %v", rec.chunks)
	}
	if r.Dropped() != 1 {
		t.Errorf("expected 1 dropped envelope, got %d", r.Dropped())
	}
}

func TestReassembler_StreamEndReplayIsNoOp(t *testing.T) {
	rec := newRecorder()
	r := New(rec.callbacks(), nil)

	r.Handle(protocol.Envelope{Type: protocol.MessageTypeStreamStart, MessageID: "m1"})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeStreamEnd, MessageID: "m1", FullResp: "done"})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeStreamEnd, MessageID: "m1", FullResp: "done"})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeStreamStart, MessageID: "m1"})

	if len(rec.finalOrder) != 1 {
		t.Errorf("replayed stream_end must be a no-op, finals %v", rec.finalOrder)
	}
	if len(rec.starts) != 1 {
		t.Errorf("restarting a finished stream must be a no-op, starts %v", rec.starts)
	}
}

func TestReassembler_BotResponseSelfContained(t *testing.T) {
	rec := newRecorder()
	r := New(rec.callbacks(), nil)

	audio := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	r.Handle(protocol.Envelope{
		Type:      protocol.MessageTypeBotResponse,
		MessageID: "m9",
		Text:      "Short answer.",
		Audio:     audio,
		Format:    "mp3",
		PartID:    "m9_0",
	})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeBotResponse, MessageID: "m9", Text: "Short answer."})

	if rec.finals["m9"] != "Short answer." {
		t.Errorf("unexpected final: %q", rec.finals["m9"])
	}
	if len(rec.finalOrder) != 1 {
		t.Errorf("duplicate bot_response must be a no-op, got %d finals", len(rec.finalOrder))
	}
	if len(rec.segments) != 1 {
		t.Fatalf("expected 1 audio segment, got %d", len(rec.segments))
	}
	seg := rec.segments[0]
	if seg.StreamID != "m9" || seg.Part != 0 || seg.Format != "mp3" || len(seg.Data) != 3 {
		t.Errorf("unexpected segment: %+v", seg)
	}
}

func TestReassembler_TTSAudioDecoded(t *testing.T) {
	rec := newRecorder()
	r := New(rec.callbacks(), nil)

	payload := []byte("fake mp3 bytes")
	r.Handle(protocol.Envelope{
		Type:   protocol.MessageTypeTTSAudio,
		Audio:  base64.StdEncoding.EncodeToString(payload),
		PartID: "m2_3",
	})

	if len(rec.segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(rec.segments))
	}
	seg := rec.segments[0]
	if seg.StreamID != "m2" || seg.Part != 3 {
		t.Errorf("part id not parsed: %+v", seg)
	}
	if string(seg.Data) != string(payload) {
		t.Errorf("payload mangled: %q", seg.Data)
	}
	if seg.Format != "mp3" {
		t.Errorf("missing format must default to mp3, got %q", seg.Format)
	}
}

func TestReassembler_BadBase64AudioSkipped(t *testing.T) {
	rec := newRecorder()
	r := New(rec.callbacks(), nil)

	r.Handle(protocol.Envelope{
		Type:   protocol.MessageTypeTTSAudio,
		Audio:  "not valid base64!!!",
		PartID: "m2_0",
	})

	if len(rec.segments) != 0 {
		t.Errorf("undecodable audio must be dropped, got %d segments", len(rec.segments))
	}
}

func TestReassembler_ErrorsBecomeNotices(t *testing.T) {
	rec := newRecorder()
	r := New(rec.callbacks(), nil)

	r.Handle(protocol.Envelope{Type: protocol.MessageTypeError, Message: "backend overloaded"})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeTranscriptionError, Text: "audio too short"})

	want := []string{"error: backend overloaded", "transcription_error: audio too short"}
	if len(rec.notices) != 2 || rec.notices[0] != want[0] || rec.notices[1] != want[1] {
		t.Errorf("unexpected notices: %v", rec.notices)
	}
}

func TestReassembler_TranscriptionResult(t *testing.T) {
	rec := newRecorder()
	r := New(rec.callbacks(), nil)

	r.Handle(protocol.Envelope{Type: protocol.MessageTypeTranscription, Text: "what I said"})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeTranscription})

	if len(rec.transcriptions) != 1 || rec.transcriptions[0] != "what I said" {
		t.Errorf("unexpected transcriptions: %v", rec.transcriptions)
	}
}

func TestReassembler_UnknownTypeCounted(t *testing.T) {
	rec := newRecorder()
	r := New(rec.callbacks(), nil)

	r.Handle(protocol.Envelope{Type: "totally_new_thing"})

	if r.Dropped() != 1 {
		t.Errorf("expected 1 dropped, got %d", r.Dropped())
	}
}

func TestReassembler_ProcessedSetEviction(t *testing.T) {
	rec := newRecorder()
	r := New(rec.callbacks(), nil)

	for i := 0; i < processedCap+10; i++ {
		id := fmt.Sprintf("m%d", i)
		r.Handle(protocol.Envelope{Type: protocol.MessageTypeStreamStart, MessageID: id})
		r.Handle(protocol.Envelope{Type: protocol.MessageTypeStreamEnd, MessageID: id, FullResp: "x"})
	}

	r.mu.Lock()
	size := len(r.processed)
	r.mu.Unlock()
	if size != processedCap {
		t.Errorf("processed set must stay bounded at %d, got %d", processedCap, size)
	}
}

func TestReassembler_InterleavedStreams(t *testing.T) {
	rec := newRecorder()
	r := New(rec.callbacks(), nil)

	r.Handle(protocol.Envelope{Type: protocol.MessageTypeStreamStart, MessageID: "a"})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeStreamStart, MessageID: "b"})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeTextChunk, MessageID: "a", Chunk: "A1"})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeTextChunk, MessageID: "b", Chunk: "B1"})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeTextChunk, MessageID: "a", Chunk: "A2"})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeStreamEnd, MessageID: "b"})
	r.Handle(protocol.Envelope{Type: protocol.MessageTypeStreamEnd, MessageID: "a"})

	if rec.finals["a"] != "A1A2" || rec.finals["b"] != "B1" {
		t.Errorf("streams bled into each other: %v", rec.finals)
	}
}
