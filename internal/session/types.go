package session

import (
	"context"
	"time"

	"github.com/echoscribe/echoscribe/internal/summary"
	"github.com/echoscribe/echoscribe/internal/transcribe"
)

// Store is the durable persistence gateway. Implementations must return
// ErrUnknownSession from SessionStatus for ids they have never seen, and
// FinalizeSession must be all-or-nothing within one transaction.
type Store interface {
	CreateSession(id, userID string, source Source, startedAt time.Time) error
	SessionStatus(id string) (Status, error)
	UpdateStatus(id string, status Status) error
	EndSession(id string, endedAt time.Time, audioPath string) error
	MarkInterrupted(id string, at time.Time) error
	UpsertChunk(sessionID string, c transcribe.Chunk) error
	FinalizeSession(sessionID string, chunks []transcribe.Chunk, sum *summary.Result) error
}

// Summarizer produces the structured summary at finalization.
type Summarizer interface {
	Summarize(ctx context.Context, sessionID, transcript string) (summary.Result, error)
}

// Transcriber turns one chunk's audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (transcribe.Result, error)
}

// EventBroadcaster fans session events out to current subscribers,
// best-effort at-most-once.
type EventBroadcaster interface {
	AckStart(sessionID string, status Status)
	TranscriptUpdate(sessionID string, c transcribe.Chunk)
	StatusChanged(sessionID string, status Status, sum *summary.Result)
	Error(sessionID string, cond Condition, message string)
}

// ArtifactRecorder accumulates a session's raw audio payloads into a durable
// artifact file. Discard removes the artifact when finalization fails, even
// after Finalize has already closed it.
type ArtifactRecorder interface {
	Append(sessionID string, payload []byte, mimeType string) error
	Finalize(sessionID string) (string, error)
	Discard(sessionID string)
}

// TranscriptExporter writes a human-readable copy of a finalized transcript.
type TranscriptExporter interface {
	Export(sessionID string, chunks []transcribe.Chunk) error
}

// ChunkInput is the payload of an inbound chunk event.
type ChunkInput struct {
	Sequence  int64
	Speaker   string
	StartedAt time.Time
	EndedAt   time.Time
	Audio     []byte
	MimeType  string
}

// ChunkAck reports buffer progress back to the sender so it can re-send only
// the sequence ranges that were lost.
type ChunkAck struct {
	Sequence          int64           `json:"sequence"`
	ContiguousThrough int64           `json:"contiguous_through"`
	Missing           []SequenceRange `json:"missing,omitempty"`
}
