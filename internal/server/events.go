package server

import (
	"time"

	"github.com/echoscribe/echoscribe/internal/session"
)

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

// StartAckEvent acknowledges a start event with the resolved status.
type StartAckEvent struct {
	Event
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// TranscriptUpdateEvent carries one chunk's transcription result.
type TranscriptUpdateEvent struct {
	Event
	SessionID  string  `json:"session_id"`
	Sequence   int64   `json:"sequence"`
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// ChunkAckEvent reports buffer progress to the chunk's sender so it can
// re-send only missing sequence ranges.
type ChunkAckEvent struct {
	Event
	SessionID         string                  `json:"session_id"`
	Sequence          int64                   `json:"sequence"`
	ContiguousThrough int64                   `json:"contiguous_through"`
	Missing           []session.SequenceRange `json:"missing,omitempty"`
}

// SummaryPayload is the summary embedded in a terminal status change.
type SummaryPayload struct {
	KeyPoints   string `json:"key_points"`
	ActionItems string `json:"action_items"`
	Decisions   string `json:"decisions"`
	Degraded    bool   `json:"degraded"`
}

// StatusChangedEvent announces a session lifecycle transition; Summary is set
// only on the transition into COMPLETED.
type StatusChangedEvent struct {
	Event
	SessionID string          `json:"session_id"`
	Status    string          `json:"status"`
	Summary   *SummaryPayload `json:"summary,omitempty"`
}

// ErrorEvent reports a failed event or session-level failure, tagged with the
// originating condition.
type ErrorEvent struct {
	Event
	SessionID string `json:"session_id,omitempty"`
	Condition string `json:"condition"`
	Message   string `json:"message"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
