package session

import "fmt"

// Status models the session lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRecording  Status = "recording"
	StatusPaused     Status = "paused"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Source identifies where a session's audio comes from.
type Source string

const (
	SourceMicrophone Source = "microphone"
	SourceTab        Source = "tab"
)

func ParseSource(raw string) (Source, error) {
	switch Source(raw) {
	case SourceMicrophone, SourceTab:
		return Source(raw), nil
	}
	return "", &ValidationError{Field: "source", Reason: fmt.Sprintf("unknown source %q", raw)}
}

// transitions is the single source of truth for legal lifecycle moves.
// Terminal states have no outgoing edges.
var transitions = map[Status][]Status{
	StatusPending:    {StatusRecording},
	StatusRecording:  {StatusPaused, StatusProcessing},
	StatusPaused:     {StatusRecording, StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// Terminal reports whether no further events are accepted in this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition validates from -> to without mutating anything, returning
// ErrSessionTerminated for events against a finished session and
// ErrInvalidTransition for every other illegal move.
func CheckTransition(from, to Status) error {
	if from.Terminal() {
		return fmt.Errorf("%w: session is %s", ErrSessionTerminated, from)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
