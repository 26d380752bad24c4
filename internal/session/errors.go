package session

import (
	"errors"
	"fmt"
)

// ErrUnknownSession is returned for events that reference a session id the
// coordinator is not tracking.
var ErrUnknownSession = errors.New("unknown session")

// ErrInvalidTransition is returned for a control event that is illegal in the
// session's current status. The session is left unchanged.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrSessionTerminated is returned for any event against a session that has
// already reached a terminal status.
var ErrSessionTerminated = errors.New("session terminated")

// ErrBufferFull is returned when a session's chunk buffer has reached its
// configured ceiling and the chunk is not a replacement of an existing one.
var ErrBufferFull = errors.New("chunk buffer full")

// ValidationError reports a malformed inbound event. It is sent back to the
// sender and causes no state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Condition tags broadcast error events with their originating failure class.
type Condition string

const (
	ConditionValidation        Condition = "validation_error"
	ConditionInvalidTransition Condition = "invalid_transition"
	ConditionUnknownSession    Condition = "unknown_session"
	ConditionSessionTerminated Condition = "session_terminated"
	ConditionTranscription     Condition = "transcription_failure"
	ConditionSummarization     Condition = "summarization_failure"
	ConditionPersistence       Condition = "persistence_failure"
)

// ConditionFor maps an error to the condition tag reported to subscribers.
func ConditionFor(err error) Condition {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return ConditionValidation
	case errors.Is(err, ErrSessionTerminated):
		return ConditionSessionTerminated
	case errors.Is(err, ErrInvalidTransition):
		return ConditionInvalidTransition
	case errors.Is(err, ErrUnknownSession):
		return ConditionUnknownSession
	default:
		return ConditionPersistence
	}
}
