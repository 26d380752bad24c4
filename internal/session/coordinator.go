package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/echoscribe/echoscribe/internal/summary"
	"github.com/echoscribe/echoscribe/internal/transcribe"
)

// Config bounds the coordinator's per-session and process-wide resources.
type Config struct {
	// BufferLimit caps the number of buffered chunks per session.
	BufferLimit int
	// DrainTimeout bounds how long a stop waits for in-flight chunk
	// transcriptions before finalizing with whatever has landed.
	DrainTimeout time.Duration
	// TranscribeTimeout bounds a single chunk transcription call.
	TranscribeTimeout time.Duration
	// MaxConcurrentTranscriptions caps process-wide concurrent gateway calls.
	MaxConcurrentTranscriptions int
	// IdleTimeout force-stops sessions with no inbound events for this long.
	// Zero disables the reaper.
	IdleTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.BufferLimit <= 0 {
		c.BufferLimit = 4096
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.TranscribeTimeout <= 0 {
		c.TranscribeTimeout = 2 * time.Minute
	}
	if c.MaxConcurrentTranscriptions <= 0 {
		c.MaxConcurrentTranscriptions = 8
	}
}

// sessionEntry is one tracked session. All mutation goes through mu, which is
// the session's single-owner discipline: control events, chunk acceptance,
// and transcription results are applied one at a time.
type sessionEntry struct {
	mu sync.Mutex

	id        string
	userID    string
	source    Source
	status    Status
	startedAt time.Time
	endedAt   time.Time
	lastEvent time.Time

	buffer    *ChunkBuffer
	inflight  sync.WaitGroup
	finalized bool
}

// Coordinator owns the session registry and drives every session through its
// lifecycle: it validates transitions, buffers chunks, dispatches
// transcription, and runs the finalization protocol on stop.
type Coordinator struct {
	store       Store
	transcriber Transcriber
	summarizer  Summarizer
	hub         EventBroadcaster
	artifacts   ArtifactRecorder
	exporter    TranscriptExporter
	cfg         Config

	// sem bounds total concurrent transcription calls without serializing
	// them per session.
	sem chan struct{}

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

func NewCoordinator(store Store, transcriber Transcriber, summarizer Summarizer, hub EventBroadcaster, cfg Config) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{
		store:       store,
		transcriber: transcriber,
		summarizer:  summarizer,
		hub:         hub,
		cfg:         cfg,
		sem:         make(chan struct{}, cfg.MaxConcurrentTranscriptions),
		sessions:    make(map[string]*sessionEntry),
	}
}

// SetArtifactRecorder wires the optional audio artifact sink.
func (c *Coordinator) SetArtifactRecorder(r ArtifactRecorder) { c.artifacts = r }

// SetTranscriptExporter wires the optional markdown transcript export.
func (c *Coordinator) SetTranscriptExporter(e TranscriptExporter) { c.exporter = e }

// Start creates or re-acknowledges a session and moves it into RECORDING.
// Re-sending start for a live session is an idempotent lookup.
func (c *Coordinator) Start(ctx context.Context, sessionID, userID, source string) (Status, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", &ValidationError{Field: "session_id", Reason: "required"}
	}
	if strings.TrimSpace(userID) == "" {
		return "", &ValidationError{Field: "user_id", Reason: "required"}
	}
	src, err := ParseSource(source)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()

	c.mu.Lock()
	if e, ok := c.sessions[sessionID]; ok {
		c.mu.Unlock()
		e.mu.Lock()
		defer e.mu.Unlock()
		e.lastEvent = now
		c.hub.AckStart(sessionID, e.status)
		return e.status, nil
	}
	c.mu.Unlock()

	// Not tracked. A durable record may still exist: terminal sessions stay
	// rejected, and a non-terminal one (process restart mid-session) is
	// re-registered without a second insert.
	resume := false
	switch stored, err := c.store.SessionStatus(sessionID); {
	case err == nil && stored.Terminal():
		return stored, fmt.Errorf("%w: session is %s", ErrSessionTerminated, stored)
	case err == nil:
		resume = true
	case !errors.Is(err, ErrUnknownSession):
		return "", fmt.Errorf("look up session %s: %w", sessionID, err)
	}

	e := &sessionEntry{
		id:        sessionID,
		userID:    userID,
		source:    src,
		status:    StatusPending,
		startedAt: now,
		lastEvent: now,
		buffer:    NewChunkBuffer(c.cfg.BufferLimit),
	}

	c.mu.Lock()
	if existing, ok := c.sessions[sessionID]; ok {
		// Lost the insert race to a concurrent start.
		c.mu.Unlock()
		existing.mu.Lock()
		st := existing.status
		existing.mu.Unlock()
		c.hub.AckStart(sessionID, st)
		return st, nil
	}
	c.sessions[sessionID] = e
	c.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if !resume {
		if err := c.store.CreateSession(sessionID, userID, src, now); err != nil {
			c.remove(sessionID)
			return "", fmt.Errorf("create session %s: %w", sessionID, err)
		}
	}

	e.status = StatusRecording
	if err := c.store.UpdateStatus(sessionID, StatusRecording); err != nil {
		c.remove(sessionID)
		return "", fmt.Errorf("mark session %s recording: %w", sessionID, err)
	}

	c.hub.AckStart(sessionID, StatusRecording)
	return StatusRecording, nil
}

// Chunk buffers one transcript fragment and dispatches its transcription off
// the acceptance path. Re-delivery of a sequence replaces the earlier chunk.
func (c *Coordinator) Chunk(ctx context.Context, sessionID string, in ChunkInput) (ChunkAck, error) {
	if in.Sequence < 0 {
		return ChunkAck{}, &ValidationError{Field: "sequence", Reason: "must be non-negative"}
	}
	if len(in.Audio) == 0 {
		return ChunkAck{}, &ValidationError{Field: "audio", Reason: "required"}
	}

	e, err := c.lookup(sessionID)
	if err != nil {
		return ChunkAck{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status.Terminal() {
		return ChunkAck{}, fmt.Errorf("%w: session is %s", ErrSessionTerminated, e.status)
	}
	if e.status != StatusRecording && e.status != StatusPaused {
		return ChunkAck{}, fmt.Errorf("%w: session %s is %s, not accepting chunks", ErrUnknownSession, sessionID, e.status)
	}

	chunk := transcribe.Chunk{
		Sequence:  in.Sequence,
		Speaker:   in.Speaker,
		StartedAt: in.StartedAt,
		EndedAt:   in.EndedAt,
	}
	if err := e.buffer.Put(chunk); err != nil {
		return ChunkAck{}, err
	}
	e.lastEvent = time.Now().UTC()

	if c.artifacts != nil {
		if err := c.artifacts.Append(sessionID, in.Audio, in.MimeType); err != nil {
			slog.Warn("audio artifact append failed", "session_id", sessionID, "sequence", in.Sequence, "error", err)
		}
	}

	e.inflight.Add(1)
	go c.transcribeChunk(e, in.Sequence, in.Audio, in.MimeType)

	return ChunkAck{
		Sequence:          in.Sequence,
		ContiguousThrough: e.buffer.ContiguousThrough(),
		Missing:           e.buffer.MissingRanges(),
	}, nil
}

// transcribeChunk runs one gateway call and applies the result through the
// session's serialized mutation path. A gateway failure is absorbed into the
// empty-result sentinel; it never fails the session.
func (c *Coordinator) transcribeChunk(e *sessionEntry, sequence int64, audio []byte, mimeType string) {
	defer e.inflight.Done()

	res := transcribe.EmptyResult()
	if c.transcriber != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.TranscribeTimeout)
		defer cancel()

		c.sem <- struct{}{}
		r, err := c.transcriber.Transcribe(ctx, audio, mimeType)
		<-c.sem

		if err != nil {
			slog.Warn("chunk transcription failed", "session_id", e.id, "sequence", sequence, "error", err)
			c.hub.Error(e.id, ConditionTranscription, fmt.Sprintf("transcription failed for chunk %d", sequence))
		} else {
			res = r
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finalized {
		return
	}
	if !e.buffer.ApplyResult(sequence, res) {
		return
	}

	chunk, _ := e.buffer.Get(sequence)

	// Incremental flush keyed by (session, sequence); the finalization
	// transaction re-upserts the same key, so a failure here only defers.
	if err := c.store.UpsertChunk(e.id, chunk); err != nil {
		slog.Warn("incremental chunk flush failed", "session_id", e.id, "sequence", sequence, "error", err)
	}

	c.hub.TranscriptUpdate(e.id, chunk)
}

// Pause moves a recording session to PAUSED.
func (c *Coordinator) Pause(ctx context.Context, sessionID string) (Status, error) {
	return c.setStatus(sessionID, StatusPaused)
}

// Resume moves a paused session back to RECORDING.
func (c *Coordinator) Resume(ctx context.Context, sessionID string) (Status, error) {
	return c.setStatus(sessionID, StatusRecording)
}

func (c *Coordinator) setStatus(sessionID string, to Status) (Status, error) {
	e, err := c.lookup(sessionID)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := CheckTransition(e.status, to); err != nil {
		return e.status, err
	}

	prev := e.status
	e.status = to
	e.lastEvent = time.Now().UTC()

	if err := c.store.UpdateStatus(sessionID, to); err != nil {
		e.status = prev
		return prev, fmt.Errorf("persist status %s for session %s: %w", to, sessionID, err)
	}

	c.hub.StatusChanged(sessionID, to, nil)
	return to, nil
}

// Stop transitions the session to PROCESSING and runs the finalization
// protocol to a terminal state. It returns once the session is COMPLETED or
// FAILED; the outcome is also broadcast.
func (c *Coordinator) Stop(ctx context.Context, sessionID string) error {
	e, err := c.lookup(sessionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if err := CheckTransition(e.status, StatusProcessing); err != nil {
		e.mu.Unlock()
		return err
	}
	e.status = StatusProcessing
	e.endedAt = time.Now().UTC()
	e.mu.Unlock()

	c.hub.StatusChanged(sessionID, StatusProcessing, nil)
	c.finalize(ctx, e)
	return nil
}

// finalize implements the stop protocol: drain in-flight transcriptions with
// a deadline, persist everything in one transaction, then report the terminal
// state. The buffer is discarded on both outcomes.
func (c *Coordinator) finalize(ctx context.Context, e *sessionEntry) {
	if !waitTimeout(&e.inflight, c.cfg.DrainTimeout) {
		slog.Warn("finalize drain timed out, proceeding with landed chunks", "session_id", e.id, "timeout", c.cfg.DrainTimeout)
	}

	audioPath := ""
	if c.artifacts != nil {
		path, err := c.artifacts.Finalize(e.id)
		if err != nil {
			slog.Warn("audio artifact finalize failed", "session_id", e.id, "error", err)
		} else {
			audioPath = path
		}
	}

	e.mu.Lock()
	chunks := e.buffer.Ordered()
	endedAt := e.endedAt
	e.mu.Unlock()

	if err := c.store.EndSession(e.id, endedAt, audioPath); err != nil {
		c.failFinalization(e, fmt.Errorf("end session: %w", err))
		return
	}

	transcript := transcribe.JoinTranscript(chunks)

	var sum *summary.Result
	if transcript != "" && c.summarizer != nil {
		res, err := c.summarizer.Summarize(ctx, e.id, transcript)
		if err != nil {
			slog.Warn("summarization degraded", "session_id", e.id, "error", err)
			c.hub.Error(e.id, ConditionSummarization, "summary generation failed; transcript preserved")
		}
		sum = &res
	}

	if err := c.store.FinalizeSession(e.id, chunks, sum); err != nil {
		c.failFinalization(e, fmt.Errorf("finalize session: %w", err))
		return
	}

	e.mu.Lock()
	e.status = StatusCompleted
	e.finalized = true
	e.buffer = NewChunkBuffer(c.cfg.BufferLimit)
	e.mu.Unlock()

	c.hub.StatusChanged(e.id, StatusCompleted, sum)

	if c.exporter != nil {
		if err := c.exporter.Export(e.id, chunks); err != nil {
			slog.Warn("transcript export failed", "session_id", e.id, "error", err)
		}
	}

	c.remove(e.id)
}

func (c *Coordinator) failFinalization(e *sessionEntry, err error) {
	slog.Error("finalization failed", "session_id", e.id, "error", err)

	e.mu.Lock()
	e.status = StatusFailed
	e.finalized = true
	e.buffer = NewChunkBuffer(c.cfg.BufferLimit)
	e.mu.Unlock()

	// A failed session keeps no audio artifact; the recorder still knows
	// the finalized path at this point.
	if c.artifacts != nil {
		c.artifacts.Discard(e.id)
	}

	if uerr := c.store.UpdateStatus(e.id, StatusFailed); uerr != nil {
		slog.Error("could not persist failed status", "session_id", e.id, "error", uerr)
	}

	c.hub.Error(e.id, ConditionPersistence, err.Error())
	c.hub.StatusChanged(e.id, StatusFailed, nil)
	c.remove(e.id)
}

// Run drives the idle-session reaper until ctx is canceled. Sessions with no
// inbound event for IdleTimeout are marked interrupted and force-stopped
// through the normal finalization protocol.
func (c *Coordinator) Run(ctx context.Context) {
	if c.cfg.IdleTimeout <= 0 {
		<-ctx.Done()
		return
	}

	interval := c.cfg.IdleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reapIdle(ctx)
		}
	}
}

func (c *Coordinator) reapIdle(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-c.cfg.IdleTimeout)

	c.mu.Lock()
	var stale []*sessionEntry
	for _, e := range c.sessions {
		stale = append(stale, e)
	}
	c.mu.Unlock()

	for _, e := range stale {
		e.mu.Lock()
		idle := (e.status == StatusRecording || e.status == StatusPaused) && e.lastEvent.Before(cutoff)
		e.mu.Unlock()
		if !idle {
			continue
		}

		slog.Warn("reaping idle session", "session_id", e.id, "idle_timeout", c.cfg.IdleTimeout)
		if err := c.store.MarkInterrupted(e.id, time.Now().UTC()); err != nil {
			slog.Warn("mark interrupted failed", "session_id", e.id, "error", err)
		}
		if err := c.Stop(ctx, e.id); err != nil {
			slog.Warn("idle session stop failed", "session_id", e.id, "error", err)
		}
	}
}

// Shutdown force-stops every active session, recording the interruption.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.mu.Lock()
	var active []*sessionEntry
	for _, e := range c.sessions {
		active = append(active, e)
	}
	c.mu.Unlock()

	for _, e := range active {
		e.mu.Lock()
		stoppable := e.status == StatusRecording || e.status == StatusPaused
		e.mu.Unlock()
		if !stoppable {
			continue
		}

		if err := c.store.MarkInterrupted(e.id, time.Now().UTC()); err != nil {
			slog.Warn("mark interrupted failed", "session_id", e.id, "error", err)
		}
		if err := c.Stop(ctx, e.id); err != nil {
			slog.Warn("shutdown stop failed", "session_id", e.id, "error", err)
		}
	}
}

// ActiveSessions returns the number of tracked, non-terminal sessions.
func (c *Coordinator) ActiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// lookup resolves a session id to its registry entry, distinguishing a
// finished session from one that was never seen.
func (c *Coordinator) lookup(sessionID string) (*sessionEntry, error) {
	c.mu.Lock()
	e, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if ok {
		return e, nil
	}

	stored, err := c.store.SessionStatus(sessionID)
	switch {
	case err == nil && stored.Terminal():
		return nil, fmt.Errorf("%w: session is %s", ErrSessionTerminated, stored)
	case err == nil:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	case errors.Is(err, ErrUnknownSession):
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	default:
		return nil, fmt.Errorf("look up session %s: %w", sessionID, err)
	}
}

func (c *Coordinator) remove(sessionID string) {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	if d <= 0 {
		<-done
		return true
	}

	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
