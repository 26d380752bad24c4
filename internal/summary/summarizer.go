package summary

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/echoscribe/echoscribe/internal/llm"
)

// Result is the structured summary produced at finalization. Degraded marks a
// summary whose provider output did not parse into the three-field contract;
// the raw output is preserved in KeyPoints in that case.
type Result struct {
	KeyPoints   string `json:"key_points"`
	ActionItems string `json:"action_items"`
	Decisions   string `json:"decisions"`
	Degraded    bool   `json:"degraded"`
}

// ClientFactory builds an LLM client for a provider/model pair.
type ClientFactory func(provider, model string) (llm.Client, error)

// IdempotencyStore de-duplicates summary requests across finalization
// retries, so a crash-recovery re-run never spends a second LLM call.
type IdempotencyStore interface {
	ClaimSummaryRequest(sessionID, transcriptHash string) (bool, error)
	GetSummary(sessionID string) (*Result, error)
}

type Summarizer struct {
	model   string
	factory ClientFactory
	store   IdempotencyStore
	sleep   func(time.Duration)
}

const systemPrompt = `You summarize meeting and recording transcripts. Reply with a single JSON object with exactly these string fields:
- "key_points": the main topics and takeaways
- "action_items": concrete follow-ups with owners where stated
- "decisions": decisions that were made

Use an empty string for a field with nothing to report. Do not add any other fields or prose outside the JSON object.`

// New creates a Summarizer. model is a provider/model routing string such as
// "openai/gpt-4o-mini". store may be nil to disable request de-duplication.
func New(model string, factory ClientFactory, store IdempotencyStore) *Summarizer {
	if factory == nil {
		factory = func(provider, modelName string) (llm.Client, error) {
			return nil, fmt.Errorf("no llm client factory configured")
		}
	}
	return &Summarizer{
		model:   model,
		factory: factory,
		store:   store,
		sleep:   time.Sleep,
	}
}

// Summarize produces the structured summary for a session transcript. The
// returned Result is always usable: unparseable provider output degrades to
// the raw text in KeyPoints with Degraded set, and a provider failure after
// retries returns a zero Degraded Result alongside the error so the caller
// can persist something and report the failure without aborting finalization.
func (s *Summarizer) Summarize(ctx context.Context, sessionID, transcript string) (Result, error) {
	if strings.TrimSpace(transcript) == "" {
		return Result{}, nil
	}

	hash := sha256.Sum256([]byte(transcript))
	transcriptHash := hex.EncodeToString(hash[:])

	if s.store != nil {
		claimed, err := s.store.ClaimSummaryRequest(sessionID, transcriptHash)
		if err != nil {
			return Result{Degraded: true}, fmt.Errorf("claim summary request: %w", err)
		}
		if !claimed {
			// A previous finalization attempt already requested this exact
			// transcript; reuse its summary if it survived.
			existing, err := s.store.GetSummary(sessionID)
			if err == nil && existing != nil {
				return *existing, nil
			}
			slog.Warn("summary request already claimed but no stored summary, re-running", "session_id", sessionID)
		}
	}

	provider, model, err := llm.ParseModel(s.model)
	if err != nil {
		return Result{Degraded: true}, err
	}

	client, err := s.factory(provider, model)
	if err != nil {
		return Result{Degraded: true}, fmt.Errorf("create llm client: %w", err)
	}

	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: transcript},
	}

	backoff := []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}
	var lastErr error
	for attempt := range backoff {
		raw, err := client.Complete(ctx, messages)
		if err == nil {
			return parseResult(raw), nil
		}
		lastErr = err
		if attempt < len(backoff)-1 {
			s.sleep(backoff[attempt])
		}
	}

	return Result{Degraded: true}, fmt.Errorf("summarize failed after retries: %w", lastErr)
}

// parseResult decodes the provider output into the three-field contract,
// degrading to the raw text when it does not parse.
func parseResult(raw string) Result {
	cleaned := stripCodeFence(strings.TrimSpace(raw))

	var parsed struct {
		KeyPoints   string `json:"key_points"`
		ActionItems string `json:"action_items"`
		Decisions   string `json:"decisions"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		slog.Warn("summary output did not parse, degrading to raw text", "error", err)
		return Result{KeyPoints: strings.TrimSpace(raw), Degraded: true}
	}

	return Result{
		KeyPoints:   strings.TrimSpace(parsed.KeyPoints),
		ActionItems: strings.TrimSpace(parsed.ActionItems),
		Decisions:   strings.TrimSpace(parsed.Decisions),
	}
}

// stripCodeFence unwraps a ```json ... ``` fenced block, which some models
// emit even when asked for bare JSON.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
