package transcribe

import (
	"fmt"
	"strings"
	"time"
)

// Chunk is one bounded fragment of a recording session. Sequence is assigned
// by the client and is unique within a session; text and confidence are filled
// in once transcription completes.
type Chunk struct {
	Sequence   int64     `json:"sequence"`
	Speaker    string    `json:"speaker"`
	Text       string    `json:"text"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	Confidence float64   `json:"confidence"`
}

// Result is the outcome of transcribing one chunk's audio.
type Result struct {
	Text       string
	Speaker    string
	Confidence float64
}

// EmptyResult is the sentinel applied when the transcription capability fails:
// the chunk stays in the session with no text rather than aborting anything.
func EmptyResult() Result {
	return Result{}
}

// JoinTranscript builds the session transcript from sequence-ordered chunks.
// Chunks whose transcription produced no text are skipped so the transcript
// has no blank lines.
func JoinTranscript(chunks []Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(text)
	}
	return b.String()
}

func (c Chunk) FormatMarkdown() string {
	speaker := c.Speaker
	if speaker == "" {
		speaker = "unknown"
	}
	ts := c.StartedAt.Format("15:04:05")
	return fmt.Sprintf("**[%s] %s:** %s", ts, speaker, strings.TrimSpace(c.Text))
}
