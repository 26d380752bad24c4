package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	listenapi "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// Gateway turns one chunk's audio into text. Implementations must be safe for
// concurrent use; calls for different chunks carry no ordering constraint.
type Gateway interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (Result, error)
}

// Deepgram transcribes chunk audio through the Deepgram prerecorded REST API.
type Deepgram struct {
	dg    *listenapi.Client
	model string
}

func NewDeepgram(apiKey, model string) *Deepgram {
	if strings.TrimSpace(model) == "" {
		model = "nova-2"
	}

	c := client.NewREST(apiKey, &interfaces.ClientOptions{})
	return &Deepgram{dg: listenapi.New(c), model: model}
}

func (d *Deepgram) Transcribe(ctx context.Context, audio []byte, mimeType string) (Result, error) {
	if len(audio) == 0 {
		return Result{}, fmt.Errorf("empty audio payload")
	}

	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       d.model,
		Language:    "en-US",
		Punctuate:   true,
		SmartFormat: true,
		Diarize:     true,
	}

	// Deepgram sniffs the container format from the payload itself, so the
	// declared mime type is advisory only.
	_ = mimeType

	res, err := d.dg.FromStream(ctx, bytes.NewReader(audio), options)
	if err != nil {
		return Result{}, fmt.Errorf("deepgram transcription: %w", err)
	}

	if len(res.Results.Channels) == 0 || len(res.Results.Channels[0].Alternatives) == 0 {
		return Result{}, nil
	}

	alt := res.Results.Channels[0].Alternatives[0]
	return Result{
		Text:       strings.TrimSpace(alt.Transcript),
		Confidence: alt.Confidence,
	}, nil
}
