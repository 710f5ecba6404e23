package transcription

import (
	"context"
	"fmt"
)

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioRef string) (string, error)
}

// PlaceholderTranscriber returns canned text. It stands in until a speech
// backend is chosen.
type PlaceholderTranscriber struct{}

func (PlaceholderTranscriber) Transcribe(_ context.Context, audioRef string) (string, error) {
	return fmt.Sprintf("[placeholder transcript for %s]", audioRef), nil
}
