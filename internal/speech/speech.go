// Package speech wraps the speech-to-text collaborator. Audio format
// conversion is out of scope; the recognizer receives a URL to an
// already-playable clip and returns a transcript with the provider's
// confidence, which drives the auto-accept decision upstream.
package speech

import "context"

// Transcript is one recognition result.
type Transcript struct {
	Text       string
	Confidence float64
	Seconds    float64
	URL        string
}

type Recognizer interface {
	Transcribe(ctx context.Context, audioURL string) (*Transcript, error)
}
