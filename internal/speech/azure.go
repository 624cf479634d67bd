package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// AzureRecognizer calls the Azure cognitive-services short-audio
// recognition endpoint in detailed mode, so a real confidence value comes
// back instead of the flat 1.0 of the simple mode.
type AzureRecognizer struct {
	client *http.Client
	key    string
	region string
	logger *zap.Logger
}

func NewAzureRecognizer(key, region string, logger *zap.Logger) *AzureRecognizer {
	return &AzureRecognizer{
		client: &http.Client{Timeout: 60 * time.Second},
		key:    key,
		region: region,
		logger: logger,
	}
}

type azureResult struct {
	RecognitionStatus string `json:"RecognitionStatus"`
	DisplayText       string `json:"DisplayText"`
	Duration          int64  `json:"Duration"`
	NBest             []struct {
		Display    string  `json:"Display"`
		Confidence float64 `json:"Confidence"`
	} `json:"NBest"`
}

func (r *AzureRecognizer) Transcribe(ctx context.Context, audioURL string) (*Transcript, error) {
	audio, err := r.fetchAudio(ctx, audioURL)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("https://%s.stt.speech.microsoft.com/speech/recognition/conversation/cognitiveservices/v1?language=en-US&format=detailed", r.region)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("failed to build recognition request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", r.key)
	req.Header.Set("Content-Type", "audio/wav; codecs=audio/pcm; samplerate=16000")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recognition request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("recognizer returned status %d: %s", resp.StatusCode, raw)
	}

	var result azureResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode recognition result: %w", err)
	}

	if result.RecognitionStatus != "Success" {
		return nil, fmt.Errorf("incomplete transcript, recognition status %q", result.RecognitionStatus)
	}

	transcript := &Transcript{
		URL: audioURL,
		// Duration is reported in 100ns ticks.
		Seconds: float64(result.Duration) / 1e7,
	}

	switch {
	case len(result.NBest) > 0:
		transcript.Text = result.NBest[0].Display
		transcript.Confidence = result.NBest[0].Confidence
	case result.DisplayText != "":
		transcript.Text = result.DisplayText
		transcript.Confidence = 1.0
	default:
		return nil, fmt.Errorf("recognizer returned no transcript")
	}

	return transcript, nil
}

func (r *AzureRecognizer) fetchAudio(ctx context.Context, audioURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build audio request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("audio fetch returned status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
