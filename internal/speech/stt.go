// Speech-to-text adapter for a Whisper-compatible HTTP service exposing /asr.
package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/averbeck/go-deutsch-backend/internal/config"
)

// ErrSTTUnavailable indicates the STT service was unreachable or returned a
// non-success response.
var ErrSTTUnavailable = errors.New("stt service unavailable")

// ErrNoSpeech indicates the audio decoded to zero bytes or the service
// produced an empty transcript.
var ErrNoSpeech = errors.New("no speech detected")

// Transcript is the STT result.
type Transcript struct {
	Text             string `json:"text"`
	DetectedLanguage string `json:"language,omitempty"`
}

// STTClient calls the external transcription service. Safe for concurrent
// use; construct once at startup.
type STTClient struct {
	httpc    *http.Client
	baseURL  string
	language string
}

// NewSTT constructs an STTClient from configuration.
func NewSTT(cfg config.STTConfig) *STTClient {
	return &STTClient{
		httpc:    &http.Client{Timeout: cfg.Timeout},
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		language: cfg.Language,
	}
}

// Transcribe sends audio bytes to the service and returns the transcript.
// The request is a multipart POST to /asr with task=transcribe, the
// configured language, and JSON output; a non-JSON response body is treated
// as the plain-text transcript.
func (c *STTClient) Transcribe(ctx context.Context, audio []byte) (*Transcript, error) {
	if len(audio) == 0 {
		return nil, ErrNoSpeech
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("audio_file", "audio.wav")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("task", "transcribe")
	q.Set("language", c.language)
	q.Set("output", "json")
	q.Set("encode", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/asr?"+q.Encode(), &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSTTUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrSTTUnavailable, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSTTUnavailable, err)
	}

	var t Transcript
	if err := json.Unmarshal(raw, &t); err != nil {
		// Plain-text fallback: treat the whole body as the transcript.
		t = Transcript{Text: string(raw)}
	}
	t.Text = strings.TrimSpace(t.Text)
	if t.Text == "" {
		return nil, ErrNoSpeech
	}
	if t.DetectedLanguage == "" {
		t.DetectedLanguage = c.language
	}
	return &t, nil
}

// TranscribeBase64 decodes base64 audio and delegates to Transcribe.
// Undecodable or empty input maps to ErrNoSpeech.
func (c *STTClient) TranscribeBase64(ctx context.Context, encoded string) (*Transcript, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil || len(data) == 0 {
		return nil, ErrNoSpeech
	}
	return c.Transcribe(ctx, data)
}
