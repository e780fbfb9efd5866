// Text-to-speech adapter for a Wyoming-style service speaking a framed
// binary protocol over TCP: each event is a JSON header line (type, data,
// payload_length) followed by payload_length raw bytes. A synthesis exchange
// is synthesize → audio-chunk* → audio-stop.
package speech

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/averbeck/go-deutsch-backend/internal/config"
	"github.com/averbeck/go-deutsch-backend/internal/sysutil"
)

// ErrTTSUnavailable indicates the TTS service was unreachable or the framed
// exchange failed. The engine recovers from it with a silence fallback.
var ErrTTSUnavailable = errors.New("tts service unavailable")

// Wyoming event types used by the synthesis exchange.
const (
	eventSynthesize = "synthesize"
	eventAudioChunk = "audio-chunk"
	eventAudioStop  = "audio-stop"
)

// minAudioPayload is the threshold below which a response is considered
// unusable and replaced by the silence fallback.
const minAudioPayload = 100

// silenceSecondsPerRune sizes the fallback clip relative to the text length.
const silenceSecondsPerRune = 0.1

// event is the framed protocol header. PayloadLength counts the raw bytes
// that immediately follow the header line.
type event struct {
	Type          string          `json:"type"`
	Data          json.RawMessage `json:"data,omitempty"`
	PayloadLength int             `json:"payload_length,omitempty"`
}

// synthesizeData is the payload of a synthesize request.
type synthesizeData struct {
	Text  string     `json:"text"`
	Voice *voiceData `json:"voice,omitempty"`
}

type voiceData struct {
	Name string `json:"name"`
}

// Dialer opens the transport connection; injectable for tests (net.Pipe).
type Dialer func(ctx context.Context) (net.Conn, error)

// TTSClient synthesizes speech over the framed protocol. Safe for concurrent
// use: every Synthesize call opens its own connection.
type TTSClient struct {
	dial       Dialer
	voice      string
	sampleRate int
	timeout    time.Duration
}

// NewTTS constructs a TTSClient from configuration, dialing cfg.Addr per
// synthesis request.
func NewTTS(cfg config.TTSConfig) *TTSClient {
	d := &net.Dialer{Timeout: cfg.Timeout}
	return &TTSClient{
		dial: func(ctx context.Context) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", cfg.Addr)
		},
		voice:      cfg.Voice,
		sampleRate: cfg.SampleRate,
		timeout:    cfg.Timeout,
	}
}

// NewTTSWithDialer constructs a TTSClient over a custom transport (tests).
func NewTTSWithDialer(dial Dialer, voice string, sampleRate int, timeout time.Duration) *TTSClient {
	return &TTSClient{dial: dial, voice: voice, sampleRate: sampleRate, timeout: timeout}
}

// SampleRate returns the configured output sample rate.
func (c *TTSClient) SampleRate() int { return c.sampleRate }

// Silence returns the fallback clip for text: a playable silent WAV whose
// duration tracks the text length.
func (c *TTSClient) Silence(text string) []byte {
	return SilenceWAV(silenceSecondsPerRune*float64(len([]rune(text))), c.sampleRate)
}

// Synthesize converts text to a playable WAV. voice overrides the configured
// default when non-empty. Payloads under minAudioPayload bytes are replaced
// by the silence fallback (never an error); raw PCM gains the canonical WAV
// header.
func (c *TTSClient) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", ErrTTSUnavailable, err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	go func() {
		// Unblocks reads when the caller cancels mid-exchange.
		<-ctx.Done()
		_ = conn.SetDeadline(time.Now())
	}()

	voice = sysutil.FirstNonEmpty(voice, c.voice)
	if err := writeEvent(conn, eventSynthesize, synthesizeData{Text: text, Voice: &voiceData{Name: voice}}, nil); err != nil {
		return nil, fmt.Errorf("%w: write: %v", ErrTTSUnavailable, err)
	}

	audio, err := readAudio(bufio.NewReader(conn))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTTSUnavailable, err)
	}
	if len(audio) < minAudioPayload {
		return c.Silence(text), nil
	}
	return EnsureWAV(audio, c.sampleRate), nil
}

// SynthesizeBase64 synthesizes text and returns the WAV as base64 for JSON
// transport.
func (c *TTSClient) SynthesizeBase64(ctx context.Context, text, voice string) (string, error) {
	audio, err := c.Synthesize(ctx, text, voice)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(audio), nil
}

// writeEvent frames one event: JSON header line, then the raw payload.
func writeEvent(w io.Writer, typ string, data any, payload []byte) error {
	ev := event{Type: typ, PayloadLength: len(payload)}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		ev.Data = raw
	}
	head, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(head, '\n')); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// readAudio consumes events until audio-stop, accumulating audio-chunk
// payloads. Unknown event types are skipped (their payloads consumed).
func readAudio(r *bufio.Reader) ([]byte, error) {
	var audio []byte
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			return nil, fmt.Errorf("read header: %v", err)
		}
		var ev event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("decode header: %v", err)
		}
		payload := make([]byte, ev.PayloadLength)
		if ev.PayloadLength > 0 {
			if _, err := io.ReadFull(r, payload); err != nil {
				return nil, fmt.Errorf("read payload: %v", err)
			}
		}
		switch ev.Type {
		case eventAudioChunk:
			audio = append(audio, payload...)
		case eventAudioStop:
			return audio, nil
		}
	}
}
