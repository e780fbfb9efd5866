package speech

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"
)

// fakeTTSServer answers one framed synthesis exchange on the server side of a
// net.Pipe, returning the synthesize request it saw.
func fakeTTSServer(t *testing.T, conn net.Conn, chunks [][]byte, reqCh chan<- event) {
	t.Helper()
	defer conn.Close()
	r := bufio.NewReader(conn)
	line, err := r.ReadBytes('\n')
	if err != nil {
		return
	}
	var req event
	if err := json.Unmarshal(line, &req); err != nil {
		t.Errorf("decode synthesize: %v", err)
		return
	}
	reqCh <- req
	for _, ch := range chunks {
		if err := writeEvent(conn, eventAudioChunk, nil, ch); err != nil {
			return
		}
	}
	_ = writeEvent(conn, eventAudioStop, nil, nil)
}

func pipeClient(t *testing.T, chunks [][]byte, reqCh chan<- event) *TTSClient {
	t.Helper()
	dial := func(ctx context.Context) (net.Conn, error) {
		client, server := net.Pipe()
		go fakeTTSServer(t, server, chunks, reqCh)
		return client, nil
	}
	return NewTTSWithDialer(dial, "thorsten", 22050, 5*time.Second)
}

func TestSynthesize_AssemblesChunksAndFramesWAV(t *testing.T) {
	pcm1 := bytes.Repeat([]byte{0x10}, 80)
	pcm2 := bytes.Repeat([]byte{0x20}, 80)
	reqCh := make(chan event, 1)
	c := pipeClient(t, [][]byte{pcm1, pcm2}, reqCh)

	audio, err := c.Synthesize(context.Background(), "Guten Morgen!", "")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !HasWAVHeader(audio) {
		t.Fatalf("result must carry a WAV header")
	}
	want := append(append([]byte{}, pcm1...), pcm2...)
	if !bytes.Equal(audio[44:], want) {
		t.Fatalf("payload mismatch: got %d bytes, want %d", len(audio)-44, len(want))
	}

	req := <-reqCh
	if req.Type != eventSynthesize {
		t.Fatalf("request type = %q", req.Type)
	}
	var data synthesizeData
	if err := json.Unmarshal(req.Data, &data); err != nil {
		t.Fatalf("request data: %v", err)
	}
	if data.Text != "Guten Morgen!" || data.Voice == nil || data.Voice.Name != "thorsten" {
		t.Fatalf("request data = %+v", data)
	}
}

func TestSynthesize_VoiceOverride(t *testing.T) {
	reqCh := make(chan event, 1)
	c := pipeClient(t, [][]byte{bytes.Repeat([]byte{1}, 200)}, reqCh)

	if _, err := c.Synthesize(context.Background(), "Hallo", "eva_k"); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	var data synthesizeData
	req := <-reqCh
	if err := json.Unmarshal(req.Data, &data); err != nil {
		t.Fatalf("request data: %v", err)
	}
	if data.Voice.Name != "eva_k" {
		t.Fatalf("voice = %q; want override", data.Voice.Name)
	}
}

func TestSynthesize_WAVResponsePassesThrough(t *testing.T) {
	framed := EnsureWAV(bytes.Repeat([]byte{7}, 400), 22050)
	reqCh := make(chan event, 1)
	c := pipeClient(t, [][]byte{framed}, reqCh)

	audio, err := c.Synthesize(context.Background(), "Hallo", "")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !bytes.Equal(audio, framed) {
		t.Fatalf("already framed audio must not gain a second header")
	}
}

func TestSynthesize_TinyPayloadBecomesSilence(t *testing.T) {
	reqCh := make(chan event, 1)
	c := pipeClient(t, [][]byte{{1, 2, 3}}, reqCh)

	text := "Zehn Runen!" // 11 runes, 1.1s of silence
	audio, err := c.Synthesize(context.Background(), text, "")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !HasWAVHeader(audio) {
		t.Fatalf("silence fallback must be a playable WAV")
	}
	wantPCM := int(0.1*float64(len([]rune(text)))*22050) * 2
	if got := len(audio) - 44; got != wantPCM {
		t.Fatalf("silence pcm = %d bytes; want %d", got, wantPCM)
	}
	for _, b := range audio[44:] {
		if b != 0 {
			t.Fatalf("silence payload must be zero")
		}
	}
}

func TestSynthesize_DialFailureIsUnavailable(t *testing.T) {
	c := NewTTSWithDialer(func(ctx context.Context) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}, "thorsten", 22050, time.Second)

	_, err := c.Synthesize(context.Background(), "Hallo", "")
	if !errors.Is(err, ErrTTSUnavailable) {
		t.Fatalf("expected ErrTTSUnavailable, got %v", err)
	}
}

func TestSynthesize_TruncatedExchangeIsUnavailable(t *testing.T) {
	dial := func(ctx context.Context) (net.Conn, error) {
		client, server := net.Pipe()
		go func() {
			defer server.Close()
			r := bufio.NewReader(server)
			if _, err := r.ReadBytes('\n'); err != nil {
				return
			}
			// One chunk, then hang up without audio-stop.
			_ = writeEvent(server, eventAudioChunk, nil, bytes.Repeat([]byte{1}, 50))
		}()
		return client, nil
	}
	c := NewTTSWithDialer(dial, "thorsten", 22050, time.Second)

	_, err := c.Synthesize(context.Background(), "Hallo", "")
	if !errors.Is(err, ErrTTSUnavailable) {
		t.Fatalf("expected ErrTTSUnavailable, got %v", err)
	}
}

func TestSynthesizeBase64(t *testing.T) {
	reqCh := make(chan event, 1)
	c := pipeClient(t, [][]byte{bytes.Repeat([]byte{9}, 300)}, reqCh)

	out, err := c.SynthesizeBase64(context.Background(), "Hallo", "")
	if err != nil {
		t.Fatalf("SynthesizeBase64: %v", err)
	}
	if out == "" {
		t.Fatalf("empty base64 output")
	}
}
