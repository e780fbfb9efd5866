package speech

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestWAVHeader_Layout(t *testing.T) {
	h := WAVHeader(1000, 22050)
	if len(h) != 44 {
		t.Fatalf("header length = %d; want 44", len(h))
	}
	if string(h[0:4]) != "RIFF" || string(h[8:12]) != "WAVE" || string(h[36:40]) != "data" {
		t.Fatalf("bad chunk markers: %q %q %q", h[0:4], h[8:12], h[36:40])
	}
	if got := binary.LittleEndian.Uint32(h[4:8]); got != 1036 {
		t.Fatalf("riff size = %d; want 1036", got)
	}
	if got := binary.LittleEndian.Uint16(h[22:24]); got != 1 {
		t.Fatalf("channels = %d; want mono", got)
	}
	if got := binary.LittleEndian.Uint32(h[24:28]); got != 22050 {
		t.Fatalf("sample rate = %d", got)
	}
	if got := binary.LittleEndian.Uint16(h[34:36]); got != 16 {
		t.Fatalf("bits per sample = %d", got)
	}
	if got := binary.LittleEndian.Uint32(h[40:44]); got != 1000 {
		t.Fatalf("data size = %d; want 1000", got)
	}
}

func TestHasWAVHeader(t *testing.T) {
	if !HasWAVHeader(WAVHeader(0, 16000)) {
		t.Fatalf("canonical header not recognized")
	}
	if HasWAVHeader([]byte("RIFFxxxx")) {
		t.Fatalf("short data must not be recognized")
	}
	if HasWAVHeader(make([]byte, 64)) {
		t.Fatalf("zero bytes must not be recognized")
	}
}

func TestEnsureWAV(t *testing.T) {
	pcm := bytes.Repeat([]byte{0x01, 0x02}, 50)
	out := EnsureWAV(pcm, 22050)
	if !HasWAVHeader(out) {
		t.Fatalf("header missing after EnsureWAV")
	}
	if !bytes.Equal(out[44:], pcm) {
		t.Fatalf("payload altered")
	}
	again := EnsureWAV(out, 22050)
	if !bytes.Equal(again, out) {
		t.Fatalf("already framed data must pass through unchanged")
	}
}

func TestSilenceWAV(t *testing.T) {
	out := SilenceWAV(0.5, 16000)
	if !HasWAVHeader(out) {
		t.Fatalf("silence clip must be a playable WAV")
	}
	wantPCM := int(0.5*16000) * 2
	if got := len(out) - 44; got != wantPCM {
		t.Fatalf("pcm bytes = %d; want %d", got, wantPCM)
	}
	for _, b := range out[44:] {
		if b != 0 {
			t.Fatalf("silence payload must be all zeros")
		}
	}
	if got := len(SilenceWAV(-1, 16000)); got != 44 {
		t.Fatalf("negative duration must yield empty clip, got %d bytes", got)
	}
}
